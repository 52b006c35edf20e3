package thingsboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultHistoryLimit is the sample cap used by HistoricalSeries.
const DefaultHistoryLimit = 1000

// Kind identifies which variant a Value holds.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is a telemetry value: a number, a string or a bool, fixed when the
// JSON is decoded.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
}

// NumberValue returns a numeric Value.
func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind returns the variant held.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value was absent or JSON null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Float reads the value as a number. Strings are parsed; booleans map to
// 1 and 0. ok is false for null and unparseable strings.
func (v Value) Float() (f float64, ok bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		return f, err == nil
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Bool reads the value as a boolean. Strings "true"/"false" (any case) and
// numbers (non-zero is true) are accepted.
func (v Value) Bool() (b bool, ok bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindString:
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v.str)))
		return b, err == nil
	case KindNumber:
		return v.num != 0, true
	default:
		return false, false
	}
}

// String renders the value for display.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// UnmarshalJSON decodes a JSON scalar into the matching variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*v = Value{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case bytes.Equal(data, []byte("true")):
		*v = BoolValue(true)
	case bytes.Equal(data, []byte("false")):
		*v = BoolValue(false)
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("telemetry value %s is not a scalar", data)
		}
		*v = NumberValue(f)
	}
	return nil
}

// MarshalJSON emits the native JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// Point is one telemetry reading.
type Point struct {
	Timestamp int64 `json:"ts"`
	Value     Value `json:"value"`
}

// Time returns the timestamp as a time.Time.
func (p Point) Time() time.Time { return time.UnixMilli(p.Timestamp) }

// UnmarshalJSON accepts the ThingsBoard object form {"ts": ..., "value": ...}
// and the tuple form [ts, value].
func (p *Point) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var tuple []json.RawMessage
		if err := json.Unmarshal(data, &tuple); err != nil {
			return err
		}
		if len(tuple) != 2 {
			return fmt.Errorf("telemetry tuple has %d elements, want 2", len(tuple))
		}
		if err := json.Unmarshal(tuple[0], &p.Timestamp); err != nil {
			return fmt.Errorf("telemetry timestamp: %w", err)
		}
		return p.Value.UnmarshalJSON(tuple[1])
	}

	var obj struct {
		Timestamp int64 `json:"ts"`
		Value     Value `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	p.Timestamp, p.Value = obj.Timestamp, obj.Value
	return nil
}

// Telemetry maps a key to its points in backend order.
type Telemetry map[string][]Point

// Latest returns the first point for key, which is the newest for a
// latest-values query.
func (t Telemetry) Latest(key string) (Point, bool) {
	pts := t[key]
	if len(pts) == 0 {
		return Point{}, false
	}
	return pts[0], true
}

// Sample is a numeric historical reading.
type Sample struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Range is an inclusive time window in epoch milliseconds.
type Range struct {
	StartTs int64 `json:"startTs"`
	EndTs   int64 `json:"endTs"`
}

// RangeOf builds a Range from two times.
func RangeOf(start, end time.Time) Range {
	return Range{StartTs: start.UnixMilli(), EndTs: end.UnixMilli()}
}

// LastRange returns the window ending now and spanning d.
func LastRange(d time.Duration) Range {
	now := time.Now()
	return RangeOf(now.Add(-d), now)
}

// Validate checks the window is well formed.
func (r Range) Validate() error {
	if r.StartTs < 0 || r.EndTs < 0 {
		return &ValidationError{Field: "range", Message: "timestamps must not be negative"}
	}
	if r.StartTs > r.EndTs {
		return &ValidationError{Field: "range", Message: "start is after end"}
	}
	return nil
}

// Series is a chart-ready historical series.
type Series struct {
	DeviceID   string   `json:"deviceId"`
	DeviceName string   `json:"deviceName"`
	Key        string   `json:"key"`
	Points     []Sample `json:"dataPoints"`
	Unit       string   `json:"unit,omitempty"`
}

// UnknownDeviceName labels a series whose device record was not supplied.
const UnknownDeviceName = "Unknown Device"

func telemetryPath(deviceID string) string {
	return "/plugins/telemetry/DEVICE/" + url.PathEscape(deviceID) + "/values/timeseries"
}

// LatestTelemetry fetches the latest values for keys. Points keep backend
// order and values keep their JSON type.
func (c *Client) LatestTelemetry(ctx context.Context, deviceID string, keys []string) (Telemetry, error) {
	if deviceID == "" {
		return nil, &ValidationError{Field: "deviceId", Message: "is required"}
	}
	if len(keys) == 0 {
		return nil, &ValidationError{Field: "keys", Message: "at least one key is required"}
	}

	t := Telemetry{}
	if err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   telemetryPath(deviceID),
		Query:  url.Values{"keys": {strings.Join(keys, ",")}},
		Op:     "latestTelemetry",
	}, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// HistoricalTelemetry fetches raw (unaggregated) samples for one key within
// r, ascending by timestamp and at most limit long. String-encoded numbers
// are parsed; a value that cannot be read as a number fails the call with
// ErrNonNumeric.
func (c *Client) HistoricalTelemetry(ctx context.Context, deviceID, key string, r Range, limit int) ([]Sample, error) {
	switch {
	case deviceID == "":
		return nil, &ValidationError{Field: "deviceId", Message: "is required"}
	case key == "":
		return nil, &ValidationError{Field: "key", Message: "is required"}
	case limit < 1:
		return nil, &ValidationError{Field: "limit", Message: "must be at least 1"}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	t := Telemetry{}
	if err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   telemetryPath(deviceID),
		Query: url.Values{
			"keys":    {key},
			"startTs": {strconv.FormatInt(r.StartTs, 10)},
			"endTs":   {strconv.FormatInt(r.EndTs, 10)},
			"limit":   {strconv.Itoa(limit)},
			"agg":     {"NONE"},
			"orderBy": {"ASC"},
		},
		Op: "historicalTelemetry",
	}, &t); err != nil {
		return nil, err
	}

	points := t[key]
	if len(points) > limit {
		points = points[:limit]
	}
	samples := make([]Sample, 0, len(points))
	for _, p := range points {
		f, ok := p.Value.Float()
		if !ok {
			return nil, fmt.Errorf("%w: key %q at %d: %q", ErrNonNumeric, key, p.Timestamp, p.Value.String())
		}
		samples = append(samples, Sample{Timestamp: p.Timestamp, Value: f})
	}
	return samples, nil
}

// HistoricalSeries wraps HistoricalTelemetry with display metadata. device
// may be nil, in which case the series is labelled UnknownDeviceName.
func (c *Client) HistoricalSeries(ctx context.Context, deviceID string, device *Device, key string, r Range) (*Series, error) {
	samples, err := c.HistoricalTelemetry(ctx, deviceID, key, r, DefaultHistoryLimit)
	if err != nil {
		return nil, err
	}
	name := UnknownDeviceName
	if device != nil && device.Name != "" {
		name = device.Name
	}
	return &Series{
		DeviceID:   deviceID,
		DeviceName: name,
		Key:        key,
		Points:     samples,
		Unit:       UnitForKey(key),
	}, nil
}

// unitTable is matched in order; the first fragment contained in the key wins.
var unitTable = []struct{ fragment, unit string }{
	{"temperature", "°C"},
	{"humidity", "%"},
	{"pressure", "hPa"},
	{"power", "W"},
	{"energy", "kWh"},
	{"voltage", "V"},
	{"current", "A"},
	{"frequency", "Hz"},
	{"flowrate", "L/min"},
	{"ph", "pH"},
	{"turbidity", "NTU"},
}

// UnitForKey guesses a display unit from a telemetry key by case-insensitive
// substring match. Unknown keys return "".
func UnitForKey(key string) string {
	lower := strings.ToLower(key)
	for _, e := range unitTable {
		if strings.Contains(lower, e.fragment) {
			return e.unit
		}
	}
	return ""
}

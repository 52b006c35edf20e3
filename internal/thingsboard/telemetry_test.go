package thingsboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/nerrad567/tbdash/internal/credstore"
)

func TestHistoricalTelemetry(t *testing.T) {
	fb := newFakeBackend(t)
	fb.allow("a")

	var query url.Values
	fb.mux.HandleFunc("GET /api/plugins/telemetry/DEVICE/{id}/values/timeseries", fb.protect(
		func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.Query()
			if r.PathValue("id") != "dev-1" {
				t.Errorf("device id = %q", r.PathValue("id"))
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"temperature": [
				[1700000001000, "21.5"],
				{"ts": 1700000002000, "value": 22},
				[1700000003000, true]
			]}`)) //nolint:errcheck // test server
		}))

	c, _ := newTestClient(t, fb, credstore.Pair{Access: "a", Refresh: "r"})
	got, err := c.HistoricalTelemetry(context.Background(), "dev-1", "temperature",
		Range{StartTs: 1700000000000, EndTs: 1700003600000}, 1000)
	if err != nil {
		t.Fatalf("HistoricalTelemetry() error = %v", err)
	}

	want := []Sample{
		{Timestamp: 1700000001000, Value: 21.5},
		{Timestamp: 1700000002000, Value: 22},
		{Timestamp: 1700000003000, Value: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	for k, v := range map[string]string{
		"keys": "temperature", "startTs": "1700000000000", "endTs": "1700003600000",
		"limit": "1000", "agg": "NONE", "orderBy": "ASC",
	} {
		if query.Get(k) != v {
			t.Errorf("query %s = %q, want %q", k, query.Get(k), v)
		}
	}
}

func TestHistoricalTelemetry_Edges(t *testing.T) {
	fb := newFakeBackend(t)
	fb.allow("a")
	fb.mux.HandleFunc("GET /api/plugins/telemetry/DEVICE/{id}/values/timeseries", fb.protect(
		func(w http.ResponseWriter, r *http.Request) {
			switch r.PathValue("id") {
			case "bad":
				w.Write([]byte(`{"ph": [[1, "7.1"], [2, "n/a"]]}`)) //nolint:errcheck // test server
			case "many":
				w.Write([]byte(`{"ph": [[1, 7], [2, 7.1], [3, 7.2]]}`)) //nolint:errcheck // test server
			default:
				w.Write([]byte(`{}`)) //nolint:errcheck // test server
			}
		}))
	c, _ := newTestClient(t, fb, credstore.Pair{Access: "a", Refresh: "r"})
	ctx := context.Background()
	r := Range{StartTs: 0, EndTs: 10}

	t.Run("non numeric fails", func(t *testing.T) {
		_, err := c.HistoricalTelemetry(ctx, "bad", "ph", r, 10)
		if !errors.Is(err, ErrNonNumeric) {
			t.Errorf("error = %v, want ErrNonNumeric", err)
		}
	})

	t.Run("clamped to limit", func(t *testing.T) {
		got, err := c.HistoricalTelemetry(ctx, "many", "ph", r, 2)
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if len(got) != 2 || got[1].Timestamp != 2 {
			t.Errorf("got %+v, want first two samples", got)
		}
	})

	t.Run("missing key is empty", func(t *testing.T) {
		got, err := c.HistoricalTelemetry(ctx, "empty", "ph", r, 10)
		if err != nil || len(got) != 0 {
			t.Errorf("got %v, %v; want empty, nil", got, err)
		}
	})

	t.Run("inverted range", func(t *testing.T) {
		_, err := c.HistoricalTelemetry(ctx, "many", "ph", Range{StartTs: 10, EndTs: 1}, 10)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("series metadata", func(t *testing.T) {
		s, err := c.HistoricalSeries(ctx, "many", nil, "ph", r)
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if s.DeviceName != UnknownDeviceName || s.Unit != "pH" || len(s.Points) != 3 {
			t.Errorf("series = %+v", s)
		}
		s, err = c.HistoricalSeries(ctx, "many", &Device{Name: "Main Pool"}, "ph", r)
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if s.DeviceName != "Main Pool" {
			t.Errorf("DeviceName = %q", s.DeviceName)
		}
	})
}

func TestLatestTelemetry(t *testing.T) {
	fb := newFakeBackend(t)
	fb.allow("a")
	fb.mux.HandleFunc("GET /api/plugins/telemetry/DEVICE/{id}/values/timeseries", fb.protect(
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("keys") != "status,power,flowRate" {
				t.Errorf("keys = %q", r.URL.Query().Get("keys"))
			}
			w.Write([]byte(`{
				"status": [{"ts": 5, "value": "ON"}],
				"power": [{"ts": 5, "value": "1500.5"}],
				"flowRate": [{"ts": 5, "value": 12}]
			}`)) //nolint:errcheck // test server
		}))
	c, _ := newTestClient(t, fb, credstore.Pair{Access: "a", Refresh: "r"})

	tel, err := c.LatestTelemetry(context.Background(), "pump-1", []string{"status", "power", "flowRate"})
	if err != nil {
		t.Fatalf("LatestTelemetry() error = %v", err)
	}

	status, ok := tel.Latest("status")
	if !ok || status.Value.Kind() != KindString || status.Value.String() != "ON" {
		t.Errorf("status = %+v", status)
	}
	if f, ok := tel["power"][0].Value.Float(); !ok || f != 1500.5 {
		t.Errorf("power = %v, %v", f, ok)
	}
	if tel["flowRate"][0].Value.Kind() != KindNumber {
		t.Errorf("flowRate kind = %v", tel["flowRate"][0].Value.Kind())
	}
	if _, ok := tel.Latest("missing"); ok {
		t.Error("Latest(missing) should report false")
	}

	if _, err := c.LatestTelemetry(context.Background(), "pump-1", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("no keys error = %v, want ErrInvalidInput", err)
	}
}

func TestValue(t *testing.T) {
	tests := []struct {
		json     string
		kind     Kind
		float    float64
		floatOK  bool
		asString string
	}{
		{`21.5`, KindNumber, 21.5, true, "21.5"},
		{`"21.5"`, KindString, 21.5, true, "21.5"},
		{`" 7 "`, KindString, 7, true, " 7 "},
		{`"on"`, KindString, 0, false, "on"},
		{`true`, KindBool, 1, true, "true"},
		{`false`, KindBool, 0, true, "false"},
		{`null`, KindNull, 0, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.json, func(t *testing.T) {
			var v Value
			if err := json.Unmarshal([]byte(tt.json), &v); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if v.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", v.Kind(), tt.kind)
			}
			f, ok := v.Float()
			if ok != tt.floatOK || (ok && f != tt.float) {
				t.Errorf("Float() = %v, %v; want %v, %v", f, ok, tt.float, tt.floatOK)
			}
			if v.String() != tt.asString {
				t.Errorf("String() = %q, want %q", v.String(), tt.asString)
			}
			out, err := json.Marshal(v)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(out) != tt.json && tt.kind != KindString {
				t.Errorf("Marshal() = %s, want %s", out, tt.json)
			}
		})
	}

	var v Value
	if err := json.Unmarshal([]byte(`{"nested": 1}`), &v); err == nil {
		t.Error("object value should not decode")
	}
}

func TestPoint_TupleArity(t *testing.T) {
	var p Point
	if err := json.Unmarshal([]byte(`[1, 2, 3]`), &p); err == nil {
		t.Error("three-element tuple should not decode")
	}
}

func TestUnitForKey(t *testing.T) {
	tests := []struct {
		key, want string
	}{
		{"temperature", "°C"},
		{"waterTemperature", "°C"},
		{"HUMIDITY", "%"},
		{"power", "W"},
		{"totalEnergy", "kWh"},
		{"voltage", "V"},
		{"current", "A"},
		{"frequency", "Hz"},
		{"flowRate", "L/min"},
		{"ph", "pH"},
		{"turbidity", "NTU"},
		{"status", ""},
		// "power" precedes "energy" and "pressure" precedes "power"
		{"powerEnergy", "W"},
		{"pressurePower", "hPa"},
	}
	for _, tt := range tests {
		if got := UnitForKey(tt.key); got != tt.want {
			t.Errorf("UnitForKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

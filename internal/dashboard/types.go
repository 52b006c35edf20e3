package dashboard

import (
	"strings"
	"time"

	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// Telemetry keys fetched per category.
var (
	PoolKeys        = []string{"temperature", "ph", "turbidity"}
	PumpKeys        = []string{"status", "power", "flowRate"}
	EnergyMeterKeys = []string{"totalEnergy", "power", "voltage", "current"}
)

// Pump display states. StatusError marks a pump whose telemetry could not
// be read.
const (
	StatusOn    = "on"
	StatusOff   = "off"
	StatusError = "error"
)

// SensorReading is one flattened telemetry point.
type SensorReading struct {
	DeviceID   string            `json:"deviceId"`
	DeviceName string            `json:"deviceName"`
	Key        string            `json:"key"`
	Value      thingsboard.Value `json:"value"`
	Timestamp  int64             `json:"timestamp"`
	Unit       string            `json:"unit,omitempty"`
}

// Pool is a pool card.
type Pool struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Sensors    []SensorReading `json:"sensors"`
	PumpStatus bool            `json:"pumpStatus"`
	LastUpdate int64           `json:"lastUpdate"`
	Available  bool            `json:"available"`
}

// Pump is a pump controller card.
type Pump struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Status    string   `json:"status"`
	Power     *float64 `json:"power,omitempty"`
	FlowRate  *float64 `json:"flowRate,omitempty"`
	Available bool     `json:"available"`
}

// EnergyMeter is an energy meter card.
type EnergyMeter struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	TotalConsumption float64  `json:"totalConsumption"`
	CurrentPower     float64  `json:"currentPower"`
	Voltage          *float64 `json:"voltage,omitempty"`
	Current          *float64 `json:"current,omitempty"`
	Available        bool     `json:"available"`
}

// Snapshot is the result of one refresh. It is never mutated after being
// handed out; State copies before overlaying.
type Snapshot struct {
	Pools        []Pool        `json:"pools"`
	Pumps        []Pump        `json:"pumps"`
	EnergyMeters []EnergyMeter `json:"energyMeters"`
	UpdatedAt    time.Time     `json:"-"`
}

// clone returns a copy safe to patch.
func (s *Snapshot) clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Pools:        append([]Pool(nil), s.Pools...),
		Pumps:        append([]Pump(nil), s.Pumps...),
		EnergyMeters: append([]EnergyMeter(nil), s.EnergyMeters...),
		UpdatedAt:    s.UpdatedAt,
	}
	return out
}

// buildPool flattens the pool's telemetry, key by key in PoolKeys order.
func buildPool(d thingsboard.Device, tel thingsboard.Telemetry, now time.Time) Pool {
	p := placeholderPool(d, now)
	p.Available = true
	for _, key := range PoolKeys {
		for _, pt := range tel[key] {
			p.Sensors = append(p.Sensors, SensorReading{
				DeviceID:   string(d.ID),
				DeviceName: d.Name,
				Key:        key,
				Value:      pt.Value,
				Timestamp:  pt.Timestamp,
				Unit:       thingsboard.UnitForKey(key),
			})
		}
	}
	return p
}

func placeholderPool(d thingsboard.Device, now time.Time) Pool {
	return Pool{
		ID:         string(d.ID),
		Name:       d.Name,
		Type:       thingsboard.TypePool,
		Sensors:    []SensorReading{},
		LastUpdate: now.UnixMilli(),
	}
}

// buildPump reads the latest status, defaulting to "off" when the device
// has never reported one.
func buildPump(d thingsboard.Device, tel thingsboard.Telemetry) Pump {
	p := Pump{
		ID:        string(d.ID),
		Name:      d.Name,
		Type:      thingsboard.TypePump,
		Status:    StatusOff,
		Available: true,
	}
	if pt, ok := tel.Latest("status"); ok {
		p.Status = pumpStatus(pt.Value)
	}
	p.Power = latestFloat(tel, "power")
	p.FlowRate = latestFloat(tel, "flowRate")
	return p
}

func pumpStatus(v thingsboard.Value) string {
	switch v.Kind() {
	case thingsboard.KindString:
		if s := strings.ToLower(strings.TrimSpace(v.String())); s != "" {
			return s
		}
	case thingsboard.KindBool, thingsboard.KindNumber:
		if on, _ := v.Bool(); on {
			return StatusOn
		}
	}
	return StatusOff
}

func placeholderPump(d thingsboard.Device) Pump {
	return Pump{
		ID:     string(d.ID),
		Name:   d.Name,
		Type:   thingsboard.TypePump,
		Status: StatusError,
	}
}

func buildEnergyMeter(d thingsboard.Device, tel thingsboard.Telemetry) EnergyMeter {
	m := placeholderEnergyMeter(d)
	m.Available = true
	if f := latestFloat(tel, "totalEnergy"); f != nil {
		m.TotalConsumption = *f
	}
	if f := latestFloat(tel, "power"); f != nil {
		m.CurrentPower = *f
	}
	m.Voltage = latestFloat(tel, "voltage")
	m.Current = latestFloat(tel, "current")
	return m
}

func placeholderEnergyMeter(d thingsboard.Device) EnergyMeter {
	return EnergyMeter{
		ID:   string(d.ID),
		Name: d.Name,
		Type: thingsboard.TypeEnergyMeter,
	}
}

// latestFloat returns the newest numeric reading for key, or nil.
func latestFloat(tel thingsboard.Telemetry, key string) *float64 {
	pt, ok := tel.Latest(key)
	if !ok {
		return nil
	}
	f, ok := pt.Value.Float()
	if !ok {
		return nil
	}
	return &f
}

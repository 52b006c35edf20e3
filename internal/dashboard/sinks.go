package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/tbdash/internal/infrastructure/influxdb"
	"github.com/nerrad567/tbdash/internal/infrastructure/mqtt"
	"github.com/nerrad567/tbdash/internal/thingsboard"
)

// ReadingWriter queues numeric readings. *influxdb.Client implements it.
type ReadingWriter interface {
	WriteReadings(rs []influxdb.Reading)
}

// TelemetryMirror is a Sink copying every numeric value of a snapshot to
// InfluxDB. Unavailable devices are skipped.
type TelemetryMirror struct {
	w ReadingWriter
}

// NewTelemetryMirror returns a mirror writing through w.
func NewTelemetryMirror(w ReadingWriter) *TelemetryMirror {
	return &TelemetryMirror{w: w}
}

// Name implements Sink.
func (m *TelemetryMirror) Name() string { return "influxdb" }

// Publish implements Sink. Writes are queued; delivery errors surface on
// the InfluxDB client's error callback.
func (m *TelemetryMirror) Publish(_ context.Context, snap *Snapshot) error {
	if rs := Readings(snap); len(rs) > 0 {
		m.w.WriteReadings(rs)
	}
	return nil
}

// Readings flattens the numeric content of snap. Pool sensors keep their
// own timestamps; pump and meter values are stamped with the snapshot time.
// A pump's on/off status is written as 1/0.
func Readings(snap *Snapshot) []influxdb.Reading {
	if snap == nil {
		return nil
	}
	ts := snap.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	var out []influxdb.Reading
	add := func(id, name, category, key string, v *float64, at time.Time) {
		if v == nil {
			return
		}
		out = append(out, influxdb.Reading{
			DeviceID: id, DeviceName: name, Category: category,
			Key: key, Value: *v, Time: at,
		})
	}

	for _, p := range snap.Pools {
		if !p.Available {
			continue
		}
		for _, s := range p.Sensors {
			if f, ok := s.Value.Float(); ok {
				add(p.ID, p.Name, thingsboard.TypePool, s.Key, &f, time.UnixMilli(s.Timestamp))
			}
		}
	}

	for _, p := range snap.Pumps {
		if !p.Available {
			continue
		}
		switch p.Status {
		case StatusOn:
			on := 1.0
			add(p.ID, p.Name, thingsboard.TypePump, "status", &on, ts)
		case StatusOff:
			off := 0.0
			add(p.ID, p.Name, thingsboard.TypePump, "status", &off, ts)
		}
		add(p.ID, p.Name, thingsboard.TypePump, "power", p.Power, ts)
		add(p.ID, p.Name, thingsboard.TypePump, "flowRate", p.FlowRate, ts)
	}

	for _, m := range snap.EnergyMeters {
		if !m.Available {
			continue
		}
		total, power := m.TotalConsumption, m.CurrentPower
		add(m.ID, m.Name, thingsboard.TypeEnergyMeter, "totalEnergy", &total, ts)
		add(m.ID, m.Name, thingsboard.TypeEnergyMeter, "power", &power, ts)
		add(m.ID, m.Name, thingsboard.TypeEnergyMeter, "voltage", m.Voltage, ts)
		add(m.ID, m.Name, thingsboard.TypeEnergyMeter, "current", m.Current, ts)
	}
	return out
}

// RetainedPublisher publishes retained messages. *mqtt.Client implements it.
type RetainedPublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// SnapshotPublisher is a Sink writing the snapshot, and each device's view
// model, as retained MQTT messages.
type SnapshotPublisher struct {
	pub    RetainedPublisher
	topics mqtt.Topics
}

// NewSnapshotPublisher returns a publisher writing under topics.
func NewSnapshotPublisher(pub RetainedPublisher, topics mqtt.Topics) *SnapshotPublisher {
	return &SnapshotPublisher{pub: pub, topics: topics}
}

// Name implements Sink.
func (p *SnapshotPublisher) Name() string { return "mqtt" }

// Publish implements Sink. Every topic is attempted; failures are joined.
func (p *SnapshotPublisher) Publish(ctx context.Context, snap *Snapshot) error {
	var errs []error
	send := func(topic string, v any) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return
		}
		payload, err := json.Marshal(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("encoding %s: %w", topic, err))
			return
		}
		if err := p.pub.PublishRetained(topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("publishing %s: %w", topic, err))
		}
	}

	send(p.topics.Snapshot(), snapshotMessage{Snapshot: snap, UpdatedAt: snap.UpdatedAt.UnixMilli()})
	for _, pool := range snap.Pools {
		send(p.topics.DeviceState(thingsboard.TypePool, pool.ID), pool)
	}
	for _, pump := range snap.Pumps {
		send(p.topics.DeviceState(thingsboard.TypePump, pump.ID), pump)
	}
	for _, m := range snap.EnergyMeters {
		send(p.topics.DeviceState(thingsboard.TypeEnergyMeter, m.ID), m)
	}
	return errors.Join(errs...)
}

// snapshotMessage adds the epoch-millisecond timestamp Snapshot omits.
type snapshotMessage struct {
	*Snapshot
	UpdatedAt int64 `json:"updatedAt"`
}

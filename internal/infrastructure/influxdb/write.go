package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement every reading is written to.
const Measurement = "telemetry"

// Reading is one numeric dashboard value.
//
// Stored as measurement "telemetry" with tags device_id, device_name and
// category, and a single field named after Key.
type Reading struct {
	DeviceID   string
	DeviceName string
	Category   string
	Key        string
	Value      float64
	Time       time.Time
}

// point converts r to an InfluxDB point. A zero Time means now.
func (r Reading) point() *write.Point {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(
		Measurement,
		map[string]string{
			"device_id":   r.DeviceID,
			"device_name": r.DeviceName,
			"category":    r.Category,
		},
		map[string]any{
			r.Key: r.Value,
		},
		ts,
	)
}

// WriteReading queues one reading. Non-blocking; dropped when disconnected.
func (c *Client) WriteReading(r Reading) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(r.point())
}

// WriteReadings queues a batch of readings.
func (c *Client) WriteReadings(rs []Reading) {
	if !c.IsConnected() {
		return
	}
	for _, r := range rs {
		c.writeAPI.WritePoint(r.point())
	}
}

// Package influxdb mirrors dashboard readings into an InfluxDB v2 bucket.
//
// After every successful refresh the poller turns the snapshot's numeric
// fields into Readings and queues them here, so the bucket keeps a history
// of what the dashboard showed regardless of the backend's own retention.
// Writes are batched and never block; failures arrive on the SetOnError
// callback wrapped in ErrWriteFailed.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror switched off
//	}
//	client.WriteReadings(readings)
package influxdb

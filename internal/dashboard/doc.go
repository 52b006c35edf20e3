// Package dashboard turns backend devices and telemetry into the view
// models a dashboard renders, and keeps the latest result around.
//
// One refresh lists pools, pumps and energy meters concurrently, then
// fetches latest telemetry for every device concurrently within its
// category. The failure policy is deliberately asymmetric:
//
//   - a device whose telemetry fails still appears, with placeholder values
//     and Available=false (a pump shows status "error")
//   - a category whose device listing fails fails the whole refresh; no
//     partial snapshot is produced
//   - an authentication failure anywhere fails the refresh, since every
//     later call would fail the same way
//
// State holds the last snapshot for readers (HTTP handlers, WebSocket
// clients) and applies optimistic overlays such as a pump switched on from
// the UI. Poller drives refreshes on a cron schedule and forwards each
// snapshot to optional sinks (InfluxDB, MQTT, WebSocket).
package dashboard

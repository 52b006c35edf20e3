// Package mqtt connects tbdash to the broker named by broker.url.
//
// The dashboard publishes retained snapshots through it and listens for
// pump commands. Under the configured prefix (default "tbdash"):
//
//	tbdash/status                      online/offline, retained, also the LWT
//	tbdash/dashboard/snapshot          whole dashboard, retained
//	tbdash/state/{category}/{deviceID} one view model, retained
//	tbdash/command/pump/{deviceID}     "on" or "off", subscribed
//
// Broker URLs may use mqtt:// and mqtts:// (aliases for tcp:// and
// ssl://) as well as ws:// and wss://; a missing port gets the scheme's
// default. Subscriptions survive reconnects.
package mqtt

// Package logging sets up the slog logger every tbdash component shares.
//
// Entries carry service and version; components add a "component" attr
// through With. The logging section picks the level, JSON or text output,
// and stdout or stderr:
//
//	logging:
//	  level: info
//	  format: json
//	  output: stdout
//
// Tokens must never be logged in full. The handler masks values under
// password, access_token, refresh_token, authorization and secret; for
// any other key, pass logging.Redact(tok).
package logging

// Package thingsboard is an authenticated client for the ThingsBoard REST
// API, plus the typed queries the dashboard needs.
//
// # Session and refresh
//
// The client holds one credential pair (access + refresh token) in a
// Session and mirrors it to a credstore.Store so it survives restarts.
// When an ordinary call gets 401 and a refresh token is held, the client:
//
//  1. exchanges the refresh token once, no matter how many calls hit the
//     401 at the same moment (singleflight)
//  2. on success, stores the new pair and re-issues the call exactly once;
//     whatever that second attempt returns is final
//  3. on failure, clears the session and returns *AuthError
//
// Login and signup never enter the refresh cycle.
//
// # Errors
//
//	*AuthError        session ended; matches ErrAuthentication
//	*RequestError     non-2xx from the backend; session intact
//	*NetworkError     no response; matches ErrTimeout on deadline
//	*ValidationError  rejected before sending; matches ErrInvalidInput
//
// # Usage
//
//	client, err := thingsboard.New(thingsboard.Options{
//	    BaseURL: cfg.Backend.URL,
//	}, store, thingsboard.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if _, err := client.Restore(ctx); err != nil {
//	    return err
//	}
//	pumps, err := client.ListDevicesByType(ctx, thingsboard.TypePump)
//
// # Telemetry values
//
// Telemetry values arrive as JSON numbers, strings or booleans (ThingsBoard
// itself usually sends strings). Value keeps the original variant;
// HistoricalTelemetry converts to float64 and fails with ErrNonNumeric
// rather than silently dropping a sample.
package thingsboard

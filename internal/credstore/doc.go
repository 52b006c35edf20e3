// Package credstore persists the backend session: one access token and one
// refresh token, saved and cleared together.
//
// Every backend honours the same contract:
//   - Save overwrites any prior pair with both members at once
//   - Load returns ErrNotFound unless both members are present
//   - Clear removes both members and is idempotent
//
// Backends:
//
//	MemoryStore  process-local, for tests and --no-persist runs
//	FileStore    JSON file, mode 0600, replaced atomically via rename
//	SQLiteStore  "credentials" table in the local database
//	RedisStore   two keys written with one MSET
//
// Sealed wraps any of them so tokens are encrypted at rest with a key
// derived from an operator secret. A value that cannot be opened (wrong
// secret, tampering) is treated as absent, never as an error the caller has
// to special-case.
package credstore

// Package config loads tbdash settings.
//
// Sources, later ones winning: built-in defaults, the YAML file passed to
// Load (optional), a .env file next to the working directory, and the
// process environment (THINGSBOARD_URL, MQTT_URL and TBDASH_*). Validate
// reports every problem at once rather than the first.
//
// The backend password is never configuration. Tokens live in the
// credential store; credentials.secret, which seals them at rest, is best
// supplied as TBDASH_CREDENTIALS_SECRET.
//
//	cfg, err := config.Load("configs/config.yaml")
package config

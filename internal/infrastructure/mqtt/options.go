package mqtt

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/tbdash/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// brokerAddress normalises a broker URL into the form paho dials, and
// reports whether it needs TLS.
func brokerAddress(raw string) (addr string, useTLS bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrInvalidBrokerURL, err)
	}

	var scheme, port string
	switch u.Scheme {
	case "mqtt", "tcp":
		scheme, port = "tcp", "1883"
	case "mqtts", "ssl", "tls":
		scheme, port, useTLS = "ssl", "8883", true
	case "ws":
		scheme, port = "ws", "80"
	case "wss":
		scheme, port, useTLS = "wss", "443", true
	default:
		return "", false, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidBrokerURL, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return "", false, fmt.Errorf("%w: missing host in %q", ErrInvalidBrokerURL, raw)
	}
	if p := u.Port(); p != "" {
		port = p
	}

	out := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, port), Path: u.Path}
	return out.String(), useTLS, nil
}

// buildClientOptions creates paho MQTT options.
//
// This configures:
//   - Broker address and client ID
//   - Authentication credentials (if provided)
//   - Auto-reconnect with exponential backoff
//   - TLS configuration for mqtts/ssl/wss brokers
//   - Clean session mode
func buildClientOptions(brokerURL string, cfg config.MQTTConfig) (*pahomqtt.ClientOptions, error) {
	addr, useTLS, err := brokerAddress(brokerURL)
	if err != nil {
		return nil, err
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(addr)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	if cfg.Reconnect.InitialDelay > 0 {
		opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	}
	if cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	}

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if useTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts, nil
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// QoS 1, retained, so new subscribers see the last known status.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetWill(topics.Status(), string(statusPayload("offline", clientID, "unexpected_disconnect")), 1, true)
}

// statusPayload builds the JSON body published on the status topic.
func statusPayload(status, clientID, reason string) []byte {
	ts := time.Now().UTC().Format(time.RFC3339)
	if reason == "" {
		return fmt.Appendf(nil, `{"status":%q,"client_id":%q,"timestamp":%q}`, status, clientID, ts)
	}
	return fmt.Appendf(nil, `{"status":%q,"client_id":%q,"reason":%q,"timestamp":%q}`, status, clientID, reason, ts)
}

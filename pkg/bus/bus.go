// Package bus provides the message-broker connection used by the dashboard
// and the shop simulator. Callers pick the backend through the URL scheme:
// mqtt/tcp/ws/wss dial an MQTT broker, nats dials a NATS server. The rest of
// the system only sees topics and raw payloads.
package bus

import (
	"errors"
	"fmt"
	"net/url"
)

// Handler receives one raw message from a subscribed topic.
type Handler func(topic string, payload []byte)

// Conn is a connection to a message broker. Implementations deliver
// subscribed messages one at a time, in arrival order.
type Conn interface {
	// Subscribe registers h for every topic. Messages published before
	// Subscribe returns are only seen when the broker retained them.
	Subscribe(topics []string, h Handler) error

	// Publish sends payload to topic. retain asks the broker to replay the
	// message to late subscribers; backends without retention ignore it.
	Publish(topic string, payload []byte, retain bool) error

	// Close releases the connection. Handler callbacks already in flight
	// may still run briefly after Close returns.
	Close()
}

// ErrUnsupportedScheme is returned by Dial for broker URLs naming a backend
// this package does not speak.
var ErrUnsupportedScheme = errors.New("bus: unsupported broker URL scheme")

// Dial connects to the broker named by rawURL. clientID identifies this
// process to the broker and must be unique per connection.
func Dial(rawURL, clientID string) (Conn, error) {
	if clientID == "" {
		return nil, errors.New("bus: client id is required")
	}

	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("bus: parse broker URL: %w", err)
	}

	switch u.Scheme {
	case "mqtt", "tcp", "ws", "wss", "ssl", "mqtts":
		return dialMQTT(normalized, clientID)
	case "nats":
		return dialNATS(normalized, clientID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// NormalizeURL rewrites websocket broker URLs with a bare root path to the
// conventional /mqtt endpoint. Brokers commonly serve their websocket
// listener there, and deployments are routinely configured with just
// host:port. Other URLs pass through unchanged.
func NormalizeURL(rawURL string) (string, error) {
	if rawURL == "" {
		return "", errors.New("bus: broker URL is required")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("bus: parse broker URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("bus: broker URL %q must include scheme and host", rawURL)
	}

	if (u.Scheme == "ws" || u.Scheme == "wss") && (u.Path == "" || u.Path == "/") {
		u.Path = "/mqtt"
		return u.String(), nil
	}
	return rawURL, nil
}

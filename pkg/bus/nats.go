package bus

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// natsConn adapts a core NATS connection to Conn. Core NATS keeps no
// messages for late subscribers, so the retain flag is ignored; dashboards
// on this backend fill in on the next periodic snapshot instead.
type natsConn struct {
	conn *nats.Conn
}

func dialNATS(url, clientID string) (*natsConn, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientID),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect nats %s: %w", url, err)
	}
	return &natsConn{conn: nc}, nil
}

func (c *natsConn) Subscribe(topics []string, h Handler) error {
	for _, topic := range topics {
		_, err := c.conn.Subscribe(topic, func(msg *nats.Msg) {
			h(msg.Subject, msg.Data)
		})
		if err != nil {
			return fmt.Errorf("bus: subscribe nats %s: %w", topic, err)
		}
	}
	return nil
}

func (c *natsConn) Publish(topic string, payload []byte, _ bool) error {
	if err := c.conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("bus: publish nats %s: %w", topic, err)
	}
	return nil
}

func (c *natsConn) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}

package bus

import (
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttConn adapts an Eclipse Paho client to Conn. Subscriptions are tracked
// so they can be replayed after the client reconnects; the paho client drops
// them on clean-session reconnects.
type mqttConn struct {
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]Handler
}

func dialMQTT(brokerURL, clientID string) (*mqttConn, error) {
	c := &mqttConn{subs: make(map[string]Handler)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(mqtt.Client) { c.resubscribe() })

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("bus: connect mqtt %s: %w", brokerURL, token.Error())
	}
	return c, nil
}

func (c *mqttConn) Subscribe(topics []string, h Handler) error {
	c.mu.Lock()
	for _, topic := range topics {
		c.subs[topic] = h
	}
	c.mu.Unlock()

	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = 0
	}
	token := c.client.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("bus: subscribe mqtt: %w", token.Error())
	}
	return nil
}

// resubscribe runs on every (re)connect. On the first connect the table is
// still empty; afterwards it restores whatever Subscribe registered.
func (c *mqttConn) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, h := range c.subs {
		handler := h
		c.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Topic(), msg.Payload())
		})
	}
}

func (c *mqttConn) Publish(topic string, payload []byte, retain bool) error {
	token := c.client.Publish(topic, 0, retain, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("bus: publish mqtt %s: %w", topic, token.Error())
	}
	return nil
}

func (c *mqttConn) Close() {
	c.client.Disconnect(250)
}

package mqtt

import "fmt"

// Publish sends a message to the specified topic.
//
// Parameters:
//   - topic: Destination topic, e.g. "graylogic/state/pioneer/living-avr"
//   - payload: Message body, at most 1MB
//   - qos: 0, 1 or 2
//   - retained: Whether the broker keeps the message for late subscribers
//
// State, health and discovery are published retained; acks and responses
// are not.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return wait(c.paho.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishRetained publishes a retained message with the configured default QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.defaultQoS(), true)
}

// defaultQoS clamps the configured QoS into the valid range.
func (c *Client) defaultQoS() byte {
	switch {
	case c.cfg.QoS < 0:
		return 0
	case c.cfg.QoS > maxQoS:
		return maxQoS
	default:
		return byte(c.cfg.QoS)
	}
}

package mqtt

import "fmt"

// Publish sends payload to topic and waits for the broker's ack (bounded
// by a fixed timeout). Wildcards, QoS above 2 and payloads over 1 MiB are
// rejected before touching the connection.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkPublish(topic, payload, qos); err != nil {
		return err
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishRetained publishes with the configured QoS and the retain flag.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.QoS(), true)
}

func checkPublish(topic string, payload []byte, qos byte) error {
	if !validTopic(topic, false) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	if qos > maxQoS {
		return ErrInvalidQoS
	}

	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	return nil
}

package mqtt

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMessage implements paho's Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newTestClient() *Client {
	return newClient(testConfig(), slog.New(slog.DiscardHandler))
}

func TestWrapHandler_DeliversMessage(t *testing.T) {
	c := newTestClient()

	var gotTopic, gotPayload string

	h := c.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return nil
	})

	h(nil, fakeMessage{topic: "a/b", payload: []byte("ON")})

	assert.Equal(t, "a/b", gotTopic)
	assert.Equal(t, "ON", gotPayload)
}

func TestWrapHandler_RecoversPanicAndSwallowsError(t *testing.T) {
	c := newTestClient()

	assert.NotPanics(t, func() {
		c.wrapHandler(func(string, []byte) error { panic("boom") })(nil, fakeMessage{topic: "x"})
	})
	assert.NotPanics(t, func() {
		c.wrapHandler(func(string, []byte) error { return errors.New("bad") })(nil, fakeMessage{topic: "x"})
	})
}

func TestPublish_Validation(t *testing.T) {
	c := newTestClient()

	require.ErrorIs(t, c.Publish("", nil, 0, false), ErrInvalidTopic)
	require.ErrorIs(t, c.Publish("a/+/b", nil, 0, false), ErrInvalidTopic)
	require.ErrorIs(t, c.Publish("a/#", nil, 0, false), ErrInvalidTopic)
	require.ErrorIs(t, c.Publish("a/b", nil, 3, false), ErrInvalidQoS)

	big := []byte(strings.Repeat("x", maxPayloadSize+1))
	require.ErrorIs(t, c.Publish("a/b", big, 1, false), ErrPublishFailed)

	require.ErrorIs(t, c.Publish("a/b", []byte("ok"), 1, true), ErrNotConnected)
}

func TestSubscribe_Validation(t *testing.T) {
	c := newTestClient()
	noop := func(string, []byte) error { return nil }

	require.ErrorIs(t, c.Subscribe("", 0, noop), ErrInvalidTopic)
	require.ErrorIs(t, c.Subscribe("a/#", 3, noop), ErrInvalidQoS)
	require.ErrorIs(t, c.Subscribe("a/#", 0, nil), ErrSubscribeFailed)
	require.ErrorIs(t, c.Subscribe("a/+/set", 1, noop), ErrNotConnected)
	require.ErrorIs(t, c.Unsubscribe("a/+/set"), ErrNotConnected)

	assert.Zero(t, c.SubscriptionCount())
}

func TestClient_Disconnected(t *testing.T) {
	c := newTestClient()

	assert.False(t, c.IsConnected())
	require.ErrorIs(t, c.HealthCheck(t.Context()), ErrNotConnected)
	require.NoError(t, c.Close())
	assert.Equal(t, byte(0), c.QoS())
	assert.Equal(t, "ha-bosch/bridge/status", c.Topics().BridgeStatus())
}

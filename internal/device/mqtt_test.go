package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RollerLink/internal/model"
	"RollerLink/internal/parser"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestMQTTHandlerForwardsTelemetry(t *testing.T) {
	src := NewMQTTSource(MQTTOptions{Broker: "tcp://localhost:1883"}, parser.NewJSONParser())
	sink := &recordingSink{}
	h := src.handler(sink)

	h(nil, fakeMessage{topic: "roller/telemetry", payload: []byte(`{"motorId":"B","sequence":3,"voltage":11.8,"current":420,"rpm":800,"rssi":-62,"packetLoss":7.5}`)})
	h(nil, fakeMessage{topic: "roller/telemetry", payload: []byte(`{"motorId":`)})
	h(nil, fakeMessage{topic: "roller/telemetry", payload: []byte(`{"type":"ack","id":2}`)})

	frames, _, _ := sink.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, model.MotorB, frames[0].MotorID)
	assert.Equal(t, uint64(3), frames[0].Sequence)
	assert.InDelta(t, 7.5, frames[0].PacketLoss, 1e-9)
}

func TestMQTTDefaults(t *testing.T) {
	src := NewMQTTSource(MQTTOptions{Broker: "tcp://broker:1883"}, parser.NewJSONParser())
	opts := src.clientOptions(&recordingSink{})

	assert.Equal(t, "roller/telemetry", src.opts.Topic)
	assert.Equal(t, "rollerd", opts.ClientID)
	assert.True(t, opts.AutoReconnect)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
}

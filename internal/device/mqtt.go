package device

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"RollerLink/internal/model"
	"RollerLink/internal/parser"
	"RollerLink/internal/util"
)

// MQTTOptions configures an MQTTSource.
type MQTTOptions struct {
	Broker   string // e.g. tcp://localhost:1883
	Topic    string
	ClientID string
}

// MQTTSource subscribes to the controller's telemetry topic. Reconnection is left to
// the paho client; its connection events are forwarded to the sink.
type MQTTSource struct {
	opts  MQTTOptions
	codec parser.Parser
}

// NewMQTTSource returns a source for the broker and topic in opts.
func NewMQTTSource(opts MQTTOptions, codec parser.Parser) *MQTTSource {
	if opts.Topic == "" {
		opts.Topic = "roller/telemetry"
	}
	if opts.ClientID == "" {
		opts.ClientID = "rollerd"
	}
	return &MQTTSource{opts: opts, codec: codec}
}

// handler decodes one telemetry message into sink.
func (m *MQTTSource) handler(sink Sink) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		env, err := m.codec.Decode(string(msg.Payload()))
		if err != nil {
			util.Warn("[mqtt] drop message on %s: %v", msg.Topic(), err)
			return
		}
		if env.Kind == model.EnvTelemetry {
			sink.Frame(env.Frame)
		}
	}
}

func (m *MQTTSource) clientOptions(sink Sink) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.opts.Broker)
	opts.SetClientID(m.opts.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		util.Info("[mqtt] connected to %s", m.opts.Broker)
		token := c.Subscribe(m.opts.Topic, 0, m.handler(sink))
		if token.Wait() && token.Error() != nil {
			util.Error("[mqtt] subscribe %s: %v", m.opts.Topic, token.Error())
			sink.Disconnected(token.Error())
			return
		}
		sink.Connected()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		util.Warn("[mqtt] connection lost: %v", err)
		sink.Disconnected(fmt.Errorf("%w: %w", model.ErrConnectionLost, err))
	}
	return opts
}

// Run connects and keeps the subscription alive until ctx is done.
func (m *MQTTSource) Run(ctx context.Context, sink Sink) error {
	client := mqtt.NewClient(m.clientOptions(sink))
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("[mqtt] connect %s: %w", m.opts.Broker, err)
		}
	case <-ctx.Done():
	}
	<-ctx.Done()
	client.Disconnect(250)
	return ctx.Err()
}

package parser

import (
	"encoding/json"
	"fmt"

	"RollerLink/internal/model"
)

// JSONParser implements Parser using one JSON object per line.
type JSONParser struct{}

// NewJSONParser creates a new JSON parser.
func NewJSONParser() *JSONParser { return &JSONParser{} }

type jsonEnvelope struct {
	Type   model.EnvelopeKind `json:"type"`
	ID     uint64             `json:"id,omitempty"`
	Op     string             `json:"op,omitempty"`
	Motor  model.MotorID      `json:"motor,omitempty"`
	Arg    string             `json:"arg,omitempty"`
	Reason string             `json:"reason,omitempty"`
	*model.TelemetryFrame
}

// Encode renders env as a single-line JSON object.
func (p *JSONParser) Encode(env model.Envelope) (string, error) {
	out := jsonEnvelope{Type: env.Kind, ID: env.ID}
	switch env.Kind {
	case model.EnvTelemetry:
		f := env.Frame
		out.TelemetryFrame = &f
	case model.EnvCommand:
		if err := env.Command.Validate(); err != nil {
			return "", err
		}
		out.Op = env.Command.Kind.String()
		out.Motor = env.Command.Motor
		out.Arg = commandArg(env.Command)
	case model.EnvAck:
	case model.EnvNak:
		out.Reason = env.Reason
	default:
		return "", fmt.Errorf("%w: envelope kind %q", model.ErrInvalidArgument, env.Kind)
	}
	b, err := json.Marshal(out)
	return string(b), err
}

// Decode parses one JSON line.
func (p *JSONParser) Decode(line string) (model.Envelope, error) {
	var in jsonEnvelope
	if err := json.Unmarshal([]byte(line), &in); err != nil {
		return model.Envelope{}, err
	}
	if in.Type == "" && in.TelemetryFrame != nil {
		in.Type = model.EnvTelemetry
	}

	switch in.Type {
	case model.EnvTelemetry:
		if in.TelemetryFrame == nil {
			return model.Envelope{}, fmt.Errorf("telemetry: empty frame")
		}
		f := *in.TelemetryFrame
		id, err := model.ParseMotorID(string(f.MotorID))
		if err != nil {
			return model.Envelope{}, err
		}
		f.MotorID = id
		return model.Envelope{Kind: model.EnvTelemetry, Frame: f}, nil
	case model.EnvCommand:
		cmd, err := parseCommand(in.Op, string(in.Motor), in.Arg)
		if err != nil {
			return model.Envelope{}, fmt.Errorf("command: %w", err)
		}
		return model.Envelope{Kind: model.EnvCommand, ID: in.ID, Command: cmd}, nil
	case model.EnvAck:
		return model.Envelope{Kind: model.EnvAck, ID: in.ID}, nil
	case model.EnvNak:
		return model.Envelope{Kind: model.EnvNak, ID: in.ID, Reason: in.Reason}, nil
	}
	return model.Envelope{}, fmt.Errorf("unknown message type %q", in.Type)
}

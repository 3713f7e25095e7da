package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"RollerLink/internal/model"
)

// CSVParser implements Parser using comma-separated fields.
type CSVParser struct{}

// NewCSVParser creates a new CSV parser instance.
func NewCSVParser() *CSVParser { return &CSVParser{} }

// Encode renders env as one CSV line without the trailing newline.
func (p *CSVParser) Encode(env model.Envelope) (string, error) {
	switch env.Kind {
	case model.EnvTelemetry:
		return encodeTelemetryCSV(env.Frame), nil
	case model.EnvCommand:
		if err := env.Command.Validate(); err != nil {
			return "", err
		}
		line := fmt.Sprintf("CMD,%d,%s,%s", env.ID, env.Command.Motor, strings.ToUpper(env.Command.Kind.String()))
		if arg := commandArg(env.Command); arg != "" {
			line += "," + arg
		}
		return line, nil
	case model.EnvAck:
		return fmt.Sprintf("ACK,%d", env.ID), nil
	case model.EnvNak:
		reason := strings.ReplaceAll(env.Reason, ",", ";")
		return fmt.Sprintf("NAK,%d,%s", env.ID, reason), nil
	}
	return "", fmt.Errorf("%w: envelope kind %q", model.ErrInvalidArgument, env.Kind)
}

func encodeTelemetryCSV(f model.TelemetryFrame) string {
	led := "0"
	if f.LEDState != nil && *f.LEDState {
		led = "1"
	}
	line := fmt.Sprintf("TEL,%s,%d,%.2f,%.1f,%d,%s,%d,%d,%.2f",
		f.MotorID, f.Sequence, f.Voltage, f.Current, f.RPM, led, f.RSSI, f.Uptime, f.PacketLoss)
	if f.Running != nil && f.Speed != nil && f.Direction != nil {
		running := "0"
		if *f.Running {
			running = "1"
		}
		line += fmt.Sprintf(",%s,%d,%s", running, *f.Speed, *f.Direction)
	}
	return line
}

// Decode parses one CSV line.
func (p *CSVParser) Decode(line string) (model.Envelope, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	switch strings.ToUpper(fields[0]) {
	case "TEL":
		f, err := decodeTelemetryCSV(fields[1:])
		if err != nil {
			return model.Envelope{}, err
		}
		return model.Envelope{Kind: model.EnvTelemetry, Frame: f}, nil
	case "CMD":
		if len(fields) != 4 && len(fields) != 5 {
			return model.Envelope{}, fmt.Errorf("command: expected 4 or 5 fields, got %d", len(fields))
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return model.Envelope{}, errors.New("command: invalid id")
		}
		var arg string
		if len(fields) == 5 {
			arg = fields[4]
		}
		cmd, err := parseCommand(fields[3], fields[2], arg)
		if err != nil {
			return model.Envelope{}, fmt.Errorf("command: %w", err)
		}
		return model.Envelope{Kind: model.EnvCommand, ID: id, Command: cmd}, nil
	case "ACK":
		if len(fields) != 2 {
			return model.Envelope{}, fmt.Errorf("ack: expected 2 fields, got %d", len(fields))
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return model.Envelope{}, errors.New("ack: invalid id")
		}
		return model.Envelope{Kind: model.EnvAck, ID: id}, nil
	case "NAK":
		if len(fields) < 2 {
			return model.Envelope{}, errors.New("nak: missing id")
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return model.Envelope{}, errors.New("nak: invalid id")
		}
		return model.Envelope{Kind: model.EnvNak, ID: id, Reason: strings.Join(fields[2:], ",")}, nil
	}
	return model.Envelope{}, fmt.Errorf("unknown message type %q", fields[0])
}

func decodeTelemetryCSV(fields []string) (model.TelemetryFrame, error) {
	if len(fields) != 9 && len(fields) != 12 {
		return model.TelemetryFrame{}, fmt.Errorf("telemetry: expected 9 or 12 fields, got %d", len(fields))
	}
	id, err := model.ParseMotorID(fields[0])
	if err != nil {
		return model.TelemetryFrame{}, err
	}
	seq, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return model.TelemetryFrame{}, errors.New("telemetry: invalid sequence")
	}
	voltage, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return model.TelemetryFrame{}, errors.New("telemetry: invalid voltage")
	}
	current, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return model.TelemetryFrame{}, errors.New("telemetry: invalid current")
	}
	rpm, err := strconv.Atoi(fields[4])
	if err != nil {
		return model.TelemetryFrame{}, errors.New("telemetry: invalid rpm")
	}
	led := fields[5] == "1"
	rssi, err := strconv.Atoi(fields[6])
	if err != nil {
		return model.TelemetryFrame{}, errors.New("telemetry: invalid rssi")
	}
	uptime, err := strconv.ParseInt(fields[7], 10, 64)
	if err != nil {
		return model.TelemetryFrame{}, errors.New("telemetry: invalid uptime")
	}
	loss, err := strconv.ParseFloat(fields[8], 64)
	if err != nil {
		return model.TelemetryFrame{}, errors.New("telemetry: invalid packet loss")
	}

	f := model.TelemetryFrame{
		MotorID:    id,
		Sequence:   seq,
		Voltage:    voltage,
		Current:    current,
		RPM:        rpm,
		LEDState:   &led,
		RSSI:       rssi,
		Uptime:     uptime,
		PacketLoss: loss,
	}
	if len(fields) == 12 {
		running := fields[9] == "1"
		speed, err := strconv.Atoi(fields[10])
		if err != nil {
			return model.TelemetryFrame{}, errors.New("telemetry: invalid speed")
		}
		dir, err := model.ParseDirection(fields[11])
		if err != nil {
			return model.TelemetryFrame{}, err
		}
		f.Running, f.Speed, f.Direction = &running, &speed, &dir
	}
	return f, nil
}

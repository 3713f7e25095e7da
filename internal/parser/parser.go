// Package parser converts device lines to model.Envelope values and back.
//
// CSV wire format, one message per line:
//
//	TEL,MOTOR,SEQ,VOLTAGE,CURRENT,RPM,LED,RSSI,UPTIME,PACKET_LOSS[,RUNNING,SPEED,DIRECTION]
//	CMD,ID,MOTOR,OP[,ARG]
//	ACK,ID
//	NAK,ID,REASON
//
// The JSON format carries the same messages as one object per line with a "type" field;
// a bare telemetry object without "type" is accepted.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"RollerLink/internal/model"
)

// Parser is a line codec for the device protocol.
type Parser interface {
	Encode(env model.Envelope) (string, error)
	Decode(line string) (model.Envelope, error)
}

// New returns the parser for format ("csv" or "json").
func New(format string) (Parser, error) {
	switch strings.ToLower(format) {
	case "", "csv":
		return NewCSVParser(), nil
	case "json":
		return NewJSONParser(), nil
	}
	return nil, fmt.Errorf("[parser] %w: wire format %q", model.ErrInvalidArgument, format)
}

// commandArg renders the argument of cmd, if it has one.
func commandArg(cmd model.Command) string {
	switch cmd.Kind {
	case model.CmdSetSpeed:
		return strconv.Itoa(cmd.Speed)
	case model.CmdSetDirection:
		return string(cmd.Direction)
	case model.CmdAux:
		return string(cmd.Aux)
	}
	return ""
}

// parseCommand rebuilds and validates a command from its wire parts.
func parseCommand(op, motor, arg string) (model.Command, error) {
	kind, err := model.ParseCommandKind(op)
	if err != nil {
		return model.Command{}, err
	}
	id, err := model.ParseMotorID(motor)
	if err != nil {
		return model.Command{}, err
	}
	cmd := model.Command{Kind: kind, Motor: id}
	switch kind {
	case model.CmdSetSpeed:
		if cmd.Speed, err = strconv.Atoi(arg); err != nil {
			return model.Command{}, fmt.Errorf("%w: speed %q", model.ErrInvalidArgument, arg)
		}
	case model.CmdSetDirection:
		if cmd.Direction, err = model.ParseDirection(arg); err != nil {
			return model.Command{}, err
		}
	case model.CmdAux:
		if cmd.Aux, err = model.ParseAuxToken(arg); err != nil {
			return model.Command{}, err
		}
	}
	return cmd, cmd.Validate()
}

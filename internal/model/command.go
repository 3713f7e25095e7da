package model

import (
	"fmt"
	"strings"
)

// CommandKind enumerates the wire commands understood by the device.
type CommandKind int

const (
	CmdStart CommandKind = iota + 1
	CmdStop
	CmdSetSpeed
	CmdSetDirection
	CmdAux
)

func (k CommandKind) String() string {
	switch k {
	case CmdStart:
		return "start"
	case CmdStop:
		return "stop"
	case CmdSetSpeed:
		return "speed"
	case CmdSetDirection:
		return "direction"
	case CmdAux:
		return "aux"
	default:
		return "unknown"
	}
}

// ParseCommandKind is the inverse of CommandKind.String.
func ParseCommandKind(s string) (CommandKind, error) {
	switch strings.ToLower(s) {
	case "start":
		return CmdStart, nil
	case "stop":
		return CmdStop, nil
	case "speed":
		return CmdSetSpeed, nil
	case "direction":
		return CmdSetDirection, nil
	case "aux":
		return CmdAux, nil
	}
	return 0, fmt.Errorf("%w: unknown command %q", ErrInvalidArgument, s)
}

// AuxToken is an auxiliary device command.
type AuxToken string

const (
	AuxLEDOn  AuxToken = "LED_ON"
	AuxLEDOff AuxToken = "LED_OFF"
)

// ParseAuxToken validates a raw auxiliary token.
func ParseAuxToken(s string) (AuxToken, error) {
	switch t := AuxToken(strings.ToUpper(strings.TrimSpace(s))); t {
	case AuxLEDOn, AuxLEDOff:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown auxiliary command %q", ErrInvalidArgument, s)
}

// Command is a closed variant: Kind selects which of the payload fields is meaningful.
type Command struct {
	Kind      CommandKind
	Motor     MotorID
	Speed     int
	Direction Direction
	Aux       AuxToken
}

func StartCommand(id MotorID) Command { return Command{Kind: CmdStart, Motor: id} }
func StopCommand(id MotorID) Command  { return Command{Kind: CmdStop, Motor: id} }

func SpeedCommand(id MotorID, speed int) Command {
	return Command{Kind: CmdSetSpeed, Motor: id, Speed: speed}
}

func DirectionCommand(id MotorID, dir Direction) Command {
	return Command{Kind: CmdSetDirection, Motor: id, Direction: dir}
}

func AuxCommand(id MotorID, tok AuxToken) Command {
	return Command{Kind: CmdAux, Motor: id, Aux: tok}
}

// Validate checks the payload of c against its kind.
func (c Command) Validate() error {
	if !c.Motor.Valid() {
		return fmt.Errorf("%w: unknown motor %q", ErrInvalidArgument, c.Motor)
	}
	switch c.Kind {
	case CmdStart, CmdStop:
		return nil
	case CmdSetSpeed:
		if c.Speed < MinSpeed || c.Speed > MaxSpeed {
			return fmt.Errorf("%w: speed %d outside [%d,%d]", ErrInvalidArgument, c.Speed, MinSpeed, MaxSpeed)
		}
		return nil
	case CmdSetDirection:
		if c.Direction != Forward && c.Direction != Reverse {
			return fmt.Errorf("%w: direction %q", ErrInvalidArgument, c.Direction)
		}
		return nil
	case CmdAux:
		if _, err := ParseAuxToken(string(c.Aux)); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("%w: command kind %d", ErrInvalidArgument, c.Kind)
	}
}

func (c Command) String() string {
	switch c.Kind {
	case CmdSetSpeed:
		return fmt.Sprintf("%s(%s,%d)", c.Kind, c.Motor, c.Speed)
	case CmdSetDirection:
		return fmt.Sprintf("%s(%s,%s)", c.Kind, c.Motor, c.Direction)
	case CmdAux:
		return fmt.Sprintf("%s(%s,%s)", c.Kind, c.Motor, c.Aux)
	default:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Motor)
	}
}

// Outcome is how a dispatched command ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeRejected Outcome = "rejected"
)

// Result is the settled outcome of one command.
type Result struct {
	Command Command `json:"-"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// OK reports whether the device acknowledged the command.
func (r Result) OK() bool { return r.Outcome == OutcomeSuccess }

// Err converts a failed result into an error wrapping the matching sentinel.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeTimeout:
		return fmt.Errorf("%s: %w", r.Command, ErrCommandTimeout)
	default:
		return fmt.Errorf("%s: %w: %s", r.Command, ErrCommandRejected, r.Reason)
	}
}

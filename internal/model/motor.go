// Package model defines the shared state, telemetry and command types of the roller engine.
package model

import (
	"fmt"
	"math"
	"strings"
)

// MotorID identifies one of the two roller motors.
type MotorID string

const (
	MotorA MotorID = "A"
	MotorB MotorID = "B"
)

// Motors lists every motor in a stable order.
var Motors = []MotorID{MotorA, MotorB}

// ParseMotorID accepts "A", "a", "motorA" style identifiers.
func ParseMotorID(s string) (MotorID, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "motor")
	switch s {
	case "a":
		return MotorA, nil
	case "b":
		return MotorB, nil
	}
	return "", fmt.Errorf("%w: unknown motor %q", ErrInvalidArgument, s)
}

// Valid reports whether id names a known motor.
func (id MotorID) Valid() bool { return id == MotorA || id == MotorB }

// Status is the operating status of a motor.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusJammed  Status = "jammed"
)

// Direction is the rotation direction of a motor.
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

// ParseDirection validates a direction string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Forward:
		return Forward, nil
	case Reverse:
		return Reverse, nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidArgument, s)
}

// PWM duty bounds.
const (
	MinSpeed = 0
	MaxSpeed = 255
)

// MotorState is the current view of one motor.
type MotorState struct {
	ID           MotorID   `json:"id"`
	IsOn         bool      `json:"isOn"`
	Status       Status    `json:"status"`
	Direction    Direction `json:"direction"`
	Speed        int       `json:"speed"`
	Voltage      float64   `json:"voltage"`
	Current      float64   `json:"current"`
	RPM          int       `json:"rpm"`
	Load         float64   `json:"load"`
	LastSequence uint64    `json:"lastSequence"`

	// Revision is bumped on every committed mutation of this motor.
	Revision uint64 `json:"revision"`
}

// NewMotorState returns the zeroed state a motor starts with.
func NewMotorState(id MotorID) MotorState {
	return MotorState{ID: id, Status: StatusStopped, Direction: Forward}
}

// LoadPercent is |current| relative to maxCurrent (mA), in percent.
func (m MotorState) LoadPercent(maxCurrent float64) float64 {
	if maxCurrent <= 0 {
		return 0
	}
	return math.Abs(m.Current) / maxCurrent * 100
}

// Metric names a recorded time series.
type Metric string

const (
	MetricVoltage Metric = "voltage"
	MetricCurrent Metric = "current"
	MetricRPM     Metric = "rpm"
)

// Metrics lists every recorded metric.
var Metrics = []Metric{MetricVoltage, MetricCurrent, MetricRPM}

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(s)); m {
	case MetricVoltage, MetricCurrent, MetricRPM:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidArgument, s)
}

// WindowSamples maps display windows to sample counts at one sample per second.
var WindowSamples = map[string]int{
	"30s": 30,
	"1m":  60,
	"5m":  300,
	"15m": 900,
}

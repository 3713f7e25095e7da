package model

import "errors"

var (
	// ErrInvalidArgument is returned for out-of-range or unknown parameters.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidTransition is returned when a command is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrCommandTimeout means the device did not acknowledge in time.
	ErrCommandTimeout = errors.New("command timeout")
	// ErrCommandRejected means the device refused the command.
	ErrCommandRejected = errors.New("command rejected")
	// ErrStaleTelemetry marks a frame whose sequence is not newer than the applied one.
	ErrStaleTelemetry = errors.New("stale telemetry")
	// ErrConnectionLost is reported when the telemetry channel drops.
	ErrConnectionLost = errors.New("connection lost")
	// ErrJamDetected is the safety event raised by the jam detector.
	ErrJamDetected = errors.New("jam detected")
	// ErrBusy is returned when a composite operation is already running.
	ErrBusy = errors.New("orchestration in progress")
	// ErrPreempted means an emergency stop superseded the operation.
	ErrPreempted = errors.New("preempted by emergency stop")
)

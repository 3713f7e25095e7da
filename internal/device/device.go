// Package device connects the engine to the roller hardware. A Device is a line-based
// byte stream (serial port, pipe); Link runs the command/telemetry protocol over it.
// HTTPLink, WebSocketSource and MQTTSource cover the network transports of the
// ESP32 firmware.
package device

import (
	"context"
	"errors"
	"time"

	"RollerLink/internal/model"
)

// ErrReadTimeout is returned by ReadLine when no line arrived within the timeout.
var ErrReadTimeout = errors.New("read timeout")

// Device defines an abstract interface for line-based communication devices.
type Device interface {
	// ReadLine reads a single line terminated by '\n'.
	// If timeout > 0, it returns ErrReadTimeout after timeout if no line is available.
	ReadLine(timeout time.Duration) (string, error)

	// WriteLine writes s followed by '\n' to the device.
	WriteLine(s string) error

	// Close closes the device and releases underlying resources.
	Close() error
}

// Sink receives the telemetry stream and channel state changes.
type Sink interface {
	Frame(f model.TelemetryFrame)
	Connected()
	Disconnected(err error)
}

// Source pushes telemetry into a Sink until ctx is done, reconnecting as needed.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

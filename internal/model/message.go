package model

// EnvelopeKind tags a line exchanged with the device.
type EnvelopeKind string

const (
	EnvTelemetry EnvelopeKind = "tel"
	EnvCommand   EnvelopeKind = "cmd"
	EnvAck       EnvelopeKind = "ack"
	EnvNak       EnvelopeKind = "nak"
)

// Envelope is one decoded device line. Only the fields matching Kind are set.
type Envelope struct {
	Kind    EnvelopeKind
	ID      uint64
	Frame   TelemetryFrame
	Command Command
	Reason  string
}

package model

import "time"

// TelemetryFrame is one sequenced measurement update pushed by the device.
// Running, Speed and Direction are optional device-confirmed state.
type TelemetryFrame struct {
	MotorID    MotorID    `json:"motorId"`
	Sequence   uint64     `json:"sequence"`
	Voltage    float64    `json:"voltage"`
	Current    float64    `json:"current"`
	RPM        int        `json:"rpm"`
	LEDState   *bool      `json:"ledState,omitempty"`
	RSSI       int        `json:"rssi"`
	Uptime     int64      `json:"uptime"`
	PacketLoss float64    `json:"packetLoss"`
	Running    *bool      `json:"running,omitempty"`
	Speed      *int       `json:"speed,omitempty"`
	Direction  *Direction `json:"direction,omitempty"`

	// ReceivedAt is stamped by the engine on arrival; it is not part of the wire format.
	ReceivedAt time.Time `json:"-"`
}

package model

// ConnectionState describes the telemetry link as seen by the engine.
type ConnectionState string

const (
	Connected    ConnectionState = "connected"
	Degraded     ConnectionState = "degraded"
	Disconnected ConnectionState = "disconnected"
)

// SystemState is the device health reported alongside telemetry.
type SystemState struct {
	WifiConnected   bool            `json:"wifiConnected"`
	RSSI            int             `json:"rssi"`
	Uptime          int64           `json:"uptime"`
	PacketLoss      float64         `json:"packetLoss"`
	ConnectionState ConnectionState `json:"connectionState"`
	LEDOn           bool            `json:"ledOn"`
}

// Health is the read-only health snapshot handed to consumers.
type Health struct {
	WifiConnected   bool            `json:"wifiConnected"`
	RSSI            int             `json:"rssi"`
	Uptime          int64           `json:"uptime"`
	PacketLoss      float64         `json:"packetLoss"`
	ConnectionState ConnectionState `json:"connectionState"`
	Signal          SignalQuality   `json:"signal"`
	HighPacketLoss  bool            `json:"highPacketLoss"`
}

// HighPacketLossPercent is the loss above which the link is flagged.
const HighPacketLossPercent = 5.0

// Health derives the consumer snapshot from s.
func (s SystemState) Health() Health {
	return Health{
		WifiConnected:   s.WifiConnected,
		RSSI:            s.RSSI,
		Uptime:          s.Uptime,
		PacketLoss:      s.PacketLoss,
		ConnectionState: s.ConnectionState,
		Signal:          SignalFromRSSI(s.RSSI),
		HighPacketLoss:  s.PacketLoss > HighPacketLossPercent,
	}
}

// SignalQuality is a coarse label for RSSI.
type SignalQuality string

const (
	SignalExcellent SignalQuality = "excellent"
	SignalGood      SignalQuality = "good"
	SignalFair      SignalQuality = "fair"
	SignalPoor      SignalQuality = "poor"
)

// SignalFromRSSI buckets an RSSI reading in dBm.
func SignalFromRSSI(rssi int) SignalQuality {
	switch {
	case rssi > -50:
		return SignalExcellent
	case rssi > -60:
		return SignalGood
	case rssi > -70:
		return SignalFair
	default:
		return SignalPoor
	}
}

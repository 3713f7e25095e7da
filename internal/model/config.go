package model

import "time"

// Config represents the root structure loaded from configs/config.yml.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Engine    EngineConfig    `yaml:"engine"`
	Jam       JamConfig       `yaml:"jam"`
	Modes     []ModeConfig    `yaml:"modes"`
	API       APIConfig       `yaml:"api"`
}

// DeviceConfig selects the command channel to the roller.
type DeviceConfig struct {
	Transport  string `yaml:"transport"`   // serial or http
	SerialPort string `yaml:"serial_port"` // e.g. /dev/ttyUSB0
	SerialBaud int    `yaml:"serial_baud"`
	WireFormat string `yaml:"wire_format"` // csv or json, serial only
	BaseURL    string `yaml:"base_url"`    // ESP32 REST endpoint, http only
}

// TelemetryConfig selects the telemetry channel from the roller.
type TelemetryConfig struct {
	Source       string `yaml:"source"` // serial, websocket or mqtt
	WebSocketURL string `yaml:"websocket_url"`
	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTTopic    string `yaml:"mqtt_topic"`
	MQTTClientID string `yaml:"mqtt_client_id"`
	BackoffMinMs int    `yaml:"backoff_min_ms"`
	BackoffMaxMs int    `yaml:"backoff_max_ms"`
}

// EngineConfig tunes the synchronization engine.
type EngineConfig struct {
	HistoryCapacity     int     `yaml:"history_capacity"`
	LogCapacity         int     `yaml:"log_capacity"`
	CommandTimeoutMs    int     `yaml:"command_timeout_ms"`
	Reconciliation      string  `yaml:"reconciliation"` // retain-optimistic or rollback-on-failure
	SettleDelayMs       int     `yaml:"settle_delay_ms"`
	EmergencyCooldownMs int     `yaml:"emergency_cooldown_ms"`
	DegradedPacketLoss  float64 `yaml:"degraded_packet_loss"`
}

// JamConfig tunes the jam detector.
type JamConfig struct {
	MaxCurrentMA     float64 `yaml:"max_current_ma"`
	LoadRatio        float64 `yaml:"load_ratio"`
	DebounceFrames   int     `yaml:"debounce_frames"`
	DebounceWindowMs int     `yaml:"debounce_window_ms"`
}

// ModeConfig is one row of the power mode table.
type ModeConfig struct {
	Name   string `yaml:"name"`
	SpeedA int    `yaml:"speed_a"`
	SpeedB int    `yaml:"speed_b"`
}

// APIConfig configures the HTTP/websocket API.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Ms converts a millisecond config value to a duration.
func Ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// ApplyDefaults fills zero values with the stock settings.
func (c *Config) ApplyDefaults() {
	if c.Device.Transport == "" {
		c.Device.Transport = "serial"
	}
	if c.Device.SerialBaud == 0 {
		c.Device.SerialBaud = 115200
	}
	if c.Device.WireFormat == "" {
		c.Device.WireFormat = "csv"
	}
	if c.Telemetry.Source == "" {
		c.Telemetry.Source = c.Device.Transport
		if c.Telemetry.Source == "http" {
			c.Telemetry.Source = "websocket"
		}
	}
	if c.Telemetry.MQTTTopic == "" {
		c.Telemetry.MQTTTopic = "roller/telemetry"
	}
	if c.Telemetry.MQTTClientID == "" {
		c.Telemetry.MQTTClientID = "rollerd"
	}
	if c.Telemetry.BackoffMinMs == 0 {
		c.Telemetry.BackoffMinMs = 500
	}
	if c.Telemetry.BackoffMaxMs == 0 {
		c.Telemetry.BackoffMaxMs = 30000
	}
	if c.Engine.HistoryCapacity < 900 {
		c.Engine.HistoryCapacity = 900
	}
	if c.Engine.LogCapacity == 0 {
		c.Engine.LogCapacity = 200
	}
	if c.Engine.CommandTimeoutMs == 0 {
		c.Engine.CommandTimeoutMs = 3000
	}
	if c.Engine.Reconciliation == "" {
		c.Engine.Reconciliation = "retain-optimistic"
	}
	if c.Engine.SettleDelayMs == 0 {
		c.Engine.SettleDelayMs = 200
	}
	if c.Engine.EmergencyCooldownMs == 0 {
		c.Engine.EmergencyCooldownMs = 2000
	}
	if c.Engine.DegradedPacketLoss == 0 {
		c.Engine.DegradedPacketLoss = HighPacketLossPercent
	}
	if c.Jam.MaxCurrentMA == 0 {
		c.Jam.MaxCurrentMA = 2000
	}
	if c.Jam.LoadRatio == 0 {
		c.Jam.LoadRatio = 0.8
	}
	if c.Jam.DebounceFrames == 0 {
		c.Jam.DebounceFrames = 3
	}
	if c.Jam.DebounceWindowMs == 0 {
		c.Jam.DebounceWindowMs = 1000
	}
	if len(c.Modes) == 0 {
		c.Modes = DefaultModes()
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
}

// DefaultModes is the stock power mode table.
func DefaultModes() []ModeConfig {
	return []ModeConfig{
		{Name: "eco", SpeedA: 70, SpeedB: 70},
		{Name: "normal", SpeedA: 75, SpeedB: 75},
		{Name: "power", SpeedA: 85, SpeedB: 85},
	}
}

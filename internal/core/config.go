package core

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"RollerLink/internal/dispatch"
	"RollerLink/internal/model"
	"RollerLink/internal/parser"
)

// LoadDotEnv loads environment variables from path. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// LoadConfig reads the YAML configuration at path. ${VAR} references are expanded
// from the environment before parsing; defaults fill whatever is left empty.
func LoadConfig(path string) (*model.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[config] read %s: %w", path, err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("[config] parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg is internally consistent.
func Validate(cfg *model.Config) error {
	switch cfg.Device.Transport {
	case "serial":
		if cfg.Device.SerialPort == "" {
			return errors.New("[config] device.serial_port is required for serial transport")
		}
	case "http":
		if cfg.Device.BaseURL == "" {
			return errors.New("[config] device.base_url is required for http transport")
		}
	default:
		return fmt.Errorf("[config] device.transport %q: want serial or http", cfg.Device.Transport)
	}
	if _, err := parser.New(cfg.Device.WireFormat); err != nil {
		return fmt.Errorf("[config] device.wire_format: %w", err)
	}

	switch cfg.Telemetry.Source {
	case "serial":
		if cfg.Device.Transport != "serial" {
			return errors.New("[config] telemetry.source serial needs device.transport serial")
		}
	case "websocket":
		if cfg.Telemetry.WebSocketURL == "" {
			return errors.New("[config] telemetry.websocket_url is required")
		}
	case "mqtt":
		if cfg.Telemetry.MQTTBroker == "" {
			return errors.New("[config] telemetry.mqtt_broker is required")
		}
	default:
		return fmt.Errorf("[config] telemetry.source %q: want serial, websocket or mqtt", cfg.Telemetry.Source)
	}

	if _, err := dispatch.ParsePolicy(cfg.Engine.Reconciliation); err != nil {
		return fmt.Errorf("[config] engine.reconciliation: %w", err)
	}
	if cfg.Jam.LoadRatio <= 0 || cfg.Jam.LoadRatio > 1 {
		return fmt.Errorf("[config] jam.load_ratio %v outside (0,1]", cfg.Jam.LoadRatio)
	}

	seen := make(map[string]bool, len(cfg.Modes))
	for _, m := range cfg.Modes {
		name := strings.ToLower(m.Name)
		if name == "" {
			return errors.New("[config] modes: name is required")
		}
		if seen[name] {
			return fmt.Errorf("[config] modes: duplicate mode %q", m.Name)
		}
		seen[name] = true
		for _, s := range []int{m.SpeedA, m.SpeedB} {
			if s < model.MinSpeed || s > model.MaxSpeed {
				return fmt.Errorf("[config] mode %q: speed %d outside [%d,%d]", m.Name, s, model.MinSpeed, model.MaxSpeed)
			}
		}
	}
	return nil
}

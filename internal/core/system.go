// Package core assembles the engine from configuration and manages its lifecycle.
package core

import (
	"context"
	"fmt"
	"sync"

	"RollerLink/internal/app"
	"RollerLink/internal/device"
	"RollerLink/internal/dispatch"
	"RollerLink/internal/ingest"
	"RollerLink/internal/jam"
	"RollerLink/internal/model"
	"RollerLink/internal/orchestrator"
	"RollerLink/internal/parser"
	"RollerLink/internal/state"
	"RollerLink/internal/util"
)

// System owns every engine component plus the transports and the API server.
type System struct {
	cfg *model.Config

	Store        *state.Store
	Ingest       *ingest.Ingestor
	Dispatcher   *dispatch.Dispatcher
	Jam          *jam.Detector
	Orchestrator *orchestrator.Orchestrator
	API          *app.App

	sources []device.Source

	startLock sync.Mutex
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewSystem reads the YAML configuration at cfgPath and builds a System from it.
func NewSystem(cfgPath string) (*System, error) {
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// New builds the transports described by cfg and the engine on top of them.
func New(cfg *model.Config) (*System, error) {
	backoff := util.Backoff{Min: model.Ms(cfg.Telemetry.BackoffMinMs), Max: model.Ms(cfg.Telemetry.BackoffMaxMs)}

	var (
		link    dispatch.Link
		sources []device.Source
	)
	switch cfg.Device.Transport {
	case "serial":
		codec, err := parser.New(cfg.Device.WireFormat)
		if err != nil {
			return nil, err
		}
		port, baud := cfg.Device.SerialPort, cfg.Device.SerialBaud
		l := device.NewLink(func() (device.Device, error) {
			return device.NewSerialDevice(port, baud)
		}, codec, device.LinkOptions{Backoff: backoff})
		// the link must run to read acknowledgements even if telemetry comes from elsewhere
		link, sources = l, append(sources, l)
	case "http":
		link = device.NewHTTPLink(cfg.Device.BaseURL, nil)
	default:
		return nil, fmt.Errorf("[core] unknown transport %q", cfg.Device.Transport)
	}

	switch cfg.Telemetry.Source {
	case "serial":
	case "websocket":
		sources = append(sources, device.NewWebSocketSource(cfg.Telemetry.WebSocketURL, parser.NewJSONParser(), backoff))
	case "mqtt":
		sources = append(sources, device.NewMQTTSource(device.MQTTOptions{
			Broker:   cfg.Telemetry.MQTTBroker,
			Topic:    cfg.Telemetry.MQTTTopic,
			ClientID: cfg.Telemetry.MQTTClientID,
		}, parser.NewJSONParser()))
	default:
		return nil, fmt.Errorf("[core] unknown telemetry source %q", cfg.Telemetry.Source)
	}

	return Assemble(cfg, link, sources...)
}

// Assemble builds the engine over an existing command link and telemetry sources.
func Assemble(cfg *model.Config, link dispatch.Link, sources ...device.Source) (*System, error) {
	policy, err := dispatch.ParsePolicy(cfg.Engine.Reconciliation)
	if err != nil {
		return nil, err
	}

	s := &System{cfg: cfg, sources: sources}
	s.Store = state.NewStore(state.Options{
		HistoryCapacity: cfg.Engine.HistoryCapacity,
		LogCapacity:     cfg.Engine.LogCapacity,
	})
	s.Dispatcher = dispatch.New(s.Store, link, dispatch.Options{
		Policy:  policy,
		Timeout: model.Ms(cfg.Engine.CommandTimeoutMs),
	})
	s.Jam = jam.New(s.Store, s.Dispatcher, jam.Options{
		MaxCurrent:     cfg.Jam.MaxCurrentMA,
		LoadRatio:      cfg.Jam.LoadRatio,
		DebounceFrames: cfg.Jam.DebounceFrames,
		DebounceWindow: model.Ms(cfg.Jam.DebounceWindowMs),
	})
	s.Ingest = ingest.New(s.Store, ingest.Options{DegradedPacketLoss: cfg.Engine.DegradedPacketLoss}, s.Jam)
	s.Orchestrator = orchestrator.New(s.Store, s.Dispatcher, orchestrator.Options{
		Modes:       cfg.Modes,
		SettleDelay: model.Ms(cfg.Engine.SettleDelayMs),
		Cooldown:    model.Ms(cfg.Engine.EmergencyCooldownMs),
	})
	s.API = app.NewApp(app.Deps{
		Store:        s.Store,
		Dispatcher:   s.Dispatcher,
		Orchestrator: s.Orchestrator,
		Jam:          s.Jam,
		Ingest:       s.Ingest,
		MaxCurrent:   cfg.Jam.MaxCurrentMA,
	})
	return s, nil
}

// Config returns the configuration the system was built from.
func (s *System) Config() *model.Config { return s.cfg }

// StartAll starts the telemetry sources and the API server in the background.
func (s *System) StartAll() error {
	s.startLock.Lock()
	defer s.startLock.Unlock()
	if s.started {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, src := range s.sources {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := src.Run(ctx, s.Ingest); err != nil && ctx.Err() == nil {
				util.Error("[core] telemetry source stopped: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.API.Start(s.cfg.API.Addr); err != nil {
			util.Error("%v", err)
		}
	}()

	s.started = true
	util.Info("[core] system started (transport=%s, telemetry=%s)", s.cfg.Device.Transport, s.cfg.Telemetry.Source)
	return nil
}

// StopAll stops all running components gracefully.
func (s *System) StopAll() {
	s.startLock.Lock()
	defer s.startLock.Unlock()
	if !s.started {
		return
	}
	s.cancel()
	s.API.Stop()
	s.wg.Wait()
	s.started = false
	util.Info("[core] system stopped")
}

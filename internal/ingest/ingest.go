// Package ingest merges the device telemetry stream into the state store.
//
// Frames may arrive out of order or duplicated. A frame is applied only when its
// sequence is strictly greater than the last one applied for that motor, so the
// resulting state depends only on the highest sequence seen.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"RollerLink/internal/model"
	"RollerLink/internal/state"
	"RollerLink/internal/util"
)

// Observer is notified after every applied frame with the committed motor state.
type Observer interface {
	Observe(frame model.TelemetryFrame, motor model.MotorState)
}

// Options configures an Ingestor.
type Options struct {
	// DegradedPacketLoss is the packet loss (percent) above which a live link is reported
	// as degraded.
	DegradedPacketLoss float64
	Now                func() time.Time
}

// Stats counts processed frames.
type Stats struct {
	Applied uint64 `json:"applied"`
	Stale   uint64 `json:"stale"`
	Invalid uint64 `json:"invalid"`
}

// Ingestor applies telemetry to a Store. It implements the device Sink contract.
type Ingestor struct {
	store     *state.Store
	opts      Options
	observers []Observer

	applied atomic.Uint64
	stale   atomic.Uint64
	invalid atomic.Uint64
}

// New returns an Ingestor writing into store.
func New(store *state.Store, opts Options, observers ...Observer) *Ingestor {
	if opts.DegradedPacketLoss <= 0 {
		opts.DegradedPacketLoss = model.HighPacketLossPercent
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ingestor{store: store, opts: opts, observers: observers}
}

// AddObserver registers o for subsequent frames. It must be called before the
// ingestor starts receiving frames.
func (in *Ingestor) AddObserver(o Observer) {
	in.observers = append(in.observers, o)
}

// Stats returns the frame counters.
func (in *Ingestor) Stats() Stats {
	return Stats{Applied: in.applied.Load(), Stale: in.stale.Load(), Invalid: in.invalid.Load()}
}

// Apply merges f into the store. It returns model.ErrStaleTelemetry when f is not
// newer than the last applied frame for its motor.
func (in *Ingestor) Apply(f model.TelemetryFrame) error {
	if !f.MotorID.Valid() {
		in.invalid.Add(1)
		return fmt.Errorf("[ingest] %w: frame for motor %q", model.ErrInvalidArgument, f.MotorID)
	}
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = in.opts.Now()
	}

	m, err := in.store.RecordTelemetry(f.MotorID, func(m *model.MotorState) error {
		if f.Sequence <= m.LastSequence {
			return model.ErrStaleTelemetry
		}
		merge(m, f)
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrStaleTelemetry) {
			in.stale.Add(1)
		}
		return err
	}
	in.applied.Add(1)

	in.store.UpdateSystem(func(s *model.SystemState) {
		s.WifiConnected = true
		s.RSSI = f.RSSI
		s.Uptime = f.Uptime
		s.PacketLoss = f.PacketLoss
		if f.LEDState != nil {
			s.LEDOn = *f.LEDState
		}
		if f.PacketLoss > in.opts.DegradedPacketLoss {
			s.ConnectionState = model.Degraded
		} else {
			s.ConnectionState = model.Connected
		}
	})

	for _, o := range in.observers {
		o.Observe(f, m)
	}
	return nil
}

// merge copies measurements and any device-confirmed state from f into m.
func merge(m *model.MotorState, f model.TelemetryFrame) {
	m.LastSequence = f.Sequence
	m.Voltage = f.Voltage
	m.Current = f.Current
	m.RPM = f.RPM
	m.Load = f.Voltage * f.Current / 1000

	if f.Running != nil {
		m.IsOn = *f.Running
		if m.Status != model.StatusJammed {
			if m.IsOn {
				m.Status = model.StatusRunning
			} else {
				m.Status = model.StatusStopped
			}
		}
	}
	if f.Speed != nil && *f.Speed >= model.MinSpeed && *f.Speed <= model.MaxSpeed {
		m.Speed = *f.Speed
	}
	if f.Direction != nil && (*f.Direction == model.Forward || *f.Direction == model.Reverse) {
		m.Direction = *f.Direction
	}
}

// Frame implements the device Sink. Stale frames are dropped silently.
func (in *Ingestor) Frame(f model.TelemetryFrame) {
	err := in.Apply(f)
	if err != nil && !errors.Is(err, model.ErrStaleTelemetry) {
		util.Warn("%v", err)
	}
}

// Connected implements the device Sink. The link is only reported as connected again
// once a fresh frame has been applied.
func (in *Ingestor) Connected() {
	util.Info("[ingest] telemetry channel up, waiting for fresh frame")
}

// Disconnected implements the device Sink.
func (in *Ingestor) Disconnected(err error) {
	var dropped bool
	in.store.UpdateSystem(func(s *model.SystemState) {
		dropped = s.ConnectionState != model.Disconnected
		s.ConnectionState = model.Disconnected
		s.WifiConnected = false
	})
	if dropped {
		util.Warn("[ingest] telemetry channel down: %v", err)
		in.store.LogSystem("Connection Lost")
	}
}

// Run applies frames from ch until ch is closed or ctx is done.
func (in *Ingestor) Run(ctx context.Context, ch <-chan model.TelemetryFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			in.Frame(f)
		}
	}
}

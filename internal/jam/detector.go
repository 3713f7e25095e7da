// Package jam watches motor telemetry for overload and stall signatures and latches a
// jam until an operator acknowledges it.
package jam

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"RollerLink/internal/dispatch"
	"RollerLink/internal/model"
	"RollerLink/internal/state"
	"RollerLink/internal/util"
)

// Phase is the detector state of one motor.
type Phase string

const (
	Normal  Phase = "normal"
	Suspect Phase = "suspect"
	Jammed  Phase = "jammed"
)

// Stopper issues the automatic stop. *dispatch.Dispatcher satisfies it.
type Stopper interface {
	Stop(ctx context.Context, id model.MotorID) (*dispatch.Pending, error)
}

// Options configures the detector thresholds.
type Options struct {
	MaxCurrent     float64 // mA
	LoadRatio      float64
	DebounceFrames int
	DebounceWindow time.Duration
	Now            func() time.Time
}

type tracker struct {
	phase  Phase
	frames int
	since  time.Time
}

// Detector runs one state machine per motor. It implements ingest.Observer.
type Detector struct {
	store *state.Store
	stop  Stopper
	opts  Options

	mu     sync.Mutex
	motors map[model.MotorID]*tracker
}

// New returns a Detector. Zero options select 2000 mA, 0.8, 3 frames and 1s.
func New(store *state.Store, stop Stopper, opts Options) *Detector {
	if opts.MaxCurrent <= 0 {
		opts.MaxCurrent = 2000
	}
	if opts.LoadRatio <= 0 {
		opts.LoadRatio = 0.8
	}
	if opts.DebounceFrames <= 0 {
		opts.DebounceFrames = 3
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	d := &Detector{store: store, stop: stop, opts: opts, motors: make(map[model.MotorID]*tracker)}
	for _, id := range model.Motors {
		d.motors[id] = &tracker{phase: Normal}
	}
	return d
}

// Phase returns the detector state of motor id.
func (d *Detector) Phase(id model.MotorID) Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.motors[id]; ok {
		return t.phase
	}
	return Normal
}

// abnormal reports an overload or a stall: commanded to turn but not turning.
func (d *Detector) abnormal(m model.MotorState) bool {
	if math.Abs(m.Current)/d.opts.MaxCurrent > d.opts.LoadRatio {
		return true
	}
	return m.IsOn && m.Speed > 0 && m.RPM == 0
}

// Observe advances the state machine of the frame's motor.
func (d *Detector) Observe(f model.TelemetryFrame, m model.MotorState) {
	d.mu.Lock()
	t, ok := d.motors[m.ID]
	if !ok {
		d.mu.Unlock()
		return
	}
	if t.phase == Jammed {
		d.mu.Unlock()
		return
	}
	if !d.abnormal(m) {
		t.phase, t.frames = Normal, 0
		d.mu.Unlock()
		return
	}

	now := f.ReceivedAt
	if now.IsZero() {
		now = d.opts.Now()
	}
	if t.phase == Normal {
		t.phase, t.frames, t.since = Suspect, 1, now
	} else {
		t.frames++
	}
	if t.frames < d.opts.DebounceFrames && now.Sub(t.since) < d.opts.DebounceWindow {
		d.mu.Unlock()
		return
	}
	// phase and store status flip together so ClearJam never sees one without the other
	t.phase = Jammed
	_, err := d.store.UpdateMotor(m.ID, func(s *model.MotorState) error {
		s.Status = model.StatusJammed
		return nil
	})
	d.mu.Unlock()
	if err != nil {
		util.Error("[jam] mark motor %s jammed: %v", m.ID, err)
	}

	d.trip(m)
}

func (d *Detector) trip(m model.MotorState) {
	util.Warn("[jam] motor %s jammed: current=%.0fmA rpm=%d speed=%d", m.ID, m.Current, m.RPM, m.Speed)
	d.store.LogMotor(m.ID, "Jam Detected")

	if _, err := d.stop.Stop(context.Background(), m.ID); err != nil {
		util.Error("[jam] auto stop motor %s: %v", m.ID, err)
	}
}

// ClearJam acknowledges a jam on motor id. The motor is left stopped.
func (d *Detector) ClearJam(id model.MotorID) error {
	if !id.Valid() {
		return fmt.Errorf("[jam] %w: unknown motor %q", model.ErrInvalidArgument, id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.motors[id]
	_, err := d.store.UpdateMotor(id, func(m *model.MotorState) error {
		if t.phase != Jammed && m.Status != model.StatusJammed {
			return fmt.Errorf("%w: motor %s is not jammed", model.ErrInvalidTransition, id)
		}
		m.IsOn = false
		m.Status = model.StatusStopped
		return nil
	})
	if err != nil {
		return fmt.Errorf("[jam] clear: %w", err)
	}
	t.phase, t.frames = Normal, 0
	d.store.LogMotor(id, "Jam Cleared")
	util.Info("[jam] motor %s jam cleared", id)
	return nil
}

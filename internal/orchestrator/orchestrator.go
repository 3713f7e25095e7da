// Package orchestrator sequences composite operations over both motors: power mode
// switches and start/stop of both motors. At most one composite operation runs at a
// time; the emergency stop bypasses that guard and preempts whatever is running.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"RollerLink/internal/dispatch"
	"RollerLink/internal/model"
	"RollerLink/internal/state"
	"RollerLink/internal/util"
)

// Submitter issues single commands. *dispatch.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, cmd model.Command, opts ...dispatch.SubmitOption) (*dispatch.Pending, error)
}

// Options configures an Orchestrator. Zero values select the defaults.
type Options struct {
	Modes []model.ModeConfig
	// InitialMode is reported as active before any mode was applied. Empty selects
	// "normal" when the table has it.
	InitialMode string
	SettleDelay time.Duration
	Cooldown    time.Duration
	Now         func() time.Time
}

// Orchestrator runs composite operations under a single-flight guard.
type Orchestrator struct {
	store *state.Store
	disp  Submitter
	opts  Options
	modes map[string]model.ModeConfig

	busy atomic.Bool

	mu        sync.Mutex
	mode      string
	coolUntil time.Time
}

// New returns an Orchestrator.
func New(store *state.Store, disp Submitter, opts Options) *Orchestrator {
	if len(opts.Modes) == 0 {
		opts.Modes = model.DefaultModes()
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 200 * time.Millisecond
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	o := &Orchestrator{store: store, disp: disp, opts: opts, modes: make(map[string]model.ModeConfig)}
	for _, m := range opts.Modes {
		o.modes[strings.ToLower(m.Name)] = m
	}
	if opts.InitialMode == "" {
		opts.InitialMode = "normal"
	}
	if m, ok := o.modes[strings.ToLower(opts.InitialMode)]; ok {
		o.mode = m.Name
	}
	return o
}

// Busy reports whether a composite operation is running.
func (o *Orchestrator) Busy() bool { return o.busy.Load() }

// Mode returns the last power mode applied successfully, or "" if none.
func (o *Orchestrator) Mode() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// Modes returns the configured mode table.
func (o *Orchestrator) Modes() []model.ModeConfig {
	return append([]model.ModeConfig(nil), o.opts.Modes...)
}

// step is one barrier-joined fan-out of commands, optionally preceded by a delay.
type step struct {
	name  string
	delay time.Duration
	cmds  []model.Command
}

func (o *Orchestrator) acquire() error {
	if !o.busy.CompareAndSwap(false, true) {
		return model.ErrBusy
	}
	return nil
}

func (o *Orchestrator) release() { o.busy.Store(false) }

// SetPowerMode applies the speeds of mode to both motors and starts them if both were
// off. Requesting the current mode again is a no-op.
func (o *Orchestrator) SetPowerMode(ctx context.Context, mode string) error {
	cfg, ok := o.modes[strings.ToLower(mode)]
	if !ok {
		return fmt.Errorf("[orchestrator] %w: unknown mode %q", model.ErrInvalidArgument, mode)
	}
	if err := o.acquire(); err != nil {
		return fmt.Errorf("[orchestrator] mode %s: %w", cfg.Name, err)
	}
	defer o.release()

	if o.Mode() == cfg.Name {
		util.Info("[orchestrator] mode %s already active", cfg.Name)
		o.store.LogSystem(fmt.Sprintf("Mode %s already active", cfg.Name))
		return nil
	}

	epoch := o.store.Epoch()
	a, _ := o.store.Motor(model.MotorA)
	b, _ := o.store.Motor(model.MotorB)
	plan := []step{{
		name: "speed",
		cmds: []model.Command{
			model.SpeedCommand(model.MotorA, cfg.SpeedA),
			model.SpeedCommand(model.MotorB, cfg.SpeedB),
		},
	}}
	if !a.IsOn && !b.IsOn {
		plan = append(plan, step{
			name:  "start",
			delay: o.opts.SettleDelay,
			cmds:  []model.Command{model.StartCommand(model.MotorA), model.StartCommand(model.MotorB)},
		})
	}

	if err := o.run(ctx, epoch, plan); err != nil {
		o.store.LogSystem(fmt.Sprintf("Mode %s failed", cfg.Name))
		return fmt.Errorf("[orchestrator] mode %s: %w", cfg.Name, err)
	}
	o.mu.Lock()
	o.mode = cfg.Name
	o.mu.Unlock()
	o.store.LogSystem("Mode: " + cfg.Name)
	util.Info("[orchestrator] mode %s applied", cfg.Name)
	return nil
}

// StartBoth starts both motors concurrently.
func (o *Orchestrator) StartBoth(ctx context.Context) error {
	return o.both(ctx, "start", "Both Started", model.StartCommand)
}

// StopBoth stops both motors concurrently.
func (o *Orchestrator) StopBoth(ctx context.Context) error {
	return o.both(ctx, "stop", "Both Stopped", model.StopCommand)
}

func (o *Orchestrator) both(ctx context.Context, name, event string, mk func(model.MotorID) model.Command) error {
	if err := o.acquire(); err != nil {
		return fmt.Errorf("[orchestrator] %s both: %w", name, err)
	}
	defer o.release()

	plan := []step{{name: name, cmds: []model.Command{mk(model.MotorA), mk(model.MotorB)}}}
	if err := o.run(ctx, o.store.Epoch(), plan); err != nil {
		o.store.LogSystem(event + " failed")
		return fmt.Errorf("[orchestrator] %s both: %w", name, err)
	}
	o.store.LogSystem(event)
	return nil
}

// run executes plan step by step. Each step waits for every command it issued; a
// failure or a preemption skips the remaining steps.
func (o *Orchestrator) run(ctx context.Context, epoch uint64, plan []step) error {
	for _, s := range plan {
		if s.delay > 0 && !util.Sleep(ctx, s.delay) {
			return fmt.Errorf("step %s: %w", s.name, ctx.Err())
		}
		if o.store.Epoch() != epoch {
			return fmt.Errorf("step %s: %w", s.name, model.ErrPreempted)
		}
		if err := o.fanOut(ctx, epoch, s.cmds); err != nil {
			return fmt.Errorf("step %s: %w", s.name, err)
		}
	}
	return nil
}

func (o *Orchestrator) fanOut(ctx context.Context, epoch uint64, cmds []model.Command) error {
	errs := make([]error, len(cmds))
	var wg sync.WaitGroup
	for i, cmd := range cmds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := o.disp.Submit(ctx, cmd, dispatch.WithEpoch(epoch))
			if err != nil {
				errs[i] = err
				return
			}
			res, err := p.Wait(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", cmd, err)
				return
			}
			errs[i] = res.Err()
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

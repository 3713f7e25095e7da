// Package dispatch turns operator intents into device commands.
//
// Each command is validated and applied optimistically to the state store before the
// device is asked to perform it; the device outcome is delivered through a Pending
// handle. What happens to the optimistic state when the device fails is decided by
// the Dispatcher's reconciliation Policy.
package dispatch

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

// Link is the request/response command channel to the device. Send returns nil once
// the device acknowledged the command.
type Link interface {
	Send(ctx context.Context, cmd model.Command) error
}

// Policy decides what happens to optimistic state after a failed command.
type Policy string

const (
	// RetainOptimistic keeps the optimistic state; the failure is only reported.
	RetainOptimistic Policy = "retain-optimistic"
	// RollbackOnFailure restores the fields the command changed, unless a later command
	// was issued for the same motor or the fields no longer hold the optimistic values.
	RollbackOnFailure Policy = "rollback-on-failure"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case RetainOptimistic, RollbackOnFailure:
		return p, nil
	}
	return "", fmt.Errorf("%w: reconciliation policy %q", model.ErrInvalidArgument, s)
}

// Options configures a Dispatcher.
type Options struct {
	Policy  Policy
	Timeout time.Duration
}

const defaultTimeout = 3 * time.Second

// Dispatcher issues commands over a Link.
type Dispatcher struct {
	store *state.Store
	link  Link
	opts  Options

	// gen counts optimistic commits per motor; bumped under the store lock.
	gen map[model.MotorID]*atomic.Uint64
}

// New returns a Dispatcher. An empty policy selects RetainOptimistic.
func New(store *state.Store, link Link, opts Options) *Dispatcher {
	if opts.Policy == "" {
		opts.Policy = RetainOptimistic
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	d := &Dispatcher{store: store, link: link, opts: opts, gen: make(map[model.MotorID]*atomic.Uint64)}
	for _, id := range model.Motors {
		d.gen[id] = new(atomic.Uint64)
	}
	return d
}

// Policy returns the configured reconciliation policy.
func (d *Dispatcher) Policy() Policy { return d.opts.Policy }

// Start switches motor id on.
func (d *Dispatcher) Start(ctx context.Context, id model.MotorID) (*Pending, error) {
	return d.Submit(ctx, model.StartCommand(id))
}

// Stop switches motor id off.
func (d *Dispatcher) Stop(ctx context.Context, id model.MotorID) (*Pending, error) {
	return d.Submit(ctx, model.StopCommand(id))
}

// SetSpeed sets the PWM duty of motor id.
func (d *Dispatcher) SetSpeed(ctx context.Context, id model.MotorID, speed int) (*Pending, error) {
	return d.Submit(ctx, model.SpeedCommand(id, speed))
}

// SetDirection sets the rotation direction of motor id. The motor must be off.
func (d *Dispatcher) SetDirection(ctx context.Context, id model.MotorID, dir model.Direction) (*Pending, error) {
	return d.Submit(ctx, model.DirectionCommand(id, dir))
}

// SendCommand sends an auxiliary command addressed to motor id's controller.
func (d *Dispatcher) SendCommand(ctx context.Context, tok model.AuxToken, id model.MotorID) (*Pending, error) {
	return d.Submit(ctx, model.AuxCommand(id, tok))
}

type submitConfig struct {
	epoch *uint64
}

// SubmitOption tunes a single Submit call.
type SubmitOption func(*submitConfig)

// WithEpoch makes the optimistic update fail with model.ErrPreempted if an emergency
// stop happened after epoch was observed.
func WithEpoch(epoch uint64) SubmitOption {
	return func(c *submitConfig) { c.epoch = &epoch }
}

// Submit validates cmd, applies its optimistic update, logs it and sends it to the
// device in the background. Precondition failures are returned synchronously and
// leave the store untouched. Once Submit returns, the command cannot be cancelled;
// ctx only contributes its values.
func (d *Dispatcher) Submit(ctx context.Context, cmd model.Command, opts ...SubmitOption) (*Pending, error) {
	var cfg submitConfig
	for _, o := range opts {
		o(&cfg)
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("[dispatch] %s: %w", cmd, err)
	}

	var undo func()
	if cmd.Kind == model.CmdAux {
		undo = d.applyAux(cmd)
	} else {
		var err error
		undo, err = d.applyMotor(cmd, cfg.epoch)
		if err != nil {
			return nil, fmt.Errorf("[dispatch] %s: %w", cmd, err)
		}
	}
	d.store.LogMotor(cmd.Motor, eventFor(cmd))

	p := newPending(cmd)
	go d.send(context.WithoutCancel(ctx), p, undo)
	return p, nil
}

// applyMotor commits the optimistic motor update and returns its rollback.
func (d *Dispatcher) applyMotor(cmd model.Command, epoch *uint64) (func(), error) {
	var (
		before, after model.MotorState
		gen           uint64
	)
	fn := func(m *model.MotorState) error {
		before = *m
		if err := optimistic(m, cmd); err != nil {
			return err
		}
		after = *m
		gen = d.gen[cmd.Motor].Add(1)
		return nil
	}
	var err error
	if epoch != nil {
		_, err = d.store.UpdateMotorAt(*epoch, cmd.Motor, fn)
	} else {
		_, err = d.store.UpdateMotor(cmd.Motor, fn)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		_, err := d.store.UpdateMotor(cmd.Motor, func(m *model.MotorState) error {
			if d.gen[cmd.Motor].Load() != gen || !unchanged(*m, after, cmd.Kind) {
				return model.ErrPreempted
			}
			restore(m, before, cmd.Kind)
			return nil
		})
		if err != nil {
			util.Info("[dispatch] %s: rollback skipped, motor changed since", cmd)
			return
		}
		d.store.LogMotor(cmd.Motor, "Rolled back: "+cmd.Kind.String())
	}, nil
}

func (d *Dispatcher) applyAux(cmd model.Command) func() {
	var before bool
	want := cmd.Aux == model.AuxLEDOn
	d.store.UpdateSystem(func(s *model.SystemState) {
		before = s.LEDOn
		s.LEDOn = want
	})
	return func() {
		d.store.UpdateSystem(func(s *model.SystemState) {
			if s.LEDOn == want {
				s.LEDOn = before
			}
		})
	}
}

// optimistic is the exhaustive state transition for each command kind.
func optimistic(m *model.MotorState, cmd model.Command) error {
	switch cmd.Kind {
	case model.CmdStart:
		if m.Status == model.StatusJammed {
			return fmt.Errorf("%w: motor %s: %w", model.ErrInvalidTransition, m.ID, model.ErrJamDetected)
		}
		m.IsOn = true
		m.Status = model.StatusRunning
	case model.CmdStop:
		m.IsOn = false
		if m.Status != model.StatusJammed {
			m.Status = model.StatusStopped
		}
	case model.CmdSetSpeed:
		m.Speed = cmd.Speed
	case model.CmdSetDirection:
		if m.IsOn {
			return fmt.Errorf("%w: motor %s must be stopped to change direction", model.ErrInvalidTransition, m.ID)
		}
		m.Direction = cmd.Direction
	default:
		return fmt.Errorf("%w: command kind %d", model.ErrInvalidArgument, cmd.Kind)
	}
	return nil
}

func unchanged(m, after model.MotorState, kind model.CommandKind) bool {
	switch kind {
	case model.CmdStart, model.CmdStop:
		return m.IsOn == after.IsOn && m.Status == after.Status
	case model.CmdSetSpeed:
		return m.Speed == after.Speed
	case model.CmdSetDirection:
		return m.Direction == after.Direction
	}
	return false
}

func restore(m *model.MotorState, before model.MotorState, kind model.CommandKind) {
	switch kind {
	case model.CmdStart, model.CmdStop:
		m.IsOn = before.IsOn
		m.Status = before.Status
	case model.CmdSetSpeed:
		m.Speed = before.Speed
	case model.CmdSetDirection:
		m.Direction = before.Direction
	}
}

func eventFor(cmd model.Command) string {
	switch cmd.Kind {
	case model.CmdStart:
		return "Started"
	case model.CmdStop:
		return "Stopped"
	case model.CmdSetSpeed:
		return fmt.Sprintf("Speed Changed: %d", cmd.Speed)
	case model.CmdSetDirection:
		return "Direction: " + string(cmd.Direction)
	case model.CmdAux:
		return "Command: " + string(cmd.Aux)
	default:
		return cmd.String()
	}
}

func (d *Dispatcher) send(ctx context.Context, p *Pending, undo func()) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	res := model.Result{Command: p.cmd, Outcome: model.OutcomeSuccess}
	if err := d.link.Send(ctx, p.cmd); err != nil {
		res = classify(p.cmd, err)
		util.Warn("[dispatch] %s failed: %s %s", p.cmd, res.Outcome, res.Reason)
		d.store.LogMotor(p.cmd.Motor, fmt.Sprintf("%s failed (%s)", p.cmd.Kind, res.Outcome))
		if d.opts.Policy == RollbackOnFailure && undo != nil {
			undo()
		}
	}
	p.resolve(res)
}

func classify(cmd model.Command, err error) model.Result {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, model.ErrCommandTimeout) {
		return model.Result{Command: cmd, Outcome: model.OutcomeTimeout, Reason: err.Error()}
	}
	return model.Result{Command: cmd, Outcome: model.OutcomeRejected, Reason: err.Error()}
}

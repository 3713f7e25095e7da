package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RollerLink/internal/dispatch"
	"RollerLink/internal/model"
	"RollerLink/internal/state"
)

type fakeLink struct {
	mu     sync.Mutex
	sent   []model.Command
	gate   chan struct{}
	answer func(model.Command) error
}

func (l *fakeLink) Send(ctx context.Context, cmd model.Command) error {
	l.mu.Lock()
	l.sent = append(l.sent, cmd)
	gate, answer := l.gate, l.answer
	l.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if answer != nil {
		return answer(cmd)
	}
	return nil
}

func (l *fakeLink) commands() []model.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Command(nil), l.sent...)
}

func (l *fakeLink) kinds(kind model.CommandKind) []model.Command {
	var out []model.Command
	for _, c := range l.commands() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type fixture struct {
	store *state.Store
	link  *fakeLink
	orch  *Orchestrator
	now   time.Time
}

func newFixture(link *fakeLink) *fixture {
	f := &fixture{
		store: state.NewStore(state.Options{}),
		link:  link,
		now:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	d := dispatch.New(f.store, link, dispatch.Options{})
	f.orch = New(f.store, d, Options{SettleDelay: time.Millisecond, Now: func() time.Time { return f.now }})
	return f
}

func (f *fixture) setOn(t *testing.T, ids ...model.MotorID) {
	t.Helper()
	for _, id := range ids {
		_, err := f.store.UpdateMotor(id, func(m *model.MotorState) error {
			m.IsOn, m.Status = true, model.StatusRunning
			return nil
		})
		require.NoError(t, err)
	}
}

func (f *fixture) motor(t *testing.T, id model.MotorID) model.MotorState {
	t.Helper()
	m, err := f.store.Motor(id)
	require.NoError(t, err)
	return m
}

func (f *fixture) events() []string {
	var out []string
	for _, e := range f.store.Log(0) {
		if e.Source == model.SourceSystem {
			out = append(out, e.Event)
		}
	}
	return out
}

func TestStartBothFromOff(t *testing.T) {
	f := newFixture(&fakeLink{})

	require.NoError(t, f.orch.StartBoth(context.Background()))

	for _, id := range model.Motors {
		m := f.motor(t, id)
		assert.True(t, m.IsOn)
		assert.Equal(t, model.StatusRunning, m.Status)
	}
	assert.ElementsMatch(t, []model.Command{
		model.StartCommand(model.MotorA), model.StartCommand(model.MotorB),
	}, f.link.commands())
	assert.Equal(t, []string{"Both Started"}, f.events())
	assert.False(t, f.orch.Busy())
}

func TestStopBoth(t *testing.T) {
	f := newFixture(&fakeLink{})
	f.setOn(t, model.MotorA, model.MotorB)

	require.NoError(t, f.orch.StopBoth(context.Background()))

	for _, id := range model.Motors {
		assert.False(t, f.motor(t, id).IsOn)
	}
	assert.Equal(t, []string{"Both Stopped"}, f.events())
}

func TestEcoWithMotorsOnOnlySetsSpeed(t *testing.T) {
	f := newFixture(&fakeLink{})
	f.setOn(t, model.MotorA, model.MotorB)

	require.NoError(t, f.orch.SetPowerMode(context.Background(), "eco"))

	assert.ElementsMatch(t, []model.Command{
		model.SpeedCommand(model.MotorA, 70), model.SpeedCommand(model.MotorB, 70),
	}, f.link.commands())
	assert.Empty(t, f.link.kinds(model.CmdStart))
	assert.Equal(t, "eco", f.orch.Mode())
	assert.Equal(t, 70, f.motor(t, model.MotorA).Speed)
}

func TestModeFromOffSetsSpeedThenStarts(t *testing.T) {
	f := newFixture(&fakeLink{})

	require.NoError(t, f.orch.SetPowerMode(context.Background(), "power"))

	cmds := f.link.commands()
	require.Len(t, cmds, 4)
	assert.ElementsMatch(t, []model.Command{
		model.SpeedCommand(model.MotorA, 85), model.SpeedCommand(model.MotorB, 85),
	}, cmds[:2])
	assert.ElementsMatch(t, []model.Command{
		model.StartCommand(model.MotorA), model.StartCommand(model.MotorB),
	}, cmds[2:])
	assert.Equal(t, []string{"Mode: power"}, f.events())
}

func TestModeWithOneMotorOnDoesNotStart(t *testing.T) {
	f := newFixture(&fakeLink{})
	f.setOn(t, model.MotorB)

	require.NoError(t, f.orch.SetPowerMode(context.Background(), "eco"))
	assert.Len(t, f.link.kinds(model.CmdSetSpeed), 2)
	assert.Empty(t, f.link.kinds(model.CmdStart))
	assert.False(t, f.motor(t, model.MotorA).IsOn)
}

func TestSameModeIsNoop(t *testing.T) {
	f := newFixture(&fakeLink{})
	require.NoError(t, f.orch.SetPowerMode(context.Background(), "eco"))
	n := len(f.link.commands())

	require.NoError(t, f.orch.SetPowerMode(context.Background(), "ECO"))
	assert.Len(t, f.link.commands(), n)
	assert.Equal(t, []string{"Mode: eco", "Mode eco already active"}, f.events())
}

func TestInitialMode(t *testing.T) {
	f := newFixture(&fakeLink{})
	assert.Equal(t, "normal", f.orch.Mode())

	require.NoError(t, f.orch.SetPowerMode(context.Background(), "normal"))
	assert.Empty(t, f.link.commands())
	assert.Equal(t, []string{"Mode normal already active"}, f.events())

	none := New(state.NewStore(state.Options{}), nil, Options{
		Modes: []model.ModeConfig{{Name: "slow", SpeedA: 40, SpeedB: 40}},
	})
	assert.Equal(t, "", none.Mode())
}

func TestUnknownMode(t *testing.T) {
	f := newFixture(&fakeLink{})

	err := f.orch.SetPowerMode(context.Background(), "turbo")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	assert.Empty(t, f.link.commands())
}

func TestGuardRejectsOverlap(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(&fakeLink{gate: gate})

	done := make(chan error, 1)
	go func() { done <- f.orch.StartBoth(context.Background()) }()
	require.Eventually(t, func() bool { return len(f.link.commands()) == 2 }, time.Second, time.Millisecond)
	assert.True(t, f.orch.Busy())

	assert.ErrorIs(t, f.orch.SetPowerMode(context.Background(), "eco"), model.ErrBusy)
	assert.ErrorIs(t, f.orch.StopBoth(context.Background()), model.ErrBusy)
	assert.ErrorIs(t, f.orch.StartBoth(context.Background()), model.ErrBusy)
	assert.Len(t, f.link.commands(), 2)

	close(gate)
	require.NoError(t, <-done)
	assert.False(t, f.orch.Busy())
	assert.Equal(t, "normal", f.orch.Mode())
}

func TestEmergencyPreemptsMode(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(&fakeLink{gate: gate})

	done := make(chan error, 1)
	go func() { done <- f.orch.SetPowerMode(context.Background(), "power") }()
	require.Eventually(t, func() bool { return len(f.link.commands()) == 2 }, time.Second, time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		_, err := f.orch.EmergencyStop(context.Background())
		stopped <- err
	}()
	require.Eventually(t, func() bool { return f.store.Epoch() == 1 }, time.Second, time.Millisecond)

	for _, id := range model.Motors {
		m := f.motor(t, id)
		assert.False(t, m.IsOn)
		assert.Equal(t, model.StatusStopped, m.Status)
		assert.Zero(t, m.Speed)
	}

	close(gate)
	require.NoError(t, <-stopped)
	err := <-done
	assert.ErrorIs(t, err, model.ErrPreempted)

	assert.Empty(t, f.link.kinds(model.CmdStart))
	assert.Len(t, f.link.kinds(model.CmdStop), 2)
	for _, id := range model.Motors {
		m := f.motor(t, id)
		assert.False(t, m.IsOn)
		assert.Zero(t, m.Speed)
	}
	assert.Contains(t, f.events(), "EMERGENCY STOP")
	assert.Contains(t, f.events(), "Mode power failed")
	assert.Equal(t, "", f.orch.Mode())
	assert.False(t, f.orch.Busy())
}

func TestEmergencyIgnoresGuardAndCooldown(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(&fakeLink{gate: gate})
	f.setOn(t, model.MotorA, model.MotorB)

	done := make(chan error, 1)
	go func() { done <- f.orch.StopBoth(context.Background()) }()
	require.Eventually(t, func() bool { return len(f.link.commands()) == 2 }, time.Second, time.Millisecond)

	type outcome struct {
		results []model.Result
		err     error
	}
	stopped := make(chan outcome, 1)
	go func() {
		results, err := f.orch.EmergencyStop(context.Background())
		stopped <- outcome{results, err}
	}()
	require.Eventually(t, func() bool { return f.store.Epoch() == 1 }, time.Second, time.Millisecond)
	assert.True(t, f.orch.Busy())
	close(gate)

	got := <-stopped
	require.NoError(t, got.err)
	require.Len(t, got.results, 2)
	for _, r := range got.results {
		assert.True(t, r.OK())
	}
	require.NoError(t, <-done)
	assert.True(t, f.orch.CoolingDown())

	_, err := f.orch.EmergencyStop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.store.Epoch())
	assert.Len(t, f.link.kinds(model.CmdStop), 6)

	f.now = f.now.Add(3 * time.Second)
	assert.False(t, f.orch.CoolingDown())
}

func TestEmergencyKeepsJam(t *testing.T) {
	f := newFixture(&fakeLink{})
	_, err := f.store.UpdateMotor(model.MotorA, func(m *model.MotorState) error {
		m.IsOn, m.Status, m.Speed = true, model.StatusJammed, 120
		return nil
	})
	require.NoError(t, err)

	_, err = f.orch.EmergencyStop(context.Background())
	require.NoError(t, err)

	m := f.motor(t, model.MotorA)
	assert.False(t, m.IsOn)
	assert.Zero(t, m.Speed)
	assert.Equal(t, model.StatusJammed, m.Status)
}

func TestEmergencyReportsFailedStop(t *testing.T) {
	f := newFixture(&fakeLink{answer: func(cmd model.Command) error {
		if cmd.Motor == model.MotorB {
			return errors.New("NAK")
		}
		return nil
	}})

	results, err := f.orch.EmergencyStop(context.Background())
	assert.ErrorIs(t, err, model.ErrCommandRejected)
	require.Len(t, results, 2)
	assert.True(t, results[0].OK())
	assert.Equal(t, model.OutcomeRejected, results[1].Outcome)
	assert.False(t, f.motor(t, model.MotorB).IsOn)
}

func TestFailedStepSkipsRemainingSteps(t *testing.T) {
	f := newFixture(&fakeLink{answer: func(cmd model.Command) error {
		if cmd.Kind == model.CmdSetSpeed && cmd.Motor == model.MotorB {
			return errors.New("NAK speed")
		}
		return nil
	}})

	err := f.orch.SetPowerMode(context.Background(), "eco")
	assert.ErrorIs(t, err, model.ErrCommandRejected)
	assert.Empty(t, f.link.kinds(model.CmdStart))
	assert.Equal(t, []string{"Mode eco failed"}, f.events())
	assert.Equal(t, "normal", f.orch.Mode())
	assert.False(t, f.orch.Busy())
}

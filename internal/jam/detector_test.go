package jam

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RollerLink/internal/dispatch"
	"RollerLink/internal/ingest"
	"RollerLink/internal/model"
	"RollerLink/internal/state"
)

type countingStopper struct {
	mu    sync.Mutex
	stops []model.MotorID
}

func (s *countingStopper) Stop(_ context.Context, id model.MotorID) (*dispatch.Pending, error) {
	s.mu.Lock()
	s.stops = append(s.stops, id)
	s.mu.Unlock()
	return nil, nil
}

func (s *countingStopper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stops)
}

type rig struct {
	store   *state.Store
	stopper *countingStopper
	det     *Detector
	in      *ingest.Ingestor
	seq     uint64
	now     time.Time
}

func newRig(t *testing.T, opts Options) *rig {
	t.Helper()
	r := &rig{
		store:   state.NewStore(state.Options{}),
		stopper: &countingStopper{},
		now:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	r.det = New(r.store, r.stopper, opts)
	r.in = ingest.New(r.store, ingest.Options{}, r.det)
	return r
}

// frame feeds one motor A frame, spaced 100ms apart.
func (r *rig) frame(t *testing.T, current float64, rpm int) {
	t.Helper()
	r.seq++
	r.now = r.now.Add(100 * time.Millisecond)
	require.NoError(t, r.in.Apply(model.TelemetryFrame{
		MotorID: model.MotorA, Sequence: r.seq, Voltage: 12, Current: current, RPM: rpm, ReceivedAt: r.now,
	}))
}

func (r *rig) setRunning(t *testing.T, speed int) {
	t.Helper()
	_, err := r.store.UpdateMotor(model.MotorA, func(m *model.MotorState) error {
		m.IsOn, m.Status, m.Speed = true, model.StatusRunning, speed
		return nil
	})
	require.NoError(t, err)
}

func TestSingleSpikeDoesNotJam(t *testing.T) {
	r := newRig(t, Options{})

	r.frame(t, 400, 200)
	r.frame(t, 1900, 200)
	assert.Equal(t, Suspect, r.det.Phase(model.MotorA))
	r.frame(t, 400, 200)

	assert.Equal(t, Normal, r.det.Phase(model.MotorA))
	assert.Zero(t, r.stopper.count())
	m, _ := r.store.Motor(model.MotorA)
	assert.NotEqual(t, model.StatusJammed, m.Status)
}

func TestSustainedOverloadJamsOnceAndStops(t *testing.T) {
	r := newRig(t, Options{})
	r.setRunning(t, 200)

	r.frame(t, 1900, 200)
	r.frame(t, 1900, 200)
	assert.Zero(t, r.stopper.count())
	r.frame(t, 1900, 200)
	for range 5 {
		r.frame(t, 1950, 200)
	}

	assert.Equal(t, Jammed, r.det.Phase(model.MotorA))
	assert.Equal(t, 1, r.stopper.count())
	m, _ := r.store.Motor(model.MotorA)
	assert.Equal(t, model.StatusJammed, m.Status)

	var events []string
	for _, e := range r.store.Log(0) {
		events = append(events, e.Event)
	}
	assert.Equal(t, []string{"Jam Detected"}, events)
}

func TestStallSignatureJams(t *testing.T) {
	r := newRig(t, Options{})
	r.setRunning(t, 150)

	for range 3 {
		r.frame(t, 300, 0)
	}
	assert.Equal(t, Jammed, r.det.Phase(model.MotorA))
	assert.Equal(t, 1, r.stopper.count())
}

func TestZeroRPMWhileOffIsNotAStall(t *testing.T) {
	r := newRig(t, Options{})

	for range 5 {
		r.frame(t, 0, 0)
	}
	assert.Equal(t, Normal, r.det.Phase(model.MotorA))
}

func TestDebounceWindowTrips(t *testing.T) {
	r := newRig(t, Options{DebounceFrames: 100, DebounceWindow: 250 * time.Millisecond})
	r.setRunning(t, 100)

	r.frame(t, 1900, 100) // t=0
	r.frame(t, 1900, 100) // t=100ms
	r.frame(t, 1900, 100) // t=200ms
	assert.Equal(t, Suspect, r.det.Phase(model.MotorA))
	r.frame(t, 1900, 100) // t=300ms
	assert.Equal(t, Jammed, r.det.Phase(model.MotorA))
}

func TestClearJam(t *testing.T) {
	r := newRig(t, Options{DebounceFrames: 1})
	r.setRunning(t, 100)
	r.frame(t, 2500, 100)
	require.Equal(t, Jammed, r.det.Phase(model.MotorA))

	require.NoError(t, r.det.ClearJam(model.MotorA))
	assert.Equal(t, Normal, r.det.Phase(model.MotorA))
	m, _ := r.store.Motor(model.MotorA)
	assert.Equal(t, model.StatusStopped, m.Status)
	assert.False(t, m.IsOn)
	entries := r.store.Log(0)
	assert.Equal(t, "Jam Cleared", entries[len(entries)-1].Event)

	// cleared motors are watched again
	r.frame(t, 2500, 100)
	assert.Equal(t, Jammed, r.det.Phase(model.MotorA))
	assert.Equal(t, 2, r.stopper.count())
}

func TestClearJamRequiresJam(t *testing.T) {
	r := newRig(t, Options{})

	assert.ErrorIs(t, r.det.ClearJam(model.MotorB), model.ErrInvalidTransition)
	assert.ErrorIs(t, r.det.ClearJam("C"), model.ErrInvalidArgument)
	assert.Empty(t, r.store.Log(0))
}

func TestJamWithDispatcherKeepsJammedAfterStop(t *testing.T) {
	store := state.NewStore(state.Options{})
	link := &ackLink{}
	d := dispatch.New(store, link, dispatch.Options{})
	det := New(store, d, Options{DebounceFrames: 2})
	in := ingest.New(store, ingest.Options{}, det)

	_, err := d.Start(context.Background(), model.MotorB)
	require.NoError(t, err)
	require.NoError(t, in.Apply(model.TelemetryFrame{MotorID: model.MotorB, Sequence: 1, Current: 2100}))
	require.NoError(t, in.Apply(model.TelemetryFrame{MotorID: model.MotorB, Sequence: 2, Current: 2100}))

	m, _ := store.Motor(model.MotorB)
	assert.False(t, m.IsOn)
	assert.Equal(t, model.StatusJammed, m.Status)
	assert.Eventually(t, func() bool { return link.has(model.StopCommand(model.MotorB)) }, time.Second, time.Millisecond)

	_, err = d.Start(context.Background(), model.MotorB)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.ErrorIs(t, err, model.ErrJamDetected)
}

type ackLink struct {
	mu   sync.Mutex
	sent []model.Command
}

func (l *ackLink) Send(_ context.Context, cmd model.Command) error {
	l.mu.Lock()
	l.sent = append(l.sent, cmd)
	l.mu.Unlock()
	return nil
}

func (l *ackLink) has(cmd model.Command) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.sent {
		if c == cmd {
			return true
		}
	}
	return false
}

func TestClearJamRacingTripStaysConsistent(t *testing.T) {
	for range 200 {
		r := newRig(t, Options{DebounceFrames: 1})
		m, err := r.store.Motor(model.MotorA)
		require.NoError(t, err)
		m.Current = 1900

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.det.Observe(model.TelemetryFrame{MotorID: model.MotorA, Sequence: 1, Current: 1900, ReceivedAt: r.now}, m)
		}()
		go func() {
			defer wg.Done()
			_ = r.det.ClearJam(model.MotorA)
		}()
		wg.Wait()

		got, err := r.store.Motor(model.MotorA)
		require.NoError(t, err)
		assert.Equal(t, r.det.Phase(model.MotorA) == Jammed, got.Status == model.StatusJammed)
	}
}

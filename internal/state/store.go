// Package state holds the authoritative in-memory view of the roller: both motors,
// system health, per-motor telemetry history and the bounded operator log.
//
// Every mutation goes through the Store so that changes to a motor are serialized and
// subscribers are notified after each commit.
package state

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"RollerLink/internal/model"
	"RollerLink/internal/ring"
)

// Options configures a Store. Zero values select the defaults.
type Options struct {
	HistoryCapacity int
	LogCapacity     int
	Now             func() time.Time
}

const (
	defaultHistoryCapacity = 900
	defaultLogCapacity     = 200
)

type motorEntry struct {
	state   model.MotorState
	history map[model.Metric]*ring.Buffer[float64]
}

// Store is the single owner of engine state. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	motors map[model.MotorID]*motorEntry
	system model.SystemState
	log    *ring.Buffer[model.LogEntry]
	epoch  uint64
	now    func() time.Time
	hcap   int

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

// NewStore creates a store with both motors stopped and the link disconnected.
func NewStore(opts Options) *Store {
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = defaultHistoryCapacity
	}
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = defaultLogCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		motors: make(map[model.MotorID]*motorEntry, len(model.Motors)),
		system: model.SystemState{ConnectionState: model.Disconnected},
		log:    ring.New[model.LogEntry](opts.LogCapacity),
		now:    opts.Now,
		hcap:   opts.HistoryCapacity,
		subs:   make(map[*Subscription]struct{}),
	}
	for _, id := range model.Motors {
		h := make(map[model.Metric]*ring.Buffer[float64], len(model.Metrics))
		for _, m := range model.Metrics {
			h[m] = ring.New[float64](opts.HistoryCapacity)
		}
		s.motors[id] = &motorEntry{state: model.NewMotorState(id), history: h}
	}
	return s
}

func (s *Store) entry(id model.MotorID) (*motorEntry, error) {
	e, ok := s.motors[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown motor %q", model.ErrInvalidArgument, id)
	}
	return e, nil
}

// Motor returns a copy of the state of motor id.
func (s *Store) Motor(id model.MotorID) (model.MotorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, err := s.entry(id)
	if err != nil {
		return model.MotorState{}, err
	}
	return e.state, nil
}

// Motors returns copies of both motor states in model.Motors order.
func (s *Store) Motors() []model.MotorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MotorState, 0, len(model.Motors))
	for _, id := range model.Motors {
		out = append(out, s.motors[id].state)
	}
	return out
}

// System returns a copy of the system state.
func (s *Store) System() model.SystemState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.system
}

// Health returns the derived health snapshot.
func (s *Store) Health() model.Health {
	return s.System().Health()
}

// History returns the newest window samples of metric for motor id, zero-padded on
// the left. The returned sequence is a snapshot taken at call time.
func (s *Store) History(id model.MotorID, metric model.Metric, window int) (iter.Seq[float64], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	buf, ok := e.history[metric]
	if !ok {
		return nil, fmt.Errorf("%w: unknown metric %q", model.ErrInvalidArgument, metric)
	}
	return buf.Window(window), nil
}

// HistoryCapacity is the number of samples kept per motor and metric.
func (s *Store) HistoryCapacity() int { return s.hcap }

// Log returns up to limit of the newest log entries, oldest first.
// A limit <= 0 returns the whole log.
func (s *Store) Log(limit int) []model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = s.log.Len()
	}
	return s.log.Last(limit)
}

// Epoch returns the current preemption epoch.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// UpdateMotor applies fn to a copy of motor id and commits it if fn returns nil.
func (s *Store) UpdateMotor(id model.MotorID, fn func(*model.MotorState) error) (model.MotorState, error) {
	return s.update(id, nil, false, fn)
}

// UpdateMotorAt is UpdateMotor guarded by epoch: it fails with model.ErrPreempted
// when an emergency stop bumped the epoch since the caller observed it.
func (s *Store) UpdateMotorAt(epoch uint64, id model.MotorID, fn func(*model.MotorState) error) (model.MotorState, error) {
	return s.update(id, &epoch, false, fn)
}

// RecordTelemetry is UpdateMotor for telemetry: on commit the new voltage, current and
// rpm are appended to the motor history under the same lock, so history order always
// matches the order in which frames were applied.
func (s *Store) RecordTelemetry(id model.MotorID, fn func(*model.MotorState) error) (model.MotorState, error) {
	return s.update(id, nil, true, fn)
}

func (s *Store) update(id model.MotorID, epoch *uint64, record bool, fn func(*model.MotorState) error) (model.MotorState, error) {
	s.mu.Lock()
	e, err := s.entry(id)
	if err != nil {
		s.mu.Unlock()
		return model.MotorState{}, err
	}
	if epoch != nil && *epoch != s.epoch {
		cur := e.state
		s.mu.Unlock()
		return cur, model.ErrPreempted
	}
	next := e.state
	if err := fn(&next); err != nil {
		cur := e.state
		s.mu.Unlock()
		return cur, err
	}
	next.ID = id
	next.Revision = e.state.Revision + 1
	e.state = next
	if record {
		e.history[model.MetricVoltage].Push(next.Voltage)
		e.history[model.MetricCurrent].Push(next.Current)
		e.history[model.MetricRPM].Push(float64(next.RPM))
	}
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeMotor, Motor: id, Revision: next.Revision})
	return next, nil
}

// Preempt bumps the epoch and applies fn to every motor in one critical section.
// Guarded updates issued under an older epoch fail afterwards.
func (s *Store) Preempt(fn func(*model.MotorState)) (uint64, []model.MotorState) {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	out := make([]model.MotorState, 0, len(model.Motors))
	for _, id := range model.Motors {
		e := s.motors[id]
		next := e.state
		fn(&next)
		next.ID = id
		next.Revision = e.state.Revision + 1
		e.state = next
		out = append(out, next)
	}
	s.mu.Unlock()

	for _, m := range out {
		s.publish(Change{Kind: ChangeMotor, Motor: m.ID, Revision: m.Revision})
	}
	return epoch, out
}

// UpdateSystem applies fn to the system state.
func (s *Store) UpdateSystem(fn func(*model.SystemState)) model.SystemState {
	s.mu.Lock()
	fn(&s.system)
	cur := s.system
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeSystem})
	return cur
}

// AppendLog adds an entry to the operator log, stamping it if needed.
func (s *Store) AppendLog(entry model.LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	s.mu.Lock()
	s.log.Push(entry)
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeLog, Entry: &entry})
}

// LogMotor logs event for motor id with the motor's latest electrical readings.
func (s *Store) LogMotor(id model.MotorID, event string) {
	m, err := s.Motor(id)
	if err != nil {
		return
	}
	s.AppendLog(model.LogEntry{Source: string(id), Event: event, Voltage: m.Voltage, Current: m.Current})
}

// LogSystem logs a SYSTEM event.
func (s *Store) LogSystem(event string) {
	s.AppendLog(model.LogEntry{Source: model.SourceSystem, Event: event})
}

package state

import "RollerLink/internal/model"

// ChangeKind identifies which part of the store changed.
type ChangeKind string

const (
	ChangeMotor  ChangeKind = "motor"
	ChangeSystem ChangeKind = "system"
	ChangeLog    ChangeKind = "log"
)

// Change is a notification that the store was mutated.
type Change struct {
	Kind     ChangeKind    `json:"kind"`
	Motor    model.MotorID `json:"motor,omitempty"`
	Revision uint64        `json:"revision,omitempty"`
	// Entry is the appended entry of a ChangeLog notification.
	Entry *model.LogEntry `json:"entry,omitempty"`
}

// Subscription receives change notifications. A slow subscriber loses its oldest
// pending notifications rather than blocking writers.
type Subscription struct {
	ch    chan Change
	store *Store
}

// C returns the notification channel. It is closed by Unsubscribe.
func (sub *Subscription) C() <-chan Change { return sub.ch }

// Unsubscribe stops delivery and closes the channel. It is safe to call twice.
func (sub *Subscription) Unsubscribe() {
	s := sub.store
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	close(sub.ch)
}

// Subscribe registers a subscriber with a queue of queueLen notifications.
func (s *Store) Subscribe(queueLen int) *Subscription {
	if queueLen <= 0 {
		queueLen = 16
	}
	sub := &Subscription{ch: make(chan Change, queueLen), store: s}
	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()
	return sub
}

func (s *Store) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		select {
		case sub.ch <- c:
			continue
		default:
		}
		// drop oldest if queue full
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- c:
		default:
		}
	}
}

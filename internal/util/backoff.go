package util

import (
	"context"
	"time"
)

// Backoff produces exponentially growing delays between Min and Max.
type Backoff struct {
	Min  time.Duration
	Max  time.Duration
	next time.Duration
}

// Next returns the delay to wait before the following attempt.
func (b *Backoff) Next() time.Duration {
	if b.next == 0 {
		b.next = b.Min
	}
	d := b.next
	b.next *= 2
	if b.next > b.Max {
		b.next = b.Max
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Reset restarts the sequence at Min after a successful attempt.
func (b *Backoff) Reset() { b.next = 0 }

// Sleep waits d or until ctx is done; it reports whether the full delay elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

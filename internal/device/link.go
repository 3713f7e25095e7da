package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"RollerLink/internal/model"
	"RollerLink/internal/parser"
	"RollerLink/internal/util"
)

// Opener opens a fresh Device, e.g. re-opening a serial port after it failed.
type Opener func() (Device, error)

// LinkOptions configures a Link.
type LinkOptions struct {
	// ReadTimeout bounds each ReadLine so that cancellation is noticed.
	ReadTimeout time.Duration
	Backoff     util.Backoff
}

// Link runs the roller line protocol over a Device: commands go out with an id and
// are answered by ACK or NAK with the same id, telemetry lines stream in between.
// It implements the dispatcher's command link and is a telemetry Source.
type Link struct {
	open  Opener
	codec parser.Parser
	opts  LinkOptions

	mu      sync.Mutex
	dev     Device
	nextID  uint64
	waiting map[uint64]chan model.Envelope
}

// NewLink returns a Link that opens its device through open.
func NewLink(open Opener, codec parser.Parser, opts LinkOptions) *Link {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 500 * time.Millisecond
	}
	if opts.Backoff.Min <= 0 {
		opts.Backoff = util.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second}
	}
	return &Link{open: open, codec: codec, opts: opts, waiting: make(map[uint64]chan model.Envelope)}
}

// Send writes cmd and waits for the device's answer or for ctx to end.
func (l *Link) Send(ctx context.Context, cmd model.Command) error {
	l.mu.Lock()
	dev := l.dev
	if dev == nil {
		l.mu.Unlock()
		return fmt.Errorf("[link] %s: %w", cmd, model.ErrConnectionLost)
	}
	l.nextID++
	id := l.nextID
	ch := make(chan model.Envelope, 1)
	l.waiting[id] = ch
	l.mu.Unlock()
	defer l.forget(id)

	line, err := l.codec.Encode(model.Envelope{Kind: model.EnvCommand, ID: id, Command: cmd})
	if err != nil {
		return fmt.Errorf("[link] encode %s: %w", cmd, err)
	}
	if err := dev.WriteLine(line); err != nil {
		return fmt.Errorf("[link] write %s: %w", cmd, err)
	}

	select {
	case env := <-ch:
		switch env.Kind {
		case model.EnvAck:
			return nil
		case model.EnvNak:
			return fmt.Errorf("[link] %s: %w: %s", cmd, model.ErrCommandRejected, env.Reason)
		default:
			return fmt.Errorf("[link] %s: %w", cmd, model.ErrConnectionLost)
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("[link] %s: %w", cmd, model.ErrCommandTimeout)
		}
		return ctx.Err()
	}
}

func (l *Link) forget(id uint64) {
	l.mu.Lock()
	delete(l.waiting, id)
	l.mu.Unlock()
}

// Run opens the device and serves it until ctx is done, reopening it with
// exponential backoff whenever it fails.
func (l *Link) Run(ctx context.Context, sink Sink) error {
	backoff := l.opts.Backoff
	for ctx.Err() == nil {
		dev, err := l.open()
		if err != nil {
			sink.Disconnected(err)
			util.Warn("[link] open failed: %v", err)
			if !util.Sleep(ctx, backoff.Next()) {
				break
			}
			continue
		}
		backoff.Reset()

		l.attach(dev)
		sink.Connected()
		util.Info("[link] device connected")
		err = l.serve(ctx, dev, sink)
		l.detach()
		_ = dev.Close()
		if ctx.Err() != nil {
			break
		}
		sink.Disconnected(err)
		util.Warn("[link] device lost: %v", err)
		if !util.Sleep(ctx, backoff.Next()) {
			break
		}
	}
	return ctx.Err()
}

func (l *Link) attach(dev Device) {
	l.mu.Lock()
	l.dev = dev
	l.mu.Unlock()
}

// detach drops the device and fails every command still waiting for an answer.
func (l *Link) detach() {
	l.mu.Lock()
	l.dev = nil
	for id, ch := range l.waiting {
		ch <- model.Envelope{ID: id}
		delete(l.waiting, id)
	}
	l.mu.Unlock()
}

func (l *Link) serve(ctx context.Context, dev Device, sink Sink) error {
	for ctx.Err() == nil {
		line, err := dev.ReadLine(l.opts.ReadTimeout)
		if errors.Is(err, ErrReadTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %w", model.ErrConnectionLost, err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		env, err := l.codec.Decode(line)
		if err != nil {
			util.Warn("[link] drop line %q: %v", line, err)
			continue
		}
		switch env.Kind {
		case model.EnvTelemetry:
			sink.Frame(env.Frame)
		case model.EnvAck, model.EnvNak:
			l.deliver(env)
		default:
			util.Warn("[link] unexpected %s line from device", env.Kind)
		}
	}
	return ctx.Err()
}

func (l *Link) deliver(env model.Envelope) {
	l.mu.Lock()
	ch, ok := l.waiting[env.ID]
	delete(l.waiting, env.ID)
	l.mu.Unlock()
	if !ok {
		util.Warn("[link] %s for unknown command id %d", env.Kind, env.ID)
		return
	}
	ch <- env
}

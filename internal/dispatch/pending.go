package dispatch

import (
	"context"

	"RollerLink/internal/model"
)

// Pending is the handle to a dispatched command; it resolves exactly once.
type Pending struct {
	cmd  model.Command
	done chan struct{}
	res  model.Result
}

func newPending(cmd model.Command) *Pending {
	return &Pending{cmd: cmd, done: make(chan struct{})}
}

func (p *Pending) resolve(res model.Result) {
	p.res = res
	close(p.done)
}

// Command returns the command this handle tracks.
func (p *Pending) Command() model.Command { return p.cmd }

// Done is closed once the result is known.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks for the result. It returns ctx.Err() if ctx ends first; the command
// itself keeps running.
func (p *Pending) Wait(ctx context.Context) (model.Result, error) {
	select {
	case <-p.done:
		return p.res, nil
	case <-ctx.Done():
		return model.Result{}, ctx.Err()
	}
}

// Result returns the outcome and whether it is available yet.
func (p *Pending) Result() (model.Result, bool) {
	select {
	case <-p.done:
		return p.res, true
	default:
		return model.Result{}, false
	}
}

package orchestrator

import (
	"context"
	"errors"
	"sync"

	"RollerLink/internal/model"
	"RollerLink/internal/util"
)

// EmergencyStop forces both motors off immediately, whatever else is running, and
// waits for the device to acknowledge the stop commands. The forced state holds until
// telemetry reports otherwise. It is never refused, including during the cool-down.
func (o *Orchestrator) EmergencyStop(ctx context.Context) ([]model.Result, error) {
	o.store.Preempt(func(m *model.MotorState) {
		m.IsOn = false
		m.Speed = 0
		if m.Status != model.StatusJammed {
			m.Status = model.StatusStopped
		}
	})
	o.store.LogSystem("EMERGENCY STOP")
	util.Warn("[orchestrator] EMERGENCY STOP")

	o.mu.Lock()
	o.coolUntil = o.opts.Now().Add(o.opts.Cooldown)
	o.mode = ""
	o.mu.Unlock()

	results := make([]model.Result, len(model.Motors))
	errs := make([]error, len(model.Motors))
	var wg sync.WaitGroup
	for i, id := range model.Motors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd := model.StopCommand(id)
			p, err := o.disp.Submit(ctx, cmd)
			if err != nil {
				results[i] = model.Result{Command: cmd, Outcome: model.OutcomeRejected, Reason: err.Error()}
				errs[i] = err
				return
			}
			res, err := p.Wait(ctx)
			if err != nil {
				results[i] = model.Result{Command: cmd, Outcome: model.OutcomeTimeout, Reason: err.Error()}
				errs[i] = err
				return
			}
			results[i] = res
			errs[i] = res.Err()
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		util.Error("[orchestrator] emergency stop not confirmed: %v", err)
		return results, err
	}
	return results, nil
}

// CoolingDown reports whether an emergency stop happened within the cool-down period.
func (o *Orchestrator) CoolingDown() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opts.Now().Before(o.coolUntil)
}

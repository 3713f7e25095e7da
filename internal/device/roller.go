package device

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"RollerLink/internal/model"
	"RollerLink/internal/parser"
	"RollerLink/internal/util"
)

type simMotor struct {
	on     bool
	jammed bool
	speed  int
	dir    model.Direction
	seq    uint64
}

// Roller simulates the roller firmware: it answers commands with ACK/NAK and streams
// telemetry for both motors. It is used by cmd/simulation and by tests.
type Roller struct {
	codec    parser.Parser
	interval time.Duration
	started  time.Time

	mu     sync.Mutex
	motors map[model.MotorID]*simMotor
	led    bool
	reject map[model.CommandKind]string
}

// NewRoller returns a simulated roller emitting telemetry every interval.
func NewRoller(codec parser.Parser, interval time.Duration) *Roller {
	if interval <= 0 {
		interval = time.Second
	}
	r := &Roller{
		codec:    codec,
		interval: interval,
		started:  time.Now(),
		motors:   make(map[model.MotorID]*simMotor),
		reject:   make(map[model.CommandKind]string),
	}
	for _, id := range model.Motors {
		r.motors[id] = &simMotor{dir: model.Forward}
	}
	return r
}

// Jam blocks motor id mechanically: it keeps drawing current but stops turning.
func (r *Roller) Jam(id model.MotorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.motors[id]; ok {
		m.jammed = true
	}
}

// Unjam frees motor id.
func (r *Roller) Unjam(id model.MotorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.motors[id]; ok {
		m.jammed = false
	}
}

// RejectKind makes the roller NAK every command of kind with reason; an empty reason
// clears the rule.
func (r *Roller) RejectKind(kind model.CommandKind, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reason == "" {
		delete(r.reject, kind)
		return
	}
	r.reject[kind] = reason
}

// Running reports whether motor id is switched on.
func (r *Roller) Running(id model.MotorID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.motors[id]
	return ok && m.on
}

// Apply executes cmd like the firmware would.
func (r *Roller) Apply(cmd model.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if reason, ok := r.reject[cmd.Kind]; ok {
		return errors.New(reason)
	}
	m := r.motors[cmd.Motor]
	switch cmd.Kind {
	case model.CmdStart:
		m.on = true
	case model.CmdStop:
		m.on = false
	case model.CmdSetSpeed:
		m.speed = cmd.Speed
	case model.CmdSetDirection:
		if m.on {
			return errors.New("motor running")
		}
		m.dir = cmd.Direction
	case model.CmdAux:
		r.led = cmd.Aux == model.AuxLEDOn
	}
	return nil
}

// Frame samples the next telemetry frame of motor id.
func (r *Roller) Frame(id model.MotorID) model.TelemetryFrame {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.motors[id]
	m.seq++
	f := model.TelemetryFrame{
		MotorID:    id,
		Sequence:   m.seq,
		Voltage:    12 + (rand.Float64()-0.5)*0.2,
		RSSI:       -55 - rand.Intn(10),
		Uptime:     int64(time.Since(r.started).Seconds()),
		PacketLoss: rand.Float64(),
	}
	switch {
	case m.on && m.jammed:
		f.Current = 2400 + rand.Float64()*50
	case m.on && m.speed > 0:
		f.Current = 150 + float64(m.speed)*4 + rand.Float64()*10
		f.RPM = m.speed * 12
	}
	led, running, speed, dir := r.led, m.on, m.speed, m.dir
	f.LEDState, f.Running, f.Speed, f.Direction = &led, &running, &speed, &dir
	return f
}

// Serve runs the firmware protocol on dev until ctx is done or dev fails.
func (r *Roller) Serve(ctx context.Context, dev Device) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.emit(ctx, dev)
	}()

	for ctx.Err() == nil {
		line, err := dev.ReadLine(r.interval)
		if errors.Is(err, ErrReadTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("[roller] read: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		env, err := r.codec.Decode(line)
		if err != nil || env.Kind != model.EnvCommand {
			util.Warn("[roller] ignoring %q", line)
			continue
		}
		reply := model.Envelope{Kind: model.EnvAck, ID: env.ID}
		if err := r.Apply(env.Command); err != nil {
			reply = model.Envelope{Kind: model.EnvNak, ID: env.ID, Reason: err.Error()}
		}
		out, err := r.codec.Encode(reply)
		if err != nil {
			return fmt.Errorf("[roller] encode: %w", err)
		}
		if err := dev.WriteLine(out); err != nil {
			return fmt.Errorf("[roller] write: %w", err)
		}
		util.Info("[roller] %s -> %s", env.Command, reply.Kind)
	}
	return nil
}

func (r *Roller) emit(ctx context.Context, dev Device) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for _, id := range model.Motors {
			line, err := r.codec.Encode(model.Envelope{Kind: model.EnvTelemetry, Frame: r.Frame(id)})
			if err != nil {
				util.Error("[roller] encode telemetry: %v", err)
				continue
			}
			if err := dev.WriteLine(line); err != nil {
				util.Warn("[roller] telemetry write: %v", err)
				return
			}
		}
	}
}

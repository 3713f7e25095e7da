package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RollerLink/internal/model"
	"RollerLink/internal/parser"
	"RollerLink/internal/util"
)

type linkRig struct {
	link   *Link
	roller *Roller
	sink   *recordingSink
	cancel context.CancelFunc
	done   chan error
	remote *SerialDevice
}

// startLink connects a Link to a simulated roller over an in-memory pipe. When
// serveRoller is false the remote end is left for the test to drive.
func startLink(t *testing.T, serveRoller bool) *linkRig {
	t.Helper()
	local, remote := pipeDevices()
	codec := parser.NewCSVParser()
	opened := false
	open := func() (Device, error) {
		if opened {
			return nil, errors.New("device gone")
		}
		opened = true
		return local, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &linkRig{
		link:   NewLink(open, codec, LinkOptions{ReadTimeout: 20 * time.Millisecond, Backoff: util.Backoff{Min: time.Millisecond, Max: 5 * time.Millisecond}}),
		roller: NewRoller(codec, 10*time.Millisecond),
		sink:   &recordingSink{},
		cancel: cancel,
		done:   make(chan error, 1),
		remote: remote,
	}
	go func() { r.done <- r.link.Run(ctx, r.sink) }()
	if serveRoller {
		go func() { _ = r.roller.Serve(ctx, remote) }()
	}
	t.Cleanup(func() {
		cancel()
		_ = remote.Close()
		<-r.done
	})
	require.Eventually(t, func() bool {
		_, connected, _ := r.sink.snapshot()
		return connected == 1
	}, time.Second, time.Millisecond)
	return r
}

func sendCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLinkCommandAcknowledged(t *testing.T) {
	r := startLink(t, true)

	require.NoError(t, r.link.Send(sendCtx(t), model.SpeedCommand(model.MotorA, 90)))
	require.NoError(t, r.link.Send(sendCtx(t), model.StartCommand(model.MotorA)))
	assert.True(t, r.roller.Running(model.MotorA))
	assert.False(t, r.roller.Running(model.MotorB))
}

func TestLinkCommandRejected(t *testing.T) {
	r := startLink(t, true)
	r.roller.RejectKind(model.CmdStart, "overheated")

	err := r.link.Send(sendCtx(t), model.StartCommand(model.MotorB))
	assert.ErrorIs(t, err, model.ErrCommandRejected)
	assert.Contains(t, err.Error(), "overheated")

	r.roller.RejectKind(model.CmdStart, "")
	require.NoError(t, r.link.Send(sendCtx(t), model.StartCommand(model.MotorA)))
	err = r.link.Send(sendCtx(t), model.DirectionCommand(model.MotorA, model.Reverse))
	assert.ErrorIs(t, err, model.ErrCommandRejected)
}

func TestLinkStreamsTelemetry(t *testing.T) {
	r := startLink(t, true)
	require.NoError(t, r.link.Send(sendCtx(t), model.SpeedCommand(model.MotorB, 100)))
	require.NoError(t, r.link.Send(sendCtx(t), model.StartCommand(model.MotorB)))

	require.Eventually(t, func() bool {
		frames, _, _ := r.sink.snapshot()
		for _, f := range frames {
			if f.MotorID == model.MotorB && f.RPM == 1200 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	frames, _, _ := r.sink.snapshot()
	last := map[model.MotorID]uint64{}
	for _, f := range frames {
		assert.Greater(t, f.Sequence, last[f.MotorID])
		last[f.MotorID] = f.Sequence
	}
}

func TestLinkTimeout(t *testing.T) {
	r := startLink(t, false)
	go func() {
		// swallow the command without answering
		_, _ = r.remote.ReadLine(time.Second)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := r.link.Send(ctx, model.StopCommand(model.MotorA))
	assert.ErrorIs(t, err, model.ErrCommandTimeout)
}

func TestLinkDisconnectFailsPending(t *testing.T) {
	r := startLink(t, false)

	errc := make(chan error, 1)
	go func() { errc <- r.link.Send(context.Background(), model.StartCommand(model.MotorA)) }()
	_, err := r.remote.ReadLine(time.Second)
	require.NoError(t, err)
	require.NoError(t, r.remote.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, model.ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("pending command not failed on disconnect")
	}

	require.Eventually(t, func() bool {
		_, _, disc := r.sink.snapshot()
		return len(disc) > 0
	}, time.Second, time.Millisecond)
	_, _, disc := r.sink.snapshot()
	assert.ErrorIs(t, disc[0], model.ErrConnectionLost)

	err = r.link.Send(sendCtx(t), model.StartCommand(model.MotorA))
	assert.ErrorIs(t, err, model.ErrConnectionLost)
}

func TestRollerFrames(t *testing.T) {
	r := NewRoller(parser.NewCSVParser(), time.Second)
	require.NoError(t, r.Apply(model.SpeedCommand(model.MotorA, 50)))
	require.NoError(t, r.Apply(model.StartCommand(model.MotorA)))

	f := r.Frame(model.MotorA)
	assert.Equal(t, uint64(1), f.Sequence)
	assert.Equal(t, 600, f.RPM)
	assert.True(t, *f.Running)
	assert.Less(t, f.Current, 1600.0)

	r.Jam(model.MotorA)
	f = r.Frame(model.MotorA)
	assert.Equal(t, uint64(2), f.Sequence)
	assert.Zero(t, f.RPM)
	assert.Greater(t, f.Current, 2000.0)

	off := r.Frame(model.MotorB)
	assert.Equal(t, uint64(1), off.Sequence)
	assert.Zero(t, off.Current)
	assert.False(t, *off.Running)

	require.NoError(t, r.Apply(model.AuxCommand(model.MotorA, model.AuxLEDOn)))
	assert.True(t, *r.Frame(model.MotorB).LEDState)
}

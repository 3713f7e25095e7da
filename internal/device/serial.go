package device

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	serial "go.bug.st/serial"
)

type lineResult struct {
	line string
	err  error
}

// SerialDevice implements Device over a serial port. A single reader goroutine owns
// the port's read side, so timed-out reads never lose lines.
type SerialDevice struct {
	name  string
	rwc   io.ReadWriteCloser
	lines chan lineResult

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewSerialDevice opens the serial device at path with the given baudrate.
func NewSerialDevice(path string, baud int) (*SerialDevice, error) {
	p, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial %s: %w", path, err)
	}
	return NewStreamDevice(path, p), nil
}

// SerialPorts lists the serial ports present on this machine.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// NewStreamDevice runs the line protocol over any byte stream, e.g. a pty or a pipe.
func NewStreamDevice(name string, rwc io.ReadWriteCloser) *SerialDevice {
	s := &SerialDevice{
		name:   name,
		rwc:    rwc,
		lines:  make(chan lineResult, 64),
		closed: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *SerialDevice) readLoop() {
	r := bufio.NewReader(s.rwc)
	for {
		line, err := r.ReadString('\n')
		if line != "" || err != nil {
			select {
			case s.lines <- lineResult{line, err}:
			case <-s.closed:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// ReadLine returns the next line from the port, blocking until one arrives, the
// timeout expires or the port fails.
func (s *SerialDevice) ReadLine(timeout time.Duration) (string, error) {
	var after <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		after = t.C
	}
	select {
	case res := <-s.lines:
		return res.line, res.err
	case <-s.closed:
		return "", errors.New("serial port closed")
	case <-after:
		return "", ErrReadTimeout
	}
}

// WriteLine writes a single line followed by '\n' to the serial port.
func (s *SerialDevice) WriteLine(line string) error {
	select {
	case <-s.closed:
		return errors.New("serial port closed")
	default:
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.rwc.Write(append([]byte(line), '\n'))
	return err
}

// Close closes the underlying port. It is safe to call more than once.
func (s *SerialDevice) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.rwc.Close()
	})
	return err
}

func (s *SerialDevice) String() string { return s.name }

package util

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// SocatManager manages virtual serial pairs created with socat, so the simulated
// roller and the daemon can talk without hardware.
type SocatManager struct {
	mu     sync.Mutex
	cmds   []*exec.Cmd
	links  []string
	closed bool

	// Binary is the socat executable; empty means "socat" from PATH.
	Binary string
}

// NewSocatManager initializes an empty manager.
func NewSocatManager() *SocatManager {
	return &SocatManager{}
}

// CreatePair starts a socat process linking two PTYs and waits until both links exist.
func (m *SocatManager) CreatePair(left, right string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("[virt-serial] manager already cleaned up")
	}

	bin := m.Binary
	if bin == "" {
		bin = "socat"
	}
	cmd := exec.Command(bin, "-d", "-d",
		fmt.Sprintf("pty,raw,echo=0,link=%s", left),
		fmt.Sprintf("pty,raw,echo=0,link=%s", right),
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("[virt-serial] start socat: %w", err)
	}
	m.cmds = append(m.cmds, cmd)
	m.links = append(m.links, left, right)
	Info("[virt-serial] started socat (pid=%d): %s <-> %s", cmd.Process.Pid, left, right)

	deadline := time.Now().Add(3 * time.Second)
	for !exists(left) || !exists(right) {
		if time.Now().After(deadline) {
			return fmt.Errorf("[virt-serial] links %s, %s did not appear", left, right)
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Cleanup stops all socat processes and removes created links.
func (m *SocatManager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true

	for _, cmd := range m.cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
	}
	for _, path := range m.links {
		if exists(path) {
			if err := os.Remove(path); err != nil {
				Warn("[virt-serial] remove %s: %v", path, err)
			}
		}
	}
	Info("[virt-serial] cleanup complete (%d pairs)", len(m.links)/2)
}

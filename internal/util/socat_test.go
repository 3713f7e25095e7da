package util

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocatPair(t *testing.T) {
	if _, err := exec.LookPath("socat"); err != nil {
		t.Skip("socat not installed")
	}
	dir := t.TempDir()
	left, right := filepath.Join(dir, "ttyV0"), filepath.Join(dir, "ttyV1")

	m := NewSocatManager()
	require.NoError(t, m.CreatePair(left, right))
	assert.FileExists(t, left)
	assert.FileExists(t, right)

	m.Cleanup()
	_, err := os.Lstat(left)
	assert.True(t, os.IsNotExist(err))
	assert.Error(t, m.CreatePair(left, right))
	m.Cleanup()
}

func TestSocatMissingBinary(t *testing.T) {
	m := &SocatManager{Binary: filepath.Join(t.TempDir(), "no-socat")}
	assert.ErrorContains(t, m.CreatePair("a", "b"), "start socat")
}

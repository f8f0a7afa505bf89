package main

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSoftWatchdogExpires(t *testing.T) {
	expired := make(chan struct{})
	w := newSoftWatchdog(20*time.Millisecond, func() { close(expired) })
	defer w.Close()

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not expire")
	}
}

func TestSoftWatchdogFedDoesNotExpire(t *testing.T) {
	var expired atomic.Bool
	w := newSoftWatchdog(50*time.Millisecond, func() { expired.Store(true) })
	defer w.Close()

	for i := 0; i < 10; i++ {
		time.Sleep(10 * time.Millisecond)
		w.Reset()
	}
	assert.False(t, expired.Load())
}

func TestDevWatchdogFeedsAndDisarms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchdog")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	w, err := openDevWatchdog(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	w.Reset()
	w.Reset()
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	w.Reset()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 'V'}, data)
}

func TestDevWatchdogMissingDevice(t *testing.T) {
	_, err := openDevWatchdog(filepath.Join(t.TempDir(), "nope"), zaptest.NewLogger(t))
	assert.Error(t, err)
}

package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// softWatchdog calls onExpire if Reset is not called within timeout.
// The daemon passes a callback that exits non-zero so the service manager
// restarts the process.
type softWatchdog struct {
	timeout time.Duration
	t       *time.Timer
}

func newSoftWatchdog(timeout time.Duration, onExpire func()) *softWatchdog {
	return &softWatchdog{
		timeout: timeout,
		t:       time.AfterFunc(timeout, onExpire),
	}
}

func (w *softWatchdog) Reset() {
	w.t.Reset(w.timeout)
}

func (w *softWatchdog) Close() error {
	w.t.Stop()
	return nil
}

// devWatchdog feeds a Linux watchdog character device. The kernel resets
// the board when writes stop. Close writes the magic 'V' so a clean
// shutdown disarms it.
type devWatchdog struct {
	mu  sync.Mutex
	f   *os.File
	log *zap.Logger
}

func openDevWatchdog(path string, log *zap.Logger) (*devWatchdog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open watchdog %s: %w", path, err)
	}
	return &devWatchdog{f: f, log: log}, nil
}

func (w *devWatchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return
	}
	if _, err := w.f.Write([]byte{0}); err != nil {
		w.log.Warn("feed watchdog", zap.Error(err))
	}
}

func (w *devWatchdog) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	_, werr := w.f.Write([]byte("V"))
	err := w.f.Close()
	w.f = nil
	if werr != nil {
		return fmt.Errorf("disarm watchdog: %w", werr)
	}
	return err
}

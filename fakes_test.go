package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeTransport records what the keypad asks of it. Grants are never
// issued on its own; tests deliver SendGrant events explicitly.
type fakeTransport struct {
	powerOns int
	powerErr error
	sendErr  error
	grantErr error

	grants []ConnHandle
	sent   []Report
}

func (f *fakeTransport) PowerOn(ctx context.Context) error {
	f.powerOns++
	return f.powerErr
}

func (f *fakeTransport) RequestSendGrant(h ConnHandle) error {
	f.grants = append(f.grants, h)
	return f.grantErr
}

func (f *fakeTransport) SendReport(h ConnHandle, report []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	var r Report
	copy(r[:], report)
	f.sent = append(f.sent, r)
	return nil
}

// manualTimers keeps armed timers until a test fires them.
type manualTimers struct {
	armed   map[TimerID]time.Duration
	arms    map[TimerID]int
	cancels map[TimerID]int
}

func newManualTimers() *manualTimers {
	return &manualTimers{
		armed:   make(map[TimerID]time.Duration),
		arms:    make(map[TimerID]int),
		cancels: make(map[TimerID]int),
	}
}

func (m *manualTimers) Arm(id TimerID, d time.Duration) {
	m.armed[id] = d
	m.arms[id]++
}

func (m *manualTimers) Cancel(id TimerID) {
	delete(m.armed, id)
	m.cancels[id]++
}

func (m *manualTimers) isArmed(id TimerID) bool {
	_, ok := m.armed[id]
	return ok
}

type countingWatchdog struct {
	resets int
}

func (w *countingWatchdog) Reset() { w.resets++ }

type harness struct {
	t      *testing.T
	kp     *keypad
	tr     *fakeTransport
	pins   *virtualPins
	timers *manualTimers
	wd     *countingWatchdog
}

func testTiming() TimingConfig {
	return TimingConfig{
		SamplePeriod:    10 * time.Millisecond,
		BlinkPeriod:     500 * time.Millisecond,
		WatchdogTimeout: 3 * time.Second,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		tr:     &fakeTransport{},
		pins:   newVirtualPins(),
		timers: newManualTimers(),
		wd:     &countingWatchdog{},
	}
	h.kp = newKeypad(testTiming(), h.tr, h.pins, h.timers, h.wd, zaptest.NewLogger(t))
	return h
}

// started returns a keypad that has run Start.
func started(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	require.NoError(t, h.kp.Start(context.Background()))
	return h
}

// connected returns a keypad in the connected state with handle.
func connected(t *testing.T, handle ConnHandle) *harness {
	t.Helper()
	h := started(t)
	h.kp.HandleEvent(TransportEvent{Kind: EventStackReady})
	h.kp.HandleEvent(TransportEvent{Kind: EventConnectionOpened, Handle: handle})
	require.Equal(t, StateConnected, h.kp.state)
	return h
}

// fire runs an armed timer the way the run loop would.
func (h *harness) fire(id TimerID) {
	h.t.Helper()
	require.True(h.t, h.timers.isArmed(id), "timer %s not armed", id)
	delete(h.timers.armed, id)
	h.kp.OnTimer(id)
}

func (h *harness) tick() { h.fire(timerSample) }

func (h *harness) grant() {
	h.kp.HandleEvent(TransportEvent{Kind: EventSendGrant, Handle: h.kp.handle})
}

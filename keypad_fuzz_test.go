package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FuzzEventSequence drives the keypad with arbitrary interleavings of
// transport events, button changes and timer expiries and checks the
// invariants after every step.
func FuzzEventSequence(f *testing.F) {
	f.Add([]byte{0, 1, 7, 5, 1, 4, 4, 3})
	f.Add([]byte{1, 7, 0, 2, 5, 15, 4, 3, 1, 9, 5, 0, 5, 2, 4})
	f.Add([]byte{0, 6, 6, 1, 3, 6, 5, 8, 4, 4, 4, 3, 6, 0, 1, 0})
	f.Add([]byte{0, 3, 3, 2, 1, 0, 4, 5, 3, 4})

	f.Fuzz(func(t *testing.T, ops []byte) {
		h := started(t)

		for i := 0; i < len(ops); i++ {
			op := ops[i] % 7
			arg := byte(0)
			if op == 1 || op == 5 {
				if i+1 < len(ops) {
					i++
					arg = ops[i]
				}
			}

			before := h.kp.state
			grants, sent := len(h.tr.grants), len(h.tr.sent)

			switch op {
			case 0:
				h.kp.HandleEvent(TransportEvent{Kind: EventStackReady})
			case 1:
				h.kp.HandleEvent(TransportEvent{Kind: EventConnectionOpened, Handle: ConnHandle(arg)})
			case 2:
				h.kp.HandleEvent(TransportEvent{Kind: EventConnectionOpened, Status: 0x04})
			case 3:
				h.kp.HandleEvent(TransportEvent{Kind: EventConnectionClosed, Handle: h.kp.handle})
			case 4:
				h.grant()
			case 5:
				for b := 0; b < numButtons; b++ {
					if arg&(1<<b) != 0 {
						h.pins.Press(b)
					} else {
						h.pins.Release(b)
					}
				}
				h.tick()
			case 6:
				if h.timers.isArmed(timerBlink) {
					h.fire(timerBlink)
				}
			}

			if before != StateConnected && op != 1 {
				assert.Equal(t, grants, len(h.tr.grants), "grant requested while %s", before)
				assert.Equal(t, sent, len(h.tr.sent), "report sent while %s", before)
			}

			require.Equal(t, h.kp.state == StateConnected, h.kp.handle != 0)
			require.True(t, h.timers.isArmed(timerSample), "sampler stopped")

			on, _ := h.pins.LED()
			if h.kp.state == StateConnected {
				assert.True(t, on)
				assert.False(t, h.timers.isArmed(timerBlink))
			} else {
				assert.True(t, h.timers.isArmed(timerBlink), "not blinking in %s", h.kp.state)
			}

			for _, r := range h.tr.sent {
				assert.Equal(t, byte(0xA1), r[0])
				assert.Equal(t, byte(0x01), r[1])
				assert.Zero(t, r[2])
				assert.Equal(t, [5]byte{}, [5]byte(r[5:]))
			}
		}
	})
}

// Sampler and blink ticks due at the same instant run in whatever order
// the loop dequeues them. The outcome must not depend on it.
func TestSimultaneousTimersOrderIndependent(t *testing.T) {
	run := func(first, second TimerID) *harness {
		h := started(t)
		h.kp.HandleEvent(TransportEvent{Kind: EventStackReady})
		h.kp.HandleEvent(TransportEvent{Kind: EventConnectionOpened, Handle: 7})
		h.kp.HandleEvent(TransportEvent{Kind: EventConnectionClosed, Handle: 7})
		h.kp.HandleEvent(TransportEvent{Kind: EventConnectionOpened, Handle: 9})
		h.pins.Press(2)
		// The blink expiry was queued before the open landed.
		h.timers.Arm(timerBlink, 0)

		h.fire(first)
		h.fire(second)
		return h
	}

	a := run(timerSample, timerBlink)
	b := run(timerBlink, timerSample)

	assert.Equal(t, a.tr.grants, b.tr.grants)
	assert.Equal(t, a.tr.sent, b.tr.sent)
	assert.Equal(t, a.kp.pending, b.kp.pending)
	assert.Equal(t, a.kp.state, b.kp.state)
	assert.Equal(t, a.kp.led, b.kp.led)
	assert.Equal(t, a.wd.resets, b.wd.resets)
}

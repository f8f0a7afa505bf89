package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlinkTogglesWhileNotConnected(t *testing.T) {
	h := started(t)
	h.kp.HandleEvent(TransportEvent{Kind: EventStackReady})

	levels := []bool{}
	for i := 0; i < 4; i++ {
		h.fire(timerBlink)
		on, _ := h.pins.LED()
		levels = append(levels, on)
		assert.Equal(t, testTiming().BlinkPeriod, h.timers.armed[timerBlink])
	}
	assert.Equal(t, []bool{true, false, true, false}, levels)
}

func TestBlinkTickFeedsWatchdog(t *testing.T) {
	h := started(t)
	before := h.wd.resets
	h.fire(timerBlink)
	assert.Equal(t, before+1, h.wd.resets)
}

func TestSolidCancelsBlinkTimer(t *testing.T) {
	h := started(t)
	h.kp.HandleEvent(TransportEvent{Kind: EventStackReady})
	h.fire(timerBlink)
	h.fire(timerBlink)

	h.kp.HandleEvent(TransportEvent{Kind: EventConnectionOpened, Handle: 7})
	require.False(t, h.timers.isArmed(timerBlink))

	_, toggles := h.pins.LED()
	for i := 0; i < 10; i++ {
		h.tick()
	}
	on, after := h.pins.LED()
	assert.True(t, on)
	assert.Equal(t, toggles, after, "LED never changes while connected")
}

// A blink expiry that was already queued when the connection opened
// must not turn the LED off.
func TestLateBlinkTickWhileConnected(t *testing.T) {
	h := connected(t, 7)
	h.kp.OnTimer(timerBlink)

	on, _ := h.pins.LED()
	assert.True(t, on)
	assert.False(t, h.timers.isArmed(timerBlink))
}

func TestStartBlinkingCancelsFirst(t *testing.T) {
	h := started(t)
	h.kp.HandleEvent(TransportEvent{Kind: EventStackReady})
	h.kp.HandleEvent(TransportEvent{Kind: EventConnectionOpened, Status: 1})
	h.kp.HandleEvent(TransportEvent{Kind: EventConnectionOpened, Status: 2})

	// Start, StackReady and two failed opens each restarted blinking.
	assert.Equal(t, 4, h.timers.cancels[timerBlink])
	assert.Equal(t, 4, h.timers.arms[timerBlink])
	assert.Len(t, h.timers.armed, 2, "one sample and one blink timer")
}

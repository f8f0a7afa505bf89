package main

import (
	"math/bits"

	"go.uber.org/zap"
)

// readButtons samples the four inputs into a mask, bit i set when button
// i is held.
func (k *keypad) readButtons() uint8 {
	var mask uint8
	for i := 0; i < numButtons; i++ {
		if k.pins.Pressed(i) {
			mask |= 1 << i
		}
	}
	return mask
}

// sampleTick runs every sample period. Only rising edges count, and at
// most one of them is forwarded per tick: the lowest button index wins
// and the others are lost. The previous mask is always updated, so edges
// seen while disconnected or stalled are absorbed.
func (k *keypad) sampleTick() {
	k.wd.Reset()

	cur := k.readButtons()
	changed := cur &^ k.prev

	if changed != 0 {
		switch {
		case k.state != StateConnected:
			k.log.Debug("edge ignored, not connected", zap.Uint8("changed", changed))
		case k.pending.has:
			k.log.Debug("edge dropped, report pending",
				zap.Uint8("changed", changed),
				zap.Stringer("pending", k.pending.key),
			)
		default:
			i := bits.TrailingZeros8(changed)
			if rest := changed &^ (1 << i); rest != 0 {
				k.log.Debug("simultaneous edges dropped", zap.Uint8("dropped", rest))
			}
			k.enqueue(buttonKeys[i])
		}
	}

	k.prev = cur
	k.timers.Arm(timerSample, k.samplePeriod)
}

package main

// startBlinking (re)starts the blink cycle. The toggle timer is cancelled
// before it is armed so there is never more than one.
func (k *keypad) startBlinking() {
	k.timers.Cancel(timerBlink)
	k.timers.Arm(timerBlink, 0)
}

// holdSolid stops blinking and drives the LED on.
func (k *keypad) holdSolid() {
	k.timers.Cancel(timerBlink)
	k.setLED(true)
}

func (k *keypad) blinkTick() {
	k.wd.Reset()
	if k.state == StateConnected {
		// A tick that raced holdSolid. The LED stays on.
		return
	}
	k.setLED(!k.led)
	k.timers.Arm(timerBlink, k.blinkPeriod)
}

func (k *keypad) setLED(on bool) {
	k.led = on
	k.pins.SetLED(on)
}

package main

import "sync"

// virtualPins is an in-memory pin bank. The daemon uses it with
// gpio.backend "virtual", where the press and release commands drive the
// buttons; tests use it directly.
type virtualPins struct {
	mu      sync.Mutex
	held    [numButtons]bool
	led     bool
	toggles int
}

func newVirtualPins() *virtualPins {
	return &virtualPins{}
}

func (p *virtualPins) Pressed(button int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if button < 0 || button >= numButtons {
		return false
	}
	return p.held[button]
}

func (p *virtualPins) SetLED(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on != p.led {
		p.toggles++
	}
	p.led = on
}

// Press holds a button down until Release.
func (p *virtualPins) Press(button int) {
	p.set(button, true)
}

func (p *virtualPins) Release(button int) {
	p.set(button, false)
}

func (p *virtualPins) set(button int, held bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if button >= 0 && button < numButtons {
		p.held[button] = held
	}
}

// LED returns the LED level and how many times it has changed.
func (p *virtualPins) LED() (on bool, toggles int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.led, p.toggles
}

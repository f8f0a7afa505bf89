package main

import (
	"fmt"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// periphPins drives real header pins through periph.io. Buttons are
// inputs with pull-ups; with activeLow a held button reads Low.
type periphPins struct {
	buttons   [numButtons]gpio.PinIO
	led       gpio.PinIO
	activeLow bool
	log       *zap.Logger
}

func newPeriphPins(cfg GPIOConfig, log *zap.Logger) (*periphPins, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	if len(cfg.Buttons) != numButtons {
		return nil, fmt.Errorf("want %d button pins, got %d", numButtons, len(cfg.Buttons))
	}

	p := &periphPins{activeLow: cfg.ActiveLow, log: log}

	pull := gpio.PullDown
	if cfg.ActiveLow {
		pull = gpio.PullUp
	}
	for i, name := range cfg.Buttons {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("button %s: pin %s not found in hardware", buttonNames[i], name)
		}
		if err := pin.In(pull, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("button %s: set %s to input: %w", buttonNames[i], name, err)
		}
		p.buttons[i] = pin
	}

	led := gpioreg.ByName(cfg.LED)
	if led == nil {
		return nil, fmt.Errorf("led: pin %s not found in hardware", cfg.LED)
	}
	if err := led.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("led: set %s to output: %w", cfg.LED, err)
	}
	p.led = led
	return p, nil
}

func (p *periphPins) Pressed(button int) bool {
	if button < 0 || button >= numButtons {
		return false
	}
	active := gpio.High
	if p.activeLow {
		active = gpio.Low
	}
	return p.buttons[button].Read() == active
}

func (p *periphPins) SetLED(on bool) {
	if err := p.led.Out(gpio.Level(on)); err != nil {
		p.log.Warn("set led", zap.Bool("on", on), zap.Error(err))
	}
}

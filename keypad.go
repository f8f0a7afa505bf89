package main

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Transport is the wireless HID stack as seen by the keypad. Lifecycle
// events come back through the sink the transport was built with.
// Every method is called on the run loop and must not block; PowerOn only
// starts bringing the stack up.
type Transport interface {
	PowerOn(ctx context.Context) error
	RequestSendGrant(h ConnHandle) error
	SendReport(h ConnHandle, report []byte) error
}

// Pins is the hardware boundary: four buttons and the status LED.
// Pressed hides the active-low wiring.
type Pins interface {
	Pressed(button int) bool
	SetLED(on bool)
}

// TimerID names one of the keypad's periodic timers.
type TimerID int

const (
	timerSample TimerID = iota
	timerBlink
)

func (id TimerID) String() string {
	switch id {
	case timerSample:
		return "sample"
	case timerBlink:
		return "blink"
	default:
		return fmt.Sprintf("timer(%d)", int(id))
	}
}

// Timers arms one-shot timers. An armed timer calls keypad.OnTimer on
// the run loop; Cancel guarantees the callback will not run.
type Timers interface {
	Arm(id TimerID, d time.Duration)
	Cancel(id TimerID)
}

// Watchdog is the liveness countdown fed by every tick.
type Watchdog interface {
	Reset()
}

type pendingReport struct {
	key Usage
	has bool
}

// keypad owns all control-plane state. None of its methods are safe for
// concurrent use: they must only be called from the run loop.
type keypad struct {
	log    *zap.Logger
	tr     Transport
	pins   Pins
	timers Timers
	wd     Watchdog

	samplePeriod time.Duration
	blinkPeriod  time.Duration

	state   DeviceState
	handle  ConnHandle
	session string
	prev    uint8 // button mask from the previous tick
	pending pendingReport
	led     bool
	sent    uint64
}

func newKeypad(cfg TimingConfig, tr Transport, pins Pins, timers Timers, wd Watchdog, log *zap.Logger) *keypad {
	return &keypad{
		log:          log,
		tr:           tr,
		pins:         pins,
		timers:       timers,
		wd:           wd,
		samplePeriod: cfg.SamplePeriod,
		blinkPeriod:  cfg.BlinkPeriod,
		state:        StateBooting,
	}
}

// Start drives the LED low, starts sampling and blinking and powers the
// transport on. StackReady arrives later as an event.
func (k *keypad) Start(ctx context.Context) error {
	k.led = false
	k.pins.SetLED(false)
	k.timers.Arm(timerSample, k.samplePeriod)
	k.startBlinking()
	k.wd.Reset()

	if err := k.tr.PowerOn(ctx); err != nil {
		return fmt.Errorf("power on transport: %w", err)
	}
	k.log.Info("keypad started",
		zap.Duration("sample_period", k.samplePeriod),
		zap.Duration("blink_period", k.blinkPeriod),
	)
	return nil
}

// HandleEvent applies one transport event.
func (k *keypad) HandleEvent(ev TransportEvent) {
	switch ev.Kind {
	case EventStackReady:
		if k.state != StateBooting {
			k.ignore(ev)
			return
		}
		k.setState(StateIdle)
		k.startBlinking()

	case EventConnectionOpened:
		if k.state != StateIdle {
			k.ignore(ev)
			return
		}
		if ev.Status != 0 || ev.Handle == 0 {
			k.log.Warn("connection open failed",
				zap.Uint8("status", ev.Status),
				zap.Uint16("handle", uint16(ev.Handle)),
			)
			k.handle = 0
			k.startBlinking()
			return
		}
		k.handle = ev.Handle
		k.session = ulid.Make().String()
		k.pending = pendingReport{}
		k.setState(StateConnected)
		k.holdSolid()

	case EventConnectionClosed:
		if k.state != StateConnected {
			k.handle = 0
			k.ignore(ev)
			return
		}
		k.log.Info("connection closed",
			zap.Uint16("handle", uint16(k.handle)),
			zap.String("session", k.session),
		)
		k.handle = 0
		k.session = ""
		k.setState(StateIdle)
		k.startBlinking()

	case EventSendGrant:
		if k.state != StateConnected || (ev.Handle != 0 && ev.Handle != k.handle) {
			k.ignore(ev)
			return
		}
		k.onSendGrant()

	default:
		k.ignore(ev)
	}
}

// OnTimer runs the callback of an expired timer.
func (k *keypad) OnTimer(id TimerID) {
	switch id {
	case timerSample:
		k.sampleTick()
	case timerBlink:
		k.blinkTick()
	}
}

// Status is a snapshot for the status IPC command.
func (k *keypad) Status() IPCResponse {
	resp := IPCResponse{
		State:     string(k.state),
		Indicator: string(indicatorFor(k.state)),
		Handle:    uint16(k.handle),
		Session:   k.session,
		Reports:   k.sent,
	}
	if k.pending.has {
		resp.Pending = k.pending.key.String()
	}
	return resp
}

func (k *keypad) setState(s DeviceState) {
	if s == k.state {
		return
	}
	k.log.Info("state change",
		zap.String("from", string(k.state)),
		zap.String("to", string(s)),
		zap.Uint16("handle", uint16(k.handle)),
		zap.String("session", k.session),
	)
	k.state = s
}

func (k *keypad) ignore(ev TransportEvent) {
	k.log.Debug("event ignored",
		zap.Stringer("event", ev.Kind),
		zap.String("state", string(k.state)),
		zap.Uint16("handle", uint16(ev.Handle)),
	)
}

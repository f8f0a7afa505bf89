package main

// DeviceState is the connection lifecycle state of the keypad.
type DeviceState string

const (
	StateBooting   DeviceState = "booting"
	StateIdle      DeviceState = "idle"
	StateConnected DeviceState = "connected"
)

// IndicatorMode is what the status LED is doing. It is derived from
// DeviceState and never stored on its own.
type IndicatorMode string

const (
	IndicatorBlinking IndicatorMode = "blinking"
	IndicatorSolid    IndicatorMode = "solid"
)

func indicatorFor(s DeviceState) IndicatorMode {
	if s == StateConnected {
		return IndicatorSolid
	}
	return IndicatorBlinking
}

// ConnHandle identifies the accepted peer connection. Zero means none.
type ConnHandle uint16

// EventKind classifies a transport lifecycle event.
type EventKind int

const (
	EventStackReady EventKind = iota
	EventConnectionOpened
	EventConnectionClosed
	EventSendGrant
)

func (k EventKind) String() string {
	switch k {
	case EventStackReady:
		return "stack_ready"
	case EventConnectionOpened:
		return "connection_opened"
	case EventConnectionClosed:
		return "connection_closed"
	case EventSendGrant:
		return "send_grant"
	default:
		return "unknown"
	}
}

// TransportEvent is delivered by a Transport to the keypad run loop.
type TransportEvent struct {
	Kind   EventKind
	Handle ConnHandle // ConnectionOpened, ConnectionClosed, SendGrant
	Status uint8      // ConnectionOpened only; non-zero means the open failed
}

// IPCRequest is sent from the CLI client to the daemon.
type IPCRequest struct {
	Command string `json:"command"`          // "status" | "press" | "release" | "connect" | "disconnect" | "fail"
	Button  string `json:"button,omitempty"` // "a" | "w" | "s" | "d"
}

// IPCResponse is sent from the daemon back to the CLI client.
type IPCResponse struct {
	State     string `json:"state,omitempty"`     // "booting", "idle", "connected"
	Indicator string `json:"indicator,omitempty"` // "blinking", "solid"
	Handle    uint16 `json:"handle,omitempty"`
	Session   string `json:"session,omitempty"` // ULID of the current connection
	Pending   string `json:"pending,omitempty"` // queued usage code, hex
	Reports   uint64 `json:"reports"`           // reports sent since start
	Error     string `json:"error,omitempty"`
}

package main

import (
	"fmt"
	"strings"
)

// Usage is a key code from the USB HID keyboard usage page (0x07).
type Usage uint8

const (
	UsageNone Usage = 0x00
	UsageA    Usage = 0x04
	UsageD    Usage = 0x07
	UsageS    Usage = 0x16
	UsageW    Usage = 0x1A
)

func (u Usage) String() string { return fmt.Sprintf("0x%02X", byte(u)) }

const (
	reportTypeInput = 0xA1 // HIDP DATA | Input
	reportID        = 0x01
	reportSize      = 10
)

// Report is one HIDP input report on the interrupt channel.
//
//	Byte 0: HIDP header (DATA, input)
//	Byte 1: report id
//	Byte 2: modifier bits
//	Byte 3: reserved
//	Bytes 4-9: key usage codes (only the first is ever set)
type Report [reportSize]byte

func keyReport(key Usage) Report {
	return Report{reportTypeInput, reportID, 0x00, 0x00, byte(key)}
}

func neutralReport() Report {
	return keyReport(UsageNone)
}

// Key returns the first key slot.
func (r Report) Key() Usage { return Usage(r[4]) }

func (r Report) String() string {
	var b strings.Builder
	for i, c := range r {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}

// hidDescriptor describes report id 1: 8 modifier bits, one reserved byte
// and six key array slots.
var hidDescriptor = [47]byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xA1, 0x01, // Collection (Application)
	0x85, reportID, // Report ID (1)
	0x75, 0x01, // Report Size (1)
	0x95, 0x08, // Report Count (8)
	0x05, 0x07, // Usage Page (Kbrd/Keypad)
	0x19, 0xE0, // Usage Minimum (0xE0)
	0x29, 0xE7, // Usage Maximum (0xE7)
	0x15, 0x00, // Logical Minimum (0)
	0x25, 0x01, // Logical Maximum (1)
	0x81, 0x02, // Input (Data,Var,Abs)
	0x75, 0x08, // Report Size (8)
	0x95, 0x01, // Report Count (1)
	0x81, 0x01, // Input (Const)
	0x75, 0x08, // Report Size (8)
	0x95, 0x06, // Report Count (6)
	0x15, 0x00, // Logical Minimum (0)
	0x25, 0xFF, // Logical Maximum (255)
	0x05, 0x07, // Usage Page (Kbrd/Keypad)
	0x19, 0x00, // Usage Minimum (0x00)
	0x29, 0xFF, // Usage Maximum (0xFF)
	0x81, 0x00, // Input (Data,Array,Abs)
	0xC0, // End Collection
}

const numButtons = 4

// Button order is also priority order: a lower index wins when several
// buttons are pressed on the same tick.
var (
	buttonKeys  = [numButtons]Usage{UsageA, UsageW, UsageS, UsageD}
	buttonNames = [numButtons]string{"a", "w", "s", "d"}
)

func parseButton(name string) (int, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range buttonNames {
		if n == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q (want a, w, s or d)", ErrUnknownButton, name)
}

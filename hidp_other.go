//go:build !linux

package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// hidpTransport needs BlueZ and L2CAP sockets. Other platforms only get
// the sim transport.
type hidpTransport struct{}

func newHIDPTransport(dev DeviceConfig, sink func(TransportEvent), log *zap.Logger) (*hidpTransport, error) {
	return nil, fmt.Errorf("bluez transport: %w", ErrNotSupported)
}

func (t *hidpTransport) PowerOn(ctx context.Context) error {
	return ErrNotSupported
}

func (t *hidpTransport) Failed() <-chan error {
	return nil
}

func (t *hidpTransport) RequestSendGrant(h ConnHandle) error {
	return ErrNotSupported
}

func (t *hidpTransport) SendReport(h ConnHandle, report []byte) error {
	return ErrNotSupported
}

func (t *hidpTransport) Close() error {
	return nil
}

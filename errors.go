package main

import "errors"

var (
	ErrNotConnected     = errors.New("no peer connected")
	ErrAlreadyConnected = errors.New("a peer is already connected")
	ErrTransportClosed  = errors.New("transport closed")
	ErrUnknownButton    = errors.New("unknown button")
	ErrLoopStopped      = errors.New("run loop stopped")
	ErrNotSupported     = errors.New("not supported by this configuration")
)

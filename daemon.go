package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
)

func socketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return filepath.Join(dir, "padctl.sock")
}

type closableTransport interface {
	Transport
	io.Closer
}

type closableWatchdog interface {
	Watchdog
	io.Closer
}

// daemon owns the keypad and everything it is wired to. handleRequest
// and the keypad methods only run on loop.
type daemon struct {
	log  *zap.Logger
	loop *runLoop
	kp   *keypad
	tr   closableTransport
	wd   closableWatchdog

	// failed delivers a transport error that ends the daemon. Nil for
	// transports that cannot fail after PowerOn.
	failed <-chan error

	// Set only for the matching config choices.
	sim  *simTransport
	vpin *virtualPins
}

func newDaemon(cfg *Config, log *zap.Logger) (*daemon, error) {
	d := &daemon{log: log, loop: newRunLoop()}

	sink := func(ev TransportEvent) {
		if !d.loop.Post(func() { d.kp.HandleEvent(ev) }) {
			log.Debug("event after shutdown", zap.Stringer("event", ev.Kind))
		}
	}

	switch cfg.Transport {
	case "sim":
		d.sim = newSimTransport(sink, log.Named("sim"))
		d.tr = nopCloser{d.sim}
	default:
		tr, err := newHIDPTransport(cfg.Device, sink, log.Named("hidp"))
		if err != nil {
			return nil, err
		}
		d.tr = tr
		d.failed = tr.Failed()
	}

	var pins Pins
	switch cfg.GPIO.Backend {
	case "virtual":
		d.vpin = newVirtualPins()
		pins = d.vpin
	default:
		p, err := newPeriphPins(cfg.GPIO, log.Named("gpio"))
		if err != nil {
			d.tr.Close()
			return nil, err
		}
		pins = p
	}

	if cfg.Watchdog.Device != "" {
		wd, err := openDevWatchdog(cfg.Watchdog.Device, log.Named("watchdog"))
		if err != nil {
			d.tr.Close()
			return nil, err
		}
		d.wd = wd
	} else {
		timeout := cfg.Timing.WatchdogTimeout
		d.wd = newSoftWatchdog(timeout, func() {
			log.Error("watchdog expired, restarting", zap.Duration("timeout", timeout))
			log.Sync()
			os.Exit(3)
		})
	}

	d.kp = newKeypad(cfg.Timing, d.tr, pins, d.loop, d.wd, log.Named("keypad"))
	d.loop.HandleTimers(d.kp.OnTimer)
	return d, nil
}

type nopCloser struct{ *simTransport }

func (nopCloser) Close() error { return nil }

func (d *daemon) handleRequest(req IPCRequest) IPCResponse {
	switch req.Command {
	case "status":
		return d.kp.Status()

	case "press", "release":
		if d.vpin == nil {
			return IPCResponse{Error: fmt.Sprintf("%s: %v (set gpio.backend: virtual)", req.Command, ErrNotSupported)}
		}
		i, err := parseButton(req.Button)
		if err != nil {
			return IPCResponse{Error: err.Error()}
		}
		if req.Command == "press" {
			d.vpin.Press(i)
		} else {
			d.vpin.Release(i)
		}
		return d.kp.Status()

	case "connect", "disconnect", "fail":
		if d.sim == nil {
			return IPCResponse{Error: fmt.Sprintf("%s: %v (set transport: sim)", req.Command, ErrNotSupported)}
		}
		var err error
		switch req.Command {
		case "connect":
			_, err = d.sim.Connect()
		case "disconnect":
			err = d.sim.Disconnect()
		case "fail":
			err = d.sim.Fail(0)
		}
		if err != nil {
			return IPCResponse{Error: err.Error()}
		}
		return d.kp.Status()

	default:
		return IPCResponse{Error: fmt.Sprintf("unknown command: %q", req.Command)}
	}
}

func (d *daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req IPCRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		resp := IPCResponse{Error: "invalid request: " + err.Error()}
		json.NewEncoder(conn).Encode(resp)
		return
	}

	var resp IPCResponse
	if err := d.loop.Call(ctx, func() { resp = d.handleRequest(req) }); err != nil {
		resp = IPCResponse{Error: err.Error()}
	}
	json.NewEncoder(conn).Encode(resp)
}

func runDaemon(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer log.Sync()

	d, err := newDaemon(cfg, log)
	if err != nil {
		return err
	}
	defer d.wd.Close()
	defer d.tr.Close()

	sock := socketPath()
	os.Remove(sock) // remove stale socket
	ln, err := net.Listen("unix", sock)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sock, err)
	}
	os.Chmod(sock, 0700)
	defer os.Remove(sock)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	exitErr := make(chan error, 1)
	go func() {
		var err error
		select {
		case sig := <-quit:
			log.Info("shutting down", zap.Stringer("signal", sig))
		case err = <-d.failed:
			err = fmt.Errorf("transport: %w", err)
		case <-d.loop.Done():
		}
		exitErr <- err
		cancel()
		ln.Close()
	}()

	go d.loop.Run(ctx)

	var startErr error
	if err := d.loop.Call(ctx, func() { startErr = d.kp.Start(ctx) }); err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	log.Info("listening",
		zap.String("socket", sock),
		zap.String("transport", cfg.Transport),
		zap.String("gpio", cfg.GPIO.Backend),
	)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				<-d.loop.Done()
				return <-exitErr
			}
			return fmt.Errorf("accept: %w", err)
		}
		go d.handleConn(ctx, conn)
	}
}

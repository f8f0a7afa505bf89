//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	psmControl   = 0x11
	psmInterrupt = 0x13

	// Status codes reported with a failed ConnectionOpened.
	statusPageTimeout   = 0x04
	statusPeerMismatch  = 0x05
	statusAcceptFailure = 0x1F

	interruptWait = 5 * time.Second
	grantPoll     = 100 * time.Millisecond

	acceptBackoffMin = 100 * time.Millisecond
	acceptBackoffMax = 2 * time.Second
)

// HIDP control channel messages (Bluetooth HID profile 1.1, section 3.1).
const (
	hidpHandshake     = 0x00
	hidpControl       = 0x10
	hidpGetReport     = 0x40
	hidpSetReport     = 0x50
	hidpGetProtocol   = 0x60
	hidpSetProtocol   = 0x70
	hidpTypeMask      = 0xF0
	hidpVirtualUnplug = 0x05

	handshakeSuccessful  = 0x00
	handshakeUnsupported = 0x03
)

// hidpTransport serves the HID profile over BlueZ: D-Bus for adapter
// setup and the SDP record, raw L2CAP sockets for the HIDP channels. The
// input plugin of bluetoothd must be disabled or it will hold the PSMs.
type hidpTransport struct {
	log  *zap.Logger
	dev  DeviceConfig
	sink func(TransportEvent)

	bz     *bluez
	setup  func(context.Context) error
	failed chan error
	ctrlLn int
	intrLn int
	ready  sync.Once
	stop   chan struct{}

	mu     sync.Mutex
	closed bool
	peer   *hidpPeer
	next   ConnHandle
	wg     sync.WaitGroup
}

type hidpPeer struct {
	handle ConnHandle
	addr   string
	ctrl   int
	intr   int

	mu     sync.Mutex
	wants  int
	wake   chan struct{}
	done   chan struct{}
	closer sync.Once
}

func newHIDPTransport(dev DeviceConfig, sink func(TransportEvent), log *zap.Logger) (*hidpTransport, error) {
	bz, err := newBluez(dev.Adapter)
	if err != nil {
		return nil, err
	}
	t := &hidpTransport{
		log:    log,
		dev:    dev,
		sink:   sink,
		bz:     bz,
		failed: make(chan error, 1),
		ctrlLn: -1,
		intrLn: -1,
		stop:   make(chan struct{}),
		next:   1,
	}
	t.setup = t.bringUp
	return t, nil
}

// PowerOn starts bringing the adapter up and returns at once; the D-Bus
// round trips and the hciconfig exec run on their own goroutine.
// StackReady is posted once the adapter reports Powered. A setup error is
// logged and delivered on Failed.
func (t *hidpTransport) PowerOn(ctx context.Context) error {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.setup(ctx); err != nil {
			t.log.Error("bring up hid profile", zap.Error(err))
			select {
			case t.failed <- err:
			default:
			}
		}
	}()
	return nil
}

// Failed yields the error that stopped PowerOn, if any.
func (t *hidpTransport) Failed() <-chan error { return t.failed }

// bringUp configures the adapter, registers the profile and starts
// listening.
func (t *hidpTransport) bringUp(ctx context.Context) error {
	signals := t.bz.subscribePropertyChanges()

	if err := t.bz.setAdapterPowered(true); err != nil {
		return fmt.Errorf("power on %s: %w", t.dev.Adapter, err)
	}
	if err := t.bz.setAlias(t.dev.Name); err != nil {
		return err
	}
	if err := t.bz.setClass(t.dev.Class); err != nil {
		// Hosts still pair; they just show a generic icon.
		t.log.Warn("set class of device", zap.Error(err))
	}
	if err := t.bz.setDiscoverable(true); err != nil {
		return err
	}

	record, err := hidServiceRecord(t.dev)
	if err != nil {
		return err
	}
	if err := t.bz.registerProfile(&hidProfile{t: t}, record); err != nil {
		return err
	}

	ctrlLn, err := listenL2CAP(psmControl)
	if err != nil {
		return fmt.Errorf("control channel: %w", err)
	}
	intrLn, err := listenL2CAP(psmInterrupt)
	if err != nil {
		unix.Close(ctrlLn)
		return fmt.Errorf("interrupt channel: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		unix.Close(ctrlLn)
		unix.Close(intrLn)
		return ErrTransportClosed
	}
	t.ctrlLn, t.intrLn = ctrlLn, intrLn
	t.wg.Add(2)
	t.mu.Unlock()

	go t.watchPower(ctx, signals)
	go t.acceptLoop()

	if on, err := t.bz.adapterPowered(); err == nil && on {
		t.stackReady()
	}
	t.log.Info("hid profile registered",
		zap.String("adapter", t.dev.Adapter),
		zap.String("name", t.dev.Name),
		zap.String("class", fmt.Sprintf("0x%06x", t.dev.Class)),
	)
	return nil
}

func (t *hidpTransport) stackReady() {
	t.ready.Do(func() {
		t.sink(TransportEvent{Kind: EventStackReady})
	})
}

func (t *hidpTransport) watchPower(ctx context.Context, signals chan *dbus.Signal) {
	defer t.wg.Done()
	defer t.bz.conn.RemoveSignal(signals)
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			powered, ok := t.bz.poweredChange(sig)
			if !ok {
				continue
			}
			t.log.Info("adapter power changed", zap.Bool("powered", powered))
			if powered {
				t.stackReady()
			} else if p := t.currentPeer(); p != nil {
				t.dropPeer(p)
			}
		}
	}
}

func listenL2CAP(psm uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, unix.BTPROTO_L2CAP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrL2{PSM: psm}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind psm 0x%02x: %w", psm, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen psm 0x%02x: %w", psm, err)
	}
	return fd, nil
}

// acceptLoop takes one peer at a time. The host opens the control channel
// first and the interrupt channel right after. Repeated accept failures
// back off; a listener that can never accept ends the loop.
func (t *hidpTransport) acceptLoop() {
	defer t.wg.Done()
	backoff := time.Duration(0)
	for {
		ctrl, sa, err := unix.Accept(t.ctrlLn)
		if err != nil {
			if t.isClosed() {
				return
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if listenerBroken(err) {
				t.log.Error("control listener unusable, no more peers", zap.Error(err))
				return
			}
			backoff = nextAcceptBackoff(backoff)
			t.log.Warn("accept control channel", zap.Error(err), zap.Duration("retry_in", backoff))
			t.sink(TransportEvent{Kind: EventConnectionOpened, Status: statusAcceptFailure})
			select {
			case <-t.stop:
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		addr := l2Addr(sa)

		if p := t.currentPeer(); p != nil {
			t.log.Info("refusing second peer",
				zap.String("peer", addr),
				zap.String("connected", p.addr),
			)
			unix.Close(ctrl)
			continue
		}

		intr, status := t.acceptInterrupt(addr)
		if status != 0 {
			unix.Close(ctrl)
			t.sink(TransportEvent{Kind: EventConnectionOpened, Status: status})
			continue
		}

		p := t.addPeer(addr, ctrl, intr)
		if p == nil {
			unix.Close(ctrl)
			unix.Close(intr)
			return
		}
		t.log.Info("peer connected", zap.String("peer", addr), zap.Uint16("handle", uint16(p.handle)))
		t.sink(TransportEvent{Kind: EventConnectionOpened, Handle: p.handle})

		t.wg.Add(3)
		go t.serveControl(p)
		go t.serveInterrupt(p)
		go t.grantLoop(p)
	}
}

// listenerBroken reports accept errors that retrying cannot fix.
func listenerBroken(err error) bool {
	return errors.Is(err, unix.EBADF) || errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTSOCK)
}

func nextAcceptBackoff(d time.Duration) time.Duration {
	if d < acceptBackoffMin {
		return acceptBackoffMin
	}
	return min(2*d, acceptBackoffMax)
}

func (t *hidpTransport) acceptInterrupt(addr string) (int, uint8) {
	fds := []unix.PollFd{{Fd: int32(t.intrLn), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(interruptWait/time.Millisecond))
	if err != nil || n == 0 {
		t.log.Warn("interrupt channel not opened", zap.String("peer", addr), zap.Error(err))
		return -1, statusPageTimeout
	}
	intr, sa, err := unix.Accept(t.intrLn)
	if err != nil {
		t.log.Warn("accept interrupt channel", zap.String("peer", addr), zap.Error(err))
		return -1, statusAcceptFailure
	}
	if got := l2Addr(sa); got != addr {
		t.log.Warn("interrupt channel from another peer", zap.String("control", addr), zap.String("interrupt", got))
		unix.Close(intr)
		return -1, statusPeerMismatch
	}
	return intr, 0
}

// l2Addr formats the peer address. The kernel stores it little-endian.
func l2Addr(sa unix.Sockaddr) string {
	l2, ok := sa.(*unix.SockaddrL2)
	if !ok {
		return ""
	}
	a := l2.Addr
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}

func (t *hidpTransport) addPeer(addr string, ctrl, intr int) *hidpPeer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	h := t.next
	t.next++
	if t.next == 0 {
		t.next = 1
	}
	t.peer = &hidpPeer{
		handle: h,
		addr:   addr,
		ctrl:   ctrl,
		intr:   intr,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	return t.peer
}

func (t *hidpTransport) currentPeer() *hidpPeer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peer
}

func (t *hidpTransport) peerFor(h ConnHandle) (*hidpPeer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.peer == nil || t.peer.handle != h {
		return nil, ErrNotConnected
	}
	return t.peer, nil
}

func (t *hidpTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// dropPeer closes both channels and posts ConnectionClosed once.
func (t *hidpTransport) dropPeer(p *hidpPeer) {
	p.closer.Do(func() {
		unix.Shutdown(p.ctrl, unix.SHUT_RDWR)
		unix.Shutdown(p.intr, unix.SHUT_RDWR)
		close(p.done)

		t.mu.Lock()
		if t.peer == p {
			t.peer = nil
		}
		t.mu.Unlock()

		t.log.Info("peer disconnected", zap.String("peer", p.addr), zap.Uint16("handle", uint16(p.handle)))
		t.sink(TransportEvent{Kind: EventConnectionClosed, Handle: p.handle})
	})
}

// serveControl answers host requests on the control channel. The report
// protocol is the only one offered, so protocol changes are acknowledged
// and ignored.
func (t *hidpTransport) serveControl(p *hidpPeer) {
	defer t.wg.Done()
	defer unix.Close(p.ctrl)
	defer t.dropPeer(p)

	buf := make([]byte, 64)
	for {
		n, err := unix.Read(p.ctrl, buf)
		if err != nil || n == 0 {
			return
		}
		msg := buf[0]
		var reply []byte
		switch msg & hidpTypeMask {
		case hidpSetReport, hidpSetProtocol:
			reply = []byte{hidpHandshake | handshakeSuccessful}
		case hidpGetProtocol:
			reply = []byte{0xA0, 0x01} // DATA, report protocol
		case hidpGetReport:
			r := neutralReport()
			reply = r[:]
		case hidpControl:
			if msg&0x0F == hidpVirtualUnplug {
				t.log.Info("virtual cable unplug", zap.String("peer", p.addr))
				return
			}
		default:
			reply = []byte{hidpHandshake | handshakeUnsupported}
		}
		if reply == nil {
			continue
		}
		if _, err := unix.Write(p.ctrl, reply); err != nil {
			t.log.Debug("control reply", zap.Error(err))
			return
		}
	}
}

// serveInterrupt only watches for the channel going away. Output reports
// (host LED state) are read and discarded.
func (t *hidpTransport) serveInterrupt(p *hidpPeer) {
	defer t.wg.Done()
	defer unix.Close(p.intr)
	defer t.dropPeer(p)

	buf := make([]byte, 64)
	for {
		n, err := unix.Read(p.intr, buf)
		if err != nil || n == 0 {
			return
		}
	}
}

// grantLoop turns each RequestSendGrant into one SendGrant event once the
// interrupt channel can take a report.
func (t *hidpTransport) grantLoop(p *hidpPeer) {
	defer t.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}
		for p.take() {
			if !t.waitWritable(p) {
				return
			}
			t.sink(TransportEvent{Kind: EventSendGrant, Handle: p.handle})
		}
	}
}

func (p *hidpPeer) take() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wants == 0 {
		return false
	}
	p.wants--
	return true
}

func (t *hidpTransport) waitWritable(p *hidpPeer) bool {
	fds := []unix.PollFd{{Fd: int32(p.intr), Events: unix.POLLOUT}}
	for {
		select {
		case <-p.done:
			return false
		default:
		}
		fds[0].Revents = 0
		n, err := unix.Poll(fds, int(grantPoll/time.Millisecond))
		switch {
		case err != nil && errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return false
		case n == 0:
			continue
		case fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0:
			return false
		case fds[0].Revents&unix.POLLOUT != 0:
			return true
		}
	}
}

func (t *hidpTransport) RequestSendGrant(h ConnHandle) error {
	p, err := t.peerFor(h)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.wants++
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (t *hidpTransport) SendReport(h ConnHandle, report []byte) error {
	p, err := t.peerFor(h)
	if err != nil {
		return err
	}
	if _, err := unix.Write(p.intr, report); err != nil {
		return fmt.Errorf("write interrupt channel: %w", err)
	}
	return nil
}

// Close stops accepting, drops the peer and unregisters the profile.
func (t *hidpTransport) Close() error {
	if !t.stopServing() {
		return nil
	}
	if err := t.bz.unregisterProfile(); err != nil {
		t.log.Debug("unregister profile", zap.Error(err))
	}
	t.bz.close()
	t.wg.Wait()
	return nil
}

// stopServing marks the transport closed, drops the peer and shuts the
// listeners. It reports false if that already happened.
func (t *hidpTransport) stopServing() bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.closed = true
	p := t.peer
	listeners := []int{t.ctrlLn, t.intrLn}
	t.mu.Unlock()

	close(t.stop)
	if p != nil {
		t.dropPeer(p)
	}
	for _, fd := range listeners {
		if fd >= 0 {
			unix.Shutdown(fd, unix.SHUT_RDWR)
			unix.Close(fd)
		}
	}
	return true
}

// hidProfile is the org.bluez.Profile1 object. It exists so BlueZ
// publishes the service record; the channels are accepted on the raw
// sockets, so any connection BlueZ hands over is closed.
type hidProfile struct {
	t *hidpTransport
}

func (p *hidProfile) Release() *dbus.Error {
	p.t.log.Info("profile released by bluez")
	return nil
}

func (p *hidProfile) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, props map[string]dbus.Variant) *dbus.Error {
	p.t.log.Debug("profile connection handed over, closing",
		zap.String("peer", macFromPath(device)),
	)
	unix.Close(int(fd))
	return nil
}

func (p *hidProfile) RequestDisconnection(device dbus.ObjectPath) *dbus.Error {
	p.t.log.Debug("profile disconnection requested", zap.String("peer", macFromPath(device)))
	return nil
}

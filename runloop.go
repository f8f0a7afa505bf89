package main

import (
	"context"
	"sync"
	"time"
)

// runLoop executes posted functions one at a time on the goroutine that
// calls Run. Post never blocks, so transport readers, timer expiries and
// IPC handlers can all feed it.
//
// It also implements Timers. Each Arm or Cancel bumps the timer's
// generation; an expiry that was already queued for an older generation
// is discarded when it reaches the loop.
type runLoop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}

	// Touched only on the loop goroutine.
	onTimer func(TimerID)
	gens    map[TimerID]uint64
	timers  map[TimerID]*time.Timer
}

func newRunLoop() *runLoop {
	return &runLoop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		gens:   make(map[TimerID]uint64),
		timers: make(map[TimerID]*time.Timer),
	}
}

// HandleTimers sets the expiry callback. Call it before Run.
func (l *runLoop) HandleTimers(fn func(TimerID)) {
	l.onTimer = fn
}

// Post queues fn. It reports false once the loop has stopped.
func (l *runLoop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish. It never returns
// while fn may still run: if ctx ends first, Call waits until fn is done
// or the loop has stopped, so the caller may read what fn wrote.
func (l *runLoop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		fn()
		close(finished)
	}) {
		return ErrLoopStopped
	}

	stopped := ErrLoopStopped
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		stopped = ctx.Err()
		select {
		case <-finished:
			return nil
		case <-l.done:
		}
	case <-l.done:
	}
	// Run has returned, so fn either ran or was discarded.
	select {
	case <-finished:
		return nil
	default:
		return stopped
	}
}

// Run drains the queue until ctx is cancelled. Pending timers are stopped
// and later posts are refused.
func (l *runLoop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		if ctx.Err() != nil {
			return nil
		}

		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// Done is closed once Run has returned.
func (l *runLoop) Done() <-chan struct{} { return l.done }

func (l *runLoop) stop() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()

	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
	close(l.done)
}

// Arm schedules id to fire after d, replacing any earlier schedule.
// Must be called on the loop.
func (l *runLoop) Arm(id TimerID, d time.Duration) {
	l.Cancel(id)
	gen := l.gens[id]
	l.timers[id] = time.AfterFunc(d, func() {
		l.Post(func() { l.fire(id, gen) })
	})
}

// Cancel stops id. An expiry already in the queue will be ignored.
// Must be called on the loop.
func (l *runLoop) Cancel(id TimerID) {
	l.gens[id]++
	if t, ok := l.timers[id]; ok {
		t.Stop()
		delete(l.timers, id)
	}
}

func (l *runLoop) fire(id TimerID, gen uint64) {
	if l.gens[id] != gen {
		return
	}
	delete(l.timers, id)
	if l.onTimer != nil {
		l.onTimer(id)
	}
}

package main

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

var nowFunc = time.Now

// eventLoop runs every orchestrator callback on one goroutine. Socket
// readers, process pumps and timers only ever post closures to it.
type eventLoop struct {
	queue    chan func()
	done     chan struct{}
	stopOnce sync.Once
	deferred []func()
	onPanic  func(recovered any)
}

func newEventLoop(depth int) *eventLoop {
	if depth <= 0 {
		depth = eventLoopQueueDepth
	}
	return &eventLoop{
		queue: make(chan func(), depth),
		done:  make(chan struct{}),
	}
}

// run processes callbacks until ctx is cancelled or stop is called.
func (l *eventLoop) run(ctx context.Context) {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case fn := <-l.queue:
			l.exec(fn)
			for len(l.deferred) > 0 {
				next := l.deferred[0]
				l.deferred = l.deferred[1:]
				l.exec(next)
			}
		}
	}
}

func (l *eventLoop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[INTERNAL ERROR] event loop callback panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			if l.onPanic != nil {
				l.onPanic(r)
			}
		}
	}()
	fn()
}

func (l *eventLoop) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *eventLoop) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// post queues fn from another goroutine. It must not be called from inside a
// loop callback; use later there.
func (l *eventLoop) post(fn func()) bool {
	// A stopped loop accepts nothing, even with room in the queue.
	if l.stopped() {
		return false
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// later runs fn after the current callback returns, before anything else
// queued. Only valid on the loop.
func (l *eventLoop) later(fn func()) {
	l.deferred = append(l.deferred, fn)
}

// call runs fn on the loop and waits for it to finish.
func (l *eventLoop) call(fn func()) bool {
	finished := make(chan struct{})
	if !l.post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// loopTimer is a timer whose callback runs on the loop. Once stop has been
// called on the loop the callback never runs, even if the expiry was already
// queued.
type loopTimer struct {
	timer    *time.Timer
	stopped  bool
	fired    bool
	interval time.Duration
}

func (t *loopTimer) stop() {
	if t == nil {
		return
	}
	t.stopped = true
	t.timer.Stop()
}

func (t *loopTimer) active() bool {
	return t != nil && !t.stopped && !t.fired
}

func (l *eventLoop) afterFunc(d time.Duration, fn func()) *loopTimer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.post(func() {
			if t.stopped {
				return
			}
			t.fired = true
			fn()
		})
	})
	return t
}

// every runs fn on the loop each interval until the returned timer is stopped.
func (l *eventLoop) every(interval time.Duration, fn func()) *loopTimer {
	t := &loopTimer{interval: interval}
	var tick func()
	tick = func() {
		l.post(func() {
			if t.stopped {
				return
			}
			fn()
			if !t.stopped {
				t.timer.Reset(t.interval)
			}
		})
	}
	t.timer = time.AfterFunc(interval, tick)
	return t
}

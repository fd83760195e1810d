package sse

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Watchdog errors, retrievable via context.Cause on the watched context.
var (
	ErrConnectTimeout = errors.New("sse: no events before connect deadline")
	ErrIdleTimeout    = errors.New("sse: event stream idle past deadline")
)

// Watchdog bounds a streaming read from the consumer side. ConnectTimeout
// covers the wait for the first frame; IdleTimeout covers every gap after
// that. Heartbeat comments count as activity, so a healthy but quiet stream
// stays alive.
type Watchdog struct {
	ConnectTimeout time.Duration // 0 means 45s
	IdleTimeout    time.Duration // 0 means 60s
}

func (w Watchdog) connect() time.Duration {
	if w.ConnectTimeout > 0 {
		return w.ConnectTimeout
	}
	return 45 * time.Second
}

func (w Watchdog) idle() time.Duration {
	if w.IdleTimeout > 0 {
		return w.IdleTimeout
	}
	return 60 * time.Second
}

// Watch derives a context that is cancelled when a deadline lapses. Call
// activity on every decoded event or comment to arm the idle deadline; call
// stop when the stream ends to release the timer. The cause distinguishes
// ErrConnectTimeout from ErrIdleTimeout.
func (w Watchdog) Watch(ctx context.Context) (wctx context.Context, activity func(), stop func()) {
	wctx, cancel := context.WithCancelCause(ctx)

	var mu sync.Mutex
	seenFirst := false
	var timer *time.Timer
	timer = time.AfterFunc(w.connect(), func() {
		mu.Lock()
		first := !seenFirst
		mu.Unlock()
		if first {
			cancel(ErrConnectTimeout)
		} else {
			cancel(ErrIdleTimeout)
		}
	})

	activity = func() {
		mu.Lock()
		seenFirst = true
		timer.Reset(w.idle())
		mu.Unlock()
	}
	stop = func() {
		timer.Stop()
		cancel(nil)
	}
	return wctx, activity, stop
}

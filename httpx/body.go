package httpx

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// idleTimer fires onExpire when it stays armed for d. It is armed only while
// the client is waiting on the network, so time the caller spends between
// reads does not count.
type idleTimer struct {
	d     time.Duration
	t     *time.Timer
	fired atomic.Bool
}

// newIdleTimer returns an armed timer.
func newIdleTimer(d time.Duration, onExpire func()) *idleTimer {
	it := &idleTimer{d: d}
	it.t = time.AfterFunc(d, func() {
		it.fired.Store(true)
		onExpire()
	})
	return it
}

func (it *idleTimer) arm() {
	if !it.fired.Load() {
		it.t.Reset(it.d)
	}
}

func (it *idleTimer) stop() { it.t.Stop() }

// timedBody arms the idle timer for the duration of each Read and releases
// the request context on Close.
type timedBody struct {
	ctx     context.Context
	rc      io.ReadCloser
	idle    *idleTimer
	release func()

	once sync.Once
}

func (b *timedBody) Read(p []byte) (int, error) {
	if b.idle != nil {
		b.idle.arm()
	}
	n, err := b.rc.Read(p)
	if b.idle != nil {
		b.idle.stop()
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, timeoutCause(b.ctx, err)
	}
	return n, err
}

func (b *timedBody) Close() error {
	err := b.rc.Close()
	b.once.Do(func() {
		if b.idle != nil {
			b.idle.stop()
		}
		if b.release != nil {
			b.release()
		}
	})
	return err
}

// timeoutCause replaces err with ErrReadTimeout or context.DeadlineExceeded
// when one of them is what ended ctx. net/http reports both as a generic
// cancellation.
func timeoutCause(ctx context.Context, err error) error {
	if ctx == nil || ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrReadTimeout) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	return err
}

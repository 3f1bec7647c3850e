// Package clock abstracts wall-clock time so that polling loops can be
// driven deterministically in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	// Sleep blocks for the duration provided, returning early with the
	// contexts error if it is cancelled first.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// Real returns a Clock backed by the system clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fake is a manually advanced clock. Sleeping advances the clock by the
// requested duration immediately, so loops run without delay.
type Fake struct {
	mutex  sync.Mutex
	now    time.Time
	slept  []time.Duration
	onTick func(time.Time)
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.now
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mutex.Lock()
	f.now = f.now.Add(d)
	f.slept = append(f.slept, d)
	now, onTick := f.now, f.onTick
	f.mutex.Unlock()

	if onTick != nil {
		onTick(now)
	}

	return ctx.Err()
}

// Advance moves the clock forward without recording a sleep.
func (f *Fake) Advance(d time.Duration) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = f.now.Add(d)
}

// OnSleep registers a callback which is invoked after every Sleep.
func (f *Fake) OnSleep(fn func(time.Time)) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.onTick = fn
}

// Sleeps returns every duration passed to Sleep, in order.
func (f *Fake) Sleeps() []time.Duration {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]time.Duration(nil), f.slept...)
}

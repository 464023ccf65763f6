package monitoring

import (
	"context"
	"time"
)

// DefaultPollInterval is the pause between checks unless configured otherwise
const DefaultPollInterval = 60 * time.Second

// CheckFunc reports whether to keep waiting, plus whatever it observed
type CheckFunc[T any] func(ctx context.Context) (bool, T, error)

// WaitFunc is told how long the loop has run and what the last check saw
type WaitFunc[T any] func(elapsed time.Duration, result T) error

// Looper repeatedly calls a check until it says stop. Between checks it
// calls onWait (if set) and sleeps for the poll interval. It never retries
// or swallows errors: an error from check or onWait ends the loop and is
// returned as-is. There is no iteration limit; cancel ctx to stop early.
type Looper[T any] struct {
	check    CheckFunc[T]
	onWait   WaitFunc[T]
	interval time.Duration
	now      func() time.Time
}

// NewLooper creates a looper. onWait may be nil.
func NewLooper[T any](check CheckFunc[T], onWait WaitFunc[T], interval time.Duration) *Looper[T] {
	return &Looper[T]{
		check:    check,
		onWait:   onWait,
		interval: interval,
		now:      time.Now,
	}
}

// Go runs the loop and returns the result of the final check
func (l *Looper[T]) Go(ctx context.Context) (T, error) {
	start := l.now()
	for {
		keepWaiting, result, err := l.check(ctx)
		if err != nil || !keepWaiting {
			return result, err
		}

		if l.onWait != nil {
			if err := l.onWait(l.now().Sub(start), result); err != nil {
				return result, err
			}
		}

		if err := sleep(ctx, l.interval); err != nil {
			return result, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

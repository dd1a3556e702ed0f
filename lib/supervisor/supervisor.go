// Package supervisor keeps a long-running task alive by restarting it after
// a fixed delay until its context ends.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	retry "github.com/avast/retry-go/v5"
)

// DefaultDelay is the pause between a failure and the next restart.
const DefaultDelay = 5 * time.Second

var errStopped = errors.New("task returned without error before shutdown")

// Task is one run of the supervised work. It should block until ctx ends or
// it fails.
type Task func(ctx context.Context) error

type Supervisor struct {
	name  string
	delay time.Duration
	log   *slog.Logger
}

func New(name string, delay time.Duration, log *slog.Logger) *Supervisor {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Supervisor{name: name, delay: delay, log: log.With("device", name)}
}

// Run calls task until ctx is cancelled. Every return before then, including
// a nil one, counts as a crash. Run returns nil once ctx is done.
func (s *Supervisor) Run(ctx context.Context, task Task) error {
	err := retry.New(
		retry.Attempts(0),
		retry.Delay(s.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			s.log.Error("bridge crashed; retrying", "attempt", n+1, "delay", s.delay.String(), "err", err)
		}),
	).Do(func() error {
		err := task(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return errStopped
		}
		return err
	})
	if ctx.Err() != nil {
		s.log.Info("bridge stopped")
		return nil
	}
	return err
}

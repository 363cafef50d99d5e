package schedule

import (
	"context"
	"errors"
	"time"
)

// ErrStop may be returned by a Body to end RunPeriodic without an error.
var ErrStop = errors.New("schedule: stop")

// Body is one iteration of a periodic task. release is the nominal release
// instant of this iteration (T0 + k*P for on-time iterations).
type Body func(ctx context.Context, iteration uint64, release time.Time) error

// OverrunFunc is told about every iteration that finished late.
type OverrunFunc func(iteration uint64, d Decision)

// RunPeriodic runs body at T0, then once per release of s, sleeping on clock
// between iterations. It returns ctx.Err() when cancelled, nil when the body
// returns ErrStop, and any other body error as is.
func RunPeriodic(ctx context.Context, clock Clock, s *Schedule, body Body, onOverrun OverrunFunc) error {
	release := s.Start()
	for i := uint64(0); ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := body(ctx, i, release); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}

		d := s.Advance(clock.Now())
		if d.Overrun && onOverrun != nil {
			onOverrun(i, d)
		}
		if err := clock.Sleep(ctx, d.Wait); err != nil {
			return err
		}
		release = d.Release
	}
}

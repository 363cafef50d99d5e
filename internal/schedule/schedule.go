// Package schedule implements drift-compensated periodic release.
// Releases are phase-locked to T0 + k*P: the next release advances by exactly
// one period per iteration, independent of how long the iteration body took.
package schedule

import (
	"fmt"
	"time"
)

// OverrunPolicy selects what happens when an iteration finishes at or after
// its next release instant.
type OverrunPolicy int

const (
	// AccumulateDrift starts the next iteration immediately and advances the
	// release by one period anyway. Overruns are counted but not alarmed.
	AccumulateDrift OverrunPolicy = iota
	// SkipToNextSlot drops the missed releases and waits for the first grid
	// instant at or after now.
	SkipToNextSlot
	// CatchUpImmediately has the timing of AccumulateDrift (missed releases
	// run back-to-back) but every late release raises an overrun alarm.
	CatchUpImmediately
)

var policyNames = map[OverrunPolicy]string{
	AccumulateDrift:    "accumulate_drift",
	SkipToNextSlot:     "skip_to_next_slot",
	CatchUpImmediately: "catch_up_immediately",
}

func (p OverrunPolicy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("OverrunPolicy(%d)", int(p))
}

// ParseOverrunPolicy converts a config string into an OverrunPolicy.
func ParseOverrunPolicy(s string) (OverrunPolicy, error) {
	for p, name := range policyNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown overrun policy %q", s)
}

// Decision is the outcome of one Advance call.
type Decision struct {
	// Release is the nominal release instant of the next iteration.
	Release time.Time
	// Wait is how long to sleep before the next iteration starts.
	Wait time.Duration
	// Overrun is set when the body finished at or after its next release.
	Overrun bool
	// Lateness is how far past the release the body finished.
	Lateness time.Duration
	// Missed counts releases dropped by SkipToNextSlot.
	Missed int
	// Alarm is set when the policy wants the overrun reported.
	Alarm bool
}

// Schedule is the release schedule of one periodic task.
// Not safe for concurrent use; it is owned by the task it schedules.
type Schedule struct {
	period   time.Duration
	start    time.Time
	next     time.Time
	policy   OverrunPolicy
	overruns int
}

// NewSchedule creates a schedule whose first body runs at start and whose
// next release is start+period.
func NewSchedule(start time.Time, period time.Duration, policy OverrunPolicy) *Schedule {
	return &Schedule{
		period: period,
		start:  start,
		next:   start.Add(period),
		policy: policy,
	}
}

// Start returns T0.
func (s *Schedule) Start() time.Time { return s.start }

// Period returns P.
func (s *Schedule) Period() time.Duration { return s.period }

// Next returns the pending release instant.
func (s *Schedule) Next() time.Time { return s.next }

// Policy returns the overrun policy.
func (s *Schedule) Policy() OverrunPolicy { return s.policy }

// Overruns returns the number of iterations that finished late.
func (s *Schedule) Overruns() int { return s.overruns }

// Advance is called with the current time after an iteration body completes.
// It returns how long to wait and moves the schedule one period forward.
func (s *Schedule) Advance(now time.Time) Decision {
	if now.Before(s.next) {
		d := Decision{Release: s.next, Wait: s.next.Sub(now)}
		s.next = s.next.Add(s.period)
		return d
	}

	s.overruns++
	d := Decision{
		Overrun:  true,
		Lateness: now.Sub(s.next),
		Alarm:    s.policy != AccumulateDrift,
	}

	if s.policy == SkipToNextSlot {
		// First grid instant T0 + k*P at or after now.
		elapsed := now.Sub(s.start)
		k := elapsed / s.period
		if elapsed%s.period != 0 {
			k++
		}
		slot := s.start.Add(k * s.period)
		d.Release = slot
		d.Wait = slot.Sub(now)
		d.Missed = int(slot.Sub(s.next) / s.period)
		s.next = slot.Add(s.period)
		return d
	}

	d.Release = s.next
	s.next = s.next.Add(s.period)
	return d
}

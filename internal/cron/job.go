// Package cron implements the persistent job scheduler: a versioned
// on-disk job store plus a dispatcher that fires due jobs into the
// agent runtime.
package cron

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule kinds.
const (
	KindCron  = "cron"
	KindEvery = "every"
	KindAt    = "at"
)

// Schedule is a tagged union: exactly the fields for Kind are set.
type Schedule struct {
	Kind string `json:"kind"`

	// kind=cron
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`

	// kind=every
	Seconds int64 `json:"seconds,omitempty"`

	// kind=at
	At time.Time `json:"at,omitempty"`
}

// Payload is what a firing delivers to the agent.
type Payload struct {
	Message string `json:"message"`
	Channel string `json:"channel,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

// JobState tracks run bookkeeping.
type JobState struct {
	NextRunAt  time.Time `json:"next_run_at"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastStatus string    `json:"last_status,omitempty"` // "ok" or "error"
	LastError  string    `json:"last_error,omitempty"`
}

// Job is one scheduled task.
type Job struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Enabled        bool      `json:"enabled"`
	Schedule       Schedule  `json:"schedule"`
	Payload        Payload   `json:"payload"`
	State          JobState  `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	DeleteAfterRun bool      `json:"delete_after_run"`
}

// NextRun computes the next fire instant for the schedule after base.
// One-shot "at" schedules return their literal instant regardless of base.
func (s Schedule) NextRun(base time.Time) (time.Time, error) {
	switch s.Kind {
	case KindCron:
		loc := time.UTC
		if s.TZ != "" {
			var err error
			loc, err = time.LoadLocation(s.TZ)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid timezone %q: %w", s.TZ, err)
			}
		}
		next, err := gronx.NextTickAfter(s.Expr, base.In(loc), false)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", s.Expr, err)
		}
		return next.UTC(), nil
	case KindEvery:
		if s.Seconds <= 0 {
			return time.Time{}, fmt.Errorf("every schedule needs a positive interval, got %d", s.Seconds)
		}
		return base.Add(time.Duration(s.Seconds) * time.Second).UTC(), nil
	case KindAt:
		if s.At.IsZero() {
			return time.Time{}, fmt.Errorf("at schedule has no instant")
		}
		return s.At.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// Validate checks the schedule without computing a fire time.
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindCron:
		if !gronx.New().IsValid(s.Expr) {
			return fmt.Errorf("invalid cron expression %q", s.Expr)
		}
		if s.TZ != "" {
			if _, err := time.LoadLocation(s.TZ); err != nil {
				return fmt.Errorf("invalid timezone %q: %w", s.TZ, err)
			}
		}
		return nil
	case KindEvery:
		if s.Seconds <= 0 {
			return fmt.Errorf("every schedule needs a positive interval, got %d", s.Seconds)
		}
		return nil
	case KindAt:
		if s.At.IsZero() {
			return fmt.Errorf("at schedule has no instant")
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// Describe renders the schedule for job listings.
func (s Schedule) Describe() string {
	switch s.Kind {
	case KindCron:
		if s.TZ != "" {
			return fmt.Sprintf("cron %q (%s)", s.Expr, s.TZ)
		}
		return fmt.Sprintf("cron %q", s.Expr)
	case KindEvery:
		return fmt.Sprintf("every %ds", s.Seconds)
	case KindAt:
		return "at " + s.At.UTC().Format(time.RFC3339)
	default:
		return "unknown"
	}
}

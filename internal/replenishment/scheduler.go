package replenishment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zenithfresh/thawplan/internal/domain/days"
)

var ErrInvalidSchedule = errors.New("schedule time must be HH:MM")

// Scheduler runs the daily flow of every product once a day at a fixed local time.
type Scheduler struct {
	svc  *Service
	log  *slog.Logger
	loc  *time.Location
	hour int
	min  int
	now  func() time.Time
}

func NewScheduler(svc *Service, at string, loc *time.Location, log *slog.Logger) (*Scheduler, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(at))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, at)
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{svc: svc, log: log, loc: loc, hour: t.Hour(), min: t.Minute(), now: time.Now}, nil
}

// next returns the first scheduled instant strictly after now.
func (s *Scheduler) next(now time.Time) time.Time {
	local := now.In(s.loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.min, 0, 0, s.loc)
	if !at.After(local) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.now()
		wait := s.next(now).Sub(now)
		s.log.Info("next scheduled daily flow", "in", wait.Round(time.Second).String())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		date := days.Today(s.now(), s.loc)
		outcomes, err := s.svc.RunAll(ctx, date)
		if err != nil {
			s.log.Error("scheduled daily flow failed", "date", days.Format(date), "err", err)
			continue
		}
		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
			}
		}
		s.log.Info("scheduled daily flow finished", "date", days.Format(date), "products", len(outcomes), "failed", failed)
	}
}

// Package tasks runs work off the request path: delayed one-shot jobs,
// periodic jobs and cancellable goroutines.
package tasks

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"
)

// Scheduler is a gocron scheduler narrowed to what the service needs.
type Scheduler struct {
	sched gocron.Scheduler
	now   func() time.Time
}

// NewScheduler creates and starts a scheduler.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s.Start()
	return &Scheduler{sched: s, now: time.Now}, nil
}

// After runs fn once, d from now. A non-positive d runs it immediately.
func (s *Scheduler) After(name string, d time.Duration, fn func()) error {
	def := gocron.OneTimeJob(gocron.OneTimeJobStartImmediately())
	if d > 0 {
		def = gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(s.now().Add(d)))
	}
	_, err := s.sched.NewJob(def, gocron.NewTask(fn), gocron.WithName(name))
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	log.WithField("job", name).Debugf("Scheduled in %s", d)
	return nil
}

// Every runs fn each interval until the scheduler shuts down.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const DefaultSchedule = "@every 1m"

// Scheduler runs the reaper on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron   *cron.Cron
	reaper *Reaper
	log    *logrus.Entry
}

func NewScheduler(reaper *Reaper, schedule string, log *logrus.Entry) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s := &Scheduler{cron: c, reaper: reaper, log: log}

	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("add reap job %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.log.Info("expiry scheduler started")
	s.cron.Start()
}

// Stop stops scheduling and waits for a running pass, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("expiry scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.reaper.RunOnce(ctx); err != nil {
		s.log.WithError(err).Error("reap pass failed")
	}
}

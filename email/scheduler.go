package email

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler sends due scheduled campaigns once a minute.
type Scheduler struct {
	svc  *Service
	cron *cron.Cron
	log  *logrus.Logger
}

func NewScheduler(svc *Service, logger *logrus.Logger) (*Scheduler, error) {
	s := &Scheduler{svc: svc, log: logger}
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if _, err := s.cron.AddFunc("@every 1m", s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
	defer cancel()
	n, err := s.svc.SendDue(ctx)
	if err != nil {
		s.log.WithError(err).Error("could not load scheduled campaigns")
		return
	}
	if n > 0 {
		s.log.WithField("campaigns", n).Info("scheduled campaigns sent")
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for a running tick to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

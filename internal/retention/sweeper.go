// Package retention runs the scheduled hard-delete of expired messages.
// Rooms opt in with auto_delete_days; everything else is kept forever.
package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tutorlink/internal/logger"
)

// Purger deletes messages past their room's retention window, returning
// how many rows were removed. Implemented by repository.MessageRepository.
type Purger interface {
	HardDeleteExpired(ctx context.Context) (int64, error)
}

// Sweeper schedules the retention sweep. Hourly by default.
type Sweeper struct {
	purger Purger
	spec   string
	cron   *cron.Cron
}

func NewSweeper(purger Purger, spec string) *Sweeper {
	if spec == "" {
		spec = "@hourly"
	}
	return &Sweeper{purger: purger, spec: spec}
}

// Start registers the job and starts the scheduler. Returns an error only
// for an invalid cron spec.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.spec, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	logger.Infof("retention sweep scheduled (%s)", s.spec)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := s.purger.HardDeleteExpired(ctx)
	if err != nil {
		logger.Errorf("retention sweep: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("retention sweep removed %d expired messages", n)
	}
}

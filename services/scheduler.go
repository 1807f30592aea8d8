// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartCleanerScheduler runs StateCleaner as the system caller every interval.
// The returned scheduler is already started; Shutdown it on exit.
func (s *CoinFlipService) StartCleanerScheduler(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithClock(s.Clock))
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if ctx.Err() != nil {
				return
			}
			if _, err := s.StateCleaner(ctx, SystemCaller()); err != nil {
				s.log.Error("scheduled cleaner failed", "err", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	s.log.Info("cleaner scheduled", "interval", interval)
	return sched, nil
}

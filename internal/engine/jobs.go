package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mcastell/convo/internal/config"
)

// Pinger is the health probe used by the daily status job.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Jobs owns the background schedule: a periodic contact cache warm and a daily
// status report.
type Jobs struct {
	cron *cron.Cron
}

func StartJobs(e *Engine, pinger Pinger) (*Jobs, error) {
	c := cron.New()

	_, err := c.AddFunc("@every 10m", func() {
		cfg := config.Get()
		if !cfg.Feature(config.FeatureContacts).Enabled {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		e.contactSync.Warm(ctx, cfg.Business.ID)
	})
	if err != nil {
		return nil, err
	}

	_, err = c.AddFunc("0 8 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		storeOK := pinger.Ping(ctx) == nil
		slog.Info("daily status",
			"business", config.Get().Business.ID,
			"storeHealthy", storeOK,
			"pendingTurns", e.PendingTurns())
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	return &Jobs{cron: c}, nil
}

// Stop halts the schedule and waits for running jobs to finish.
func (j *Jobs) Stop() {
	<-j.cron.Stop().Done()
}

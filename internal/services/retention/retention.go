package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	logsrepo "github.com/crewdeck-go/internal/services/logs/repository"
	"github.com/crewdeck-go/pkg/config"
	"github.com/crewdeck-go/pkg/logger"
	"github.com/crewdeck-go/pkg/metrics"
)

// Job purges log rows older than the configured retention window on a
// cron schedule.
type Job struct {
	repo    *logsrepo.LogRepository
	cfg     config.RetentionConfig
	logger  logger.Logger
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewJob(repo *logsrepo.LogRepository, cfg config.RetentionConfig, log logger.Logger) *Job {
	return &Job{
		repo:   repo,
		cfg:    cfg,
		logger: log,
		cron:   cron.New(),
	}
}

// Start registers the purge with the scheduler and begins the cron loop.
func (j *Job) Start() error {
	id, err := j.cron.AddFunc(j.cfg.CronSpec, j.runOnce)
	if err != nil {
		return err
	}
	j.entryID = id
	j.cron.Start()
	j.logger.Info("log retention scheduled", "spec", j.cfg.CronSpec, "maxDays", j.cfg.MaxDays)
	return nil
}

// Stop halts the schedule and waits for an in-flight purge to finish.
func (j *Job) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Job) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -j.cfg.MaxDays)
	purged, err := j.repo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("log retention purge failed", "cutoff", cutoff, "error", err)
		return
	}
	metrics.LogRowsPurged.Add(float64(purged))
	j.logger.Info("log retention purge complete", "cutoff", cutoff, "rows", purged)
}

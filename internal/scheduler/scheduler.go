// Package scheduler drives the two recurring jobs through cron. The
// update and alert passes are registered separately so their cadences
// can differ; a pass that overlaps its predecessor is safe because the
// jobs tolerate at-least-once selection.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"assetwatch/internal/jobs"
)

// Job is one schedulable unit of work.
type Job interface {
	Run(ctx context.Context) (jobs.Summary, error)
}

type Scheduler struct {
	cron   *cron.Cron
	update Job
	alerts Job
	log    zerolog.Logger
	ctx    context.Context
}

func New(ctx context.Context, update, alerts Job, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		update: update,
		alerts: alerts,
		log:    log,
		ctx:    ctx,
	}
}

// Register wires both jobs onto their cron expressions.
func (s *Scheduler) Register(updateCron, alertCron string) error {
	if _, err := s.cron.AddFunc(updateCron, func() { s.runOne("price_update", s.update) }); err != nil {
		return fmt.Errorf("register price update task: %w", err)
	}
	if _, err := s.cron.AddFunc(alertCron, func() { s.runOne("alert_check", s.alerts) }); err != nil {
		return fmt.Errorf("register alert check task: %w", err)
	}
	return nil
}

// Start begins ticking. It returns immediately; cron runs jobs on its
// own goroutines.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the ticker and waits for in-flight jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunUpdateNow executes one price-update pass outside the schedule.
func (s *Scheduler) RunUpdateNow() (jobs.Summary, error) {
	return s.update.Run(s.ctx)
}

// RunAlertsNow executes one alert-check pass outside the schedule.
func (s *Scheduler) RunAlertsNow() (jobs.Summary, error) {
	return s.alerts.Run(s.ctx)
}

func (s *Scheduler) runOne(name string, job Job) {
	start := time.Now()
	sum, err := job.Run(s.ctx)
	log := s.log.With().
		Str("job", name).
		Dur("took", time.Since(start)).
		Int("users_processed", sum.UsersProcessed).
		Int("assets_updated", sum.AssetsUpdated).
		Int("assets_failed", sum.AssetsFailed).
		Int("alerts_triggered", sum.AlertsTriggered).
		Int("notifications_sent", sum.NotificationsSent).
		Logger()
	if err != nil {
		log.Error().Err(err).Msg("job finished with error")
		return
	}
	log.Info().Msg("job finished")
}

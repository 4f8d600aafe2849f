package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/marswin2024/jira-confluence-digest/internal/config"
	"github.com/marswin2024/jira-confluence-digest/internal/repo"
)

// runTimeout bounds one full digest run, covering an HTTP-style platform
// deadline as well.
const runTimeout = 10 * time.Minute

const lockKey int64 = 727272

type service interface {
	RunDailyDigest(ctx context.Context) error
}

type Cron struct {
	cfg  config.Config
	log  zerolog.Logger
	svc  service
	repo *repo.Repository
	c    *cron.Cron
}

// NewCron schedules the digest once daily at cfg.ScheduleTime in cfg.TZ.
func NewCron(cfg config.Config, log zerolog.Logger, svc service, r *repo.Repository) (*Cron, error) {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.TZ, err)
	}
	hour, minute, err := config.ParseScheduleTime(cfg.ScheduleTime)
	if err != nil {
		return nil, err
	}
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, svc: svc, repo: r, c: c}
	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	if _, err := c.AddFunc(spec, cr.daily); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	log.Info().Str("schedule", cfg.ScheduleTime).Str("tz", cfg.TZ).Msg("daily digest scheduled")
	return cr, nil
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

func (cr *Cron) daily() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if cr.repo != nil {
		ok, err := cr.repo.TryAdvisoryLock(ctx, lockKey)
		if err != nil {
			cr.log.Error().Err(err).Msg("cron: lock error")
			return
		}
		if !ok {
			cr.log.Info().Msg("cron: digest already running elsewhere")
			return
		}
		defer func() { _ = cr.repo.AdvisoryUnlock(context.Background(), lockKey) }()
	}
	cr.log.Info().Msg("cron: daily digest")
	if err := cr.svc.RunDailyDigest(ctx); err != nil {
		cr.log.Error().Err(err).Msg("cron: digest failed")
	}
}

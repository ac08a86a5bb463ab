package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/credits-backend/pkg/logger"
)

// PurgeFunc deletes rows older than cutoff and returns how many went.
type PurgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// RetentionTarget is one table the retention job trims.
type RetentionTarget struct {
	Name      string
	Retention time.Duration
	Purge     PurgeFunc
}

type RetentionJobParams struct {
	Logger  *logger.Logger
	Targets []RetentionTarget
}

func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(params.Targets) == 0 {
		return nil, fmt.Errorf("at least one retention target required")
	}
	for _, target := range params.Targets {
		if target.Name == "" || target.Purge == nil {
			return nil, fmt.Errorf("retention target %q is incomplete", target.Name)
		}
		if target.Retention <= 0 {
			return nil, fmt.Errorf("retention target %q needs a positive retention", target.Name)
		}
	}
	return &retentionJob{
		logg:    params.Logger,
		targets: params.Targets,
		now:     time.Now,
	}, nil
}

// retentionJob trims every target in turn. A failing target does not stop
// the others; all failures are returned together.
type retentionJob struct {
	logg    *logger.Logger
	targets []RetentionTarget
	now     func() time.Time
}

func (j *retentionJob) Name() string { return "retention" }

func (j *retentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var errs error
	for _, target := range j.targets {
		cutoff := now.Add(-target.Retention)
		deleted, err := target.Purge(ctx, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purge %s: %w", target.Name, err))
			continue
		}
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"target":       target.Name,
			"cutoff":       cutoff,
			"rows_deleted": deleted,
		}), "retention purge complete")
	}
	return errs
}

package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/credits-backend/internal/referrals"
	"github.com/angelmondragon/credits-backend/pkg/logger"
)

type referralSweeper interface {
	Sweep(ctx context.Context) (*referrals.SweepResult, error)
}

type ReferralSweepJobParams struct {
	Logger    *logger.Logger
	Referrals referralSweeper
}

func NewReferralSweepJob(params ReferralSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Referrals == nil {
		return nil, fmt.Errorf("referral service required")
	}
	return &referralSweepJob{logg: params.Logger, referrals: params.Referrals}, nil
}

// referralSweepJob resolves referrals still pending after the verification
// window: verified when the referred account has participated, rejected otherwise.
type referralSweepJob struct {
	logg      *logger.Logger
	referrals referralSweeper
}

func (j *referralSweepJob) Name() string { return "referral-deadline-sweep" }

func (j *referralSweepJob) Run(ctx context.Context) error {
	result, err := j.referrals.Sweep(ctx)
	if result != nil {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"examined":  result.Examined,
			"verified":  result.Verified,
			"rejected":  result.Rejected,
			"unchanged": result.Unchanged,
		}), "referral sweep complete")
	}
	if err != nil {
		return fmt.Errorf("referral sweep: %w", err)
	}
	return nil
}

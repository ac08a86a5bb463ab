package alerts

import (
	"context"

	"github.com/angelmondragon/credits-backend/internal/notifications"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/metrics"
)

// Raiser is the collaborator other services call when something notable happened.
type Raiser interface {
	Raise(ctx context.Context, ev Event) Decision
}

// Recorder persists raised decisions as admin notifications. Delivery is someone else's job.
type Recorder struct {
	repo    notifications.Repository
	policy  Policy
	logg    *logger.Logger
	metrics *metrics.DomainMetrics
}

func NewRecorder(repo notifications.Repository, policy Policy, logg *logger.Logger, m *metrics.DomainMetrics) (*Recorder, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Recorder{repo: repo, policy: policy, logg: logg, metrics: m}, nil
}

// Raise always returns the decision; a failed insert is logged and swallowed.
func (r *Recorder) Raise(ctx context.Context, ev Event) Decision {
	decision := Decide(r.policy, ev)
	if !decision.Raise {
		return decision
	}

	notification := &models.AdminNotification{
		Type:             decision.Category,
		Severity:         decision.Severity,
		Title:            decision.Title,
		Message:          decision.Message,
		RelatedAccountID: ev.AccountID,
	}
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"alert_category": string(decision.Category),
		"alert_severity": string(decision.Severity),
	})
	if err := r.repo.Create(ctx, notification); err != nil {
		r.logg.Error(logCtx, "failed to record admin notification", err)
		return decision
	}
	r.metrics.AlertRaised(string(decision.Category))
	r.logg.Warn(logCtx, decision.Title)
	return decision
}

// Discard decides but records nothing.
type Discard struct{ Policy Policy }

func (d Discard) Raise(_ context.Context, ev Event) Decision {
	return Decide(d.Policy, ev)
}

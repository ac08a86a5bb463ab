package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/credits-backend/pkg/db"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
)

// Checker is the qualifying-activity predicate used by referral verification.
type Checker interface {
	HasParticipated(ctx context.Context, accountID uuid.UUID) (bool, error)
}

// Service records participations reported by the competitions side.
type Service interface {
	Checker
	WithTx(tx *gorm.DB) Service
	Record(ctx context.Context, accountID uuid.UUID, activity string) (*models.Participation, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("activity repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx), now: s.now}
}

func (s *service) Record(ctx context.Context, accountID uuid.UUID, activity string) (*models.Participation, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	activity = strings.TrimSpace(activity)
	if activity == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "activity is required")
	}
	row := &models.Participation{
		AccountID:  accountID,
		Activity:   activity,
		OccurredAt: s.now().UTC(),
	}
	if err := s.repo.Record(ctx, row); err != nil {
		return nil, db.MapError(err, "record participation")
	}
	return row, nil
}

func (s *service) HasParticipated(ctx context.Context, accountID uuid.UUID) (bool, error) {
	ok, err := s.repo.HasParticipated(ctx, accountID, time.Time{})
	if err != nil {
		return false, db.MapError(err, "check participation")
	}
	return ok, nil
}

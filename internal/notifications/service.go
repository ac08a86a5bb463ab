package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/pagination"
)

// Service is the operator inbox for alerts raised by the ledger and the
// referral trackers.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context) (int64, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// ListParams filters the inbox. Type is the wire name of a NotificationType.
type ListParams struct {
	Limit      int
	Cursor     string
	UnreadOnly bool
	Type       string
	AccountID  *uuid.UUID
}

// ListResult is one page plus the inbox-wide unread total.
type ListResult struct {
	Items  []models.AdminNotification
	Cursor string
	Unread int64
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	query, err := buildListQuery(params)
	if err != nil {
		return nil, err
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list notifications")
	}
	unread, err := s.repo.CountUnread(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "count unread notifications")
	}

	result := &ListResult{Items: rows, Unread: unread}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func buildListQuery(params ListParams) (listParams, error) {
	query := listParams{
		Limit:      params.Limit,
		UnreadOnly: params.UnreadOnly,
		AccountID:  params.AccountID,
	}
	if params.Type != "" {
		typ, err := enums.ParseNotificationType(params.Type)
		if err != nil {
			return listParams{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification type").WithDetail("field", "type")
		}
		query.Type = &typ
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return listParams{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor").WithDetail("field", "cursor")
		}
		query.Cursor = cursor
	}
	return query, nil
}

// MarkRead is idempotent for notifications that are already read.
func (s *service) MarkRead(ctx context.Context, notificationID uuid.UUID) error {
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}
	result, err := s.repo.MarkRead(ctx, notificationID, s.now().UTC())
	switch {
	case err != nil:
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "mark notification read")
	case !result.Found:
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context) (int64, error) {
	count, err := s.repo.MarkAllRead(ctx, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "mark notifications read")
	}
	return count, nil
}

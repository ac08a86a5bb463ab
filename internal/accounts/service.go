package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/credits-backend/pkg/db"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/security"
)

const (
	referralCodeLength   = 8
	referralCodeAttempts = 5
)

// Service is the account-lookup surface used by the ledger, referral and auth flows.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	GetByReferralCode(ctx context.Context, code string) (*models.Account, error)
	Create(ctx context.Context, input CreateInput) (*models.Account, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

// CreateInput carries an already hashed password.
type CreateInput struct {
	Username        string
	Email           string
	PasswordHash    string
	Role            enums.AccountRole
	ReferralCodeTTL time.Duration
}

type service struct {
	repo    Repository
	newCode func() (string, error)
	now     func() time.Time
}

// NewService wires the account service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("account repository required")
	}
	return &service{
		repo:    repo,
		newCode: func() (string, error) { return security.GenerateReferralCode(referralCodeLength) },
		now:     time.Now,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "account not found")
	}
	return account, nil
}

func (s *service) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "username is required")
	}
	account, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, notFoundOr(err, "account not found")
	}
	return account, nil
}

func (s *service) GetByReferralCode(ctx context.Context, code string) (*models.Account, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referral code is required")
	}
	account, err := s.repo.FindByReferralCode(ctx, code)
	if err != nil {
		return nil, notFoundOr(err, "referral code not found")
	}
	return account, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Account, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if username == "" || email == "" || input.PasswordHash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "username, email and password are required")
	}
	role := input.Role
	if role == "" {
		role = enums.AccountRoleUser
	}
	if !role.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid role %q", role)
	}

	now := s.now().UTC()
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate referral code")
		}
		account := &models.Account{
			Username:         username,
			Email:            email,
			PasswordHash:     input.PasswordHash,
			Role:             role,
			ReferralCode:     code,
			LastMonthlyReset: now,
		}
		if input.ReferralCodeTTL > 0 {
			expires := now.Add(input.ReferralCodeTTL)
			account.ReferralCodeExpiresAt = &expires
		}

		err = s.repo.Create(ctx, account)
		switch {
		case err == nil:
			return account, nil
		case db.IsUniqueViolation(err, "referral_code"):
			continue
		case db.IsUniqueViolation(err, ""):
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "username or email already registered")
		default:
			return nil, db.MapError(err, "create account")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "could not allocate a unique referral code")
}

func notFoundOr(err error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, message)
	}
	return db.MapError(err, message)
}

func (s *service) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	if id == uuid.Nil || hash == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id and password hash are required")
	}
	return db.MapError(s.repo.UpdatePasswordHash(ctx, id, hash), "update password hash")
}

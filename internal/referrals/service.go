package referrals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/credits-backend/internal/accounts"
	"github.com/angelmondragon/credits-backend/internal/activity"
	"github.com/angelmondragon/credits-backend/internal/alerts"
	"github.com/angelmondragon/credits-backend/internal/ledger"
	"github.com/angelmondragon/credits-backend/internal/rewards"
	"github.com/angelmondragon/credits-backend/internal/tracker"
	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/db"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/metrics"
	"github.com/angelmondragon/credits-backend/pkg/pagination"
)

// Create rejection reasons.
const (
	ReasonInvalidCode     = "invalid_code"
	ReasonExpiredCode     = "expired_code"
	ReasonSelfReferral    = "self_referral"
	ReasonAlreadyReferred = "already_referred"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type intakeChecker interface {
	Check(ctx context.Context, ip string) tracker.IntakeDecision
}

type rateRecorder interface {
	Record(ctx context.Context, referrerID uuid.UUID) tracker.RateDecision
}

type automationDetector interface {
	Detect(userAgent string) (bool, string)
}

// Service drives referrals from pending to verified or rejected.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Referral, error)
	Verify(ctx context.Context, referralID uuid.UUID, method string) (*TransitionResult, error)
	VerifyByActivity(ctx context.Context, referredID uuid.UUID) (*TransitionResult, error)
	Reject(ctx context.Context, referralID uuid.UUID, reason string) (*TransitionResult, error)
	Sweep(ctx context.Context) (*SweepResult, error)
	Get(ctx context.Context, referralID uuid.UUID) (*models.Referral, error)
	ListForReferrer(ctx context.Context, referrerID uuid.UUID, params ListParams) (*ListResult, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

// CreateInput captures a registration that carried a referral code.
type CreateInput struct {
	Code       string
	ReferredID uuid.UUID
	OriginIP   string
	UserAgent  string
}

// TransitionResult describes what a Verify or Reject call did. Changed is
// false when the referral was already terminal and nothing happened.
type TransitionResult struct {
	Referral       *models.Referral
	Changed        bool
	RewardEntry    *models.LedgerEntry
	MilestoneEntry *models.LedgerEntry
	WelcomeEntry   *models.LedgerEntry
	ReversalEntry  *models.LedgerEntry
	BlockReason    rewards.BlockReason
	Shortfall      int64
}

type SweepResult struct {
	Examined  int
	Verified  int
	Rejected  int
	Unchanged int
}

type ListParams struct {
	Limit      int
	Cursor     string
	Status     string
	Suspicious *bool
}

type ListResult struct {
	Items  []models.Referral
	Cursor string
}

// Params wires the referral service. Intake, Rate, Automation, Alerts, Logger
// and Metrics are optional.
type Params struct {
	DB         txRunner
	Repo       Repository
	Accounts   accounts.Repository
	Ledger     ledger.Service
	Activity   activity.Checker
	Policy     rewards.Policy
	Config     config.ReferralConfig
	PoolID     uuid.UUID
	Intake     intakeChecker
	Rate       rateRecorder
	Automation automationDetector
	Alerts     alerts.Raiser
	Logger     *logger.Logger
	Metrics    *metrics.DomainMetrics
}

type service struct {
	db         txRunner
	repo       Repository
	accounts   accounts.Repository
	ledger     ledger.Service
	activity   activity.Checker
	policy     rewards.Policy
	cfg        config.ReferralConfig
	poolID     uuid.UUID
	intake     intakeChecker
	rate       rateRecorder
	automation automationDetector
	alerts     alerts.Raiser
	logg       *logger.Logger
	metrics    *metrics.DomainMetrics
	now        func() time.Time
}

func NewService(p Params) (Service, error) {
	if p.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("referral repository required")
	}
	if p.Accounts == nil {
		return nil, fmt.Errorf("account repository required")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if p.Activity == nil {
		return nil, fmt.Errorf("activity checker required")
	}
	cfg := p.Config
	if cfg.ReversalMode == "" {
		cfg.ReversalMode = config.ReversalModeCap
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 200
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		db:         p.DB,
		repo:       p.Repo,
		accounts:   p.Accounts,
		ledger:     p.Ledger,
		activity:   p.Activity,
		policy:     p.Policy,
		cfg:        cfg,
		poolID:     p.PoolID,
		intake:     p.Intake,
		rate:       p.Rate,
		automation: p.Automation,
		alerts:     p.Alerts,
		logg:       logg,
		metrics:    p.Metrics,
		now:        time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Referral, error) {
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referral code is required").WithReason(ReasonInvalidCode)
	}
	if input.ReferredID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referred account is required")
	}
	now := s.now().UTC()

	referrer, err := s.accounts.FindByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "referral code not recognised").WithReason(ReasonInvalidCode)
		}
		return nil, db.MapError(err, "lookup referral code")
	}
	if referrer.ReferralCodeExpired(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referral code has expired").WithReason(ReasonExpiredCode)
	}
	if referrer.ID == input.ReferredID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "accounts cannot refer themselves").WithReason(ReasonSelfReferral)
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"referrer_id": referrer.ID.String(),
		"referred_id": input.ReferredID.String(),
	})

	if s.intake != nil {
		decision := s.intake.Check(ctx, input.OriginIP)
		if err := decision.Err(); err != nil {
			s.metrics.ReferralTransition("intake_rejected")
			s.logg.Warn(s.logg.WithField(ctx, "reason", decision.Reason), "referral intake rejected")
			return nil, err
		}
	}

	automated, signature := false, ""
	if s.automation != nil {
		automated, signature = s.automation.Detect(input.UserAgent)
	}

	referral := &models.Referral{
		ReferrerID:   referrer.ID,
		ReferredID:   input.ReferredID,
		Status:       enums.ReferralStatusPending,
		IsSuspicious: automated,
		OriginIP:     optional(input.OriginIP),
		OriginClient: optional(input.UserAgent),
		CreatedAt:    now,
	}
	var verified *TransitionResult
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		set, err := s.accounts.WithTx(tx).SetReferredBy(ctx, input.ReferredID, referrer.ID)
		if err != nil {
			return err
		}
		if !set {
			if _, findErr := s.accounts.WithTx(tx).FindByID(ctx, input.ReferredID); findErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, findErr, "referred account not found")
			}
			return pkgerrors.New(pkgerrors.CodeConflict, "account was already referred").WithReason(ReasonAlreadyReferred)
		}
		if err := s.repo.WithTx(tx).Create(ctx, referral); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "referral already exists").WithReason(ReasonAlreadyReferred)
			}
			return err
		}
		if s.cfg.RequireActivity {
			return nil
		}
		verified, err = s.verifyLocked(ctx, tx, referral, enums.VerificationMethodDirect, now)
		return err
	})
	if err != nil {
		return nil, db.MapError(err, "create referral")
	}

	s.metrics.ReferralTransition("created")
	s.logg.Info(ctx, "referral created")
	if verified != nil {
		s.afterVerify(ctx, verified)
	}
	if automated && s.alerts != nil {
		referrerID := referrer.ID
		s.alerts.Raise(ctx, alerts.Event{
			Kind:      alerts.KindAutomatedClient,
			AccountID: &referrerID,
			IP:        input.OriginIP,
			Detail:    input.UserAgent,
			Subject:   signature,
		})
	}
	if s.rate != nil {
		if decision := s.rate.Record(ctx, referrer.ID); decision.Suspicious {
			referral.IsSuspicious = true
		}
	}
	return referral, nil
}

func (s *service) Verify(ctx context.Context, referralID uuid.UUID, method string) (*TransitionResult, error) {
	if referralID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referral id is required")
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = enums.VerificationMethodAdmin
	}
	now := s.now().UTC()
	ctx = s.logg.WithField(ctx, "referral_id", referralID.String())

	var result *TransitionResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		referral, err := s.repo.WithTx(tx).LockByID(ctx, referralID)
		if err != nil {
			return notFoundOr(err, "referral not found")
		}
		switch {
		case referral.Status == enums.ReferralStatusVerified || referral.IsVerified:
			result = &TransitionResult{Referral: referral}
			return nil
		case referral.Status == enums.ReferralStatusRejected:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "referral was already rejected").
				WithDetails(map[string]any{"status": referral.Status})
		}
		result, err = s.verifyLocked(ctx, tx, referral, method, now)
		return err
	})
	if err != nil {
		return nil, s.transitionFailed(ctx, "verify", err)
	}
	if result.Changed {
		s.afterVerify(ctx, result)
	}
	return result, nil
}

func (s *service) VerifyByActivity(ctx context.Context, referredID uuid.UUID) (*TransitionResult, error) {
	if referredID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	referral, err := s.repo.FindPendingByReferred(ctx, referredID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, db.MapError(err, "lookup pending referral")
	}
	return s.Verify(ctx, referral.ID, enums.VerificationMethodActivity)
}

// verifyLocked runs inside tx with the referral row locked. Every ledger call
// goes through the same transaction, so a failed credit aborts the whole
// verification.
func (s *service) verifyLocked(ctx context.Context, tx *gorm.DB, referral *models.Referral, method string, now time.Time) (*TransitionResult, error) {
	accountsRepo := s.accounts.WithTx(tx)
	ledgerTx := s.ledger.WithTx(tx)

	referrer, err := accountsRepo.LockByID(ctx, referral.ReferrerID)
	if err != nil {
		return nil, notFoundOr(err, "referrer not found")
	}

	result := &TransitionResult{Referral: referral, Changed: true}
	referral.Status = enums.ReferralStatusVerified
	referral.IsVerified = true
	referral.VerifiedAt = &now
	referral.VerificationMethod = &method

	if !referral.RewardPaid {
		outcome := s.policy.EvaluateReferralReward(referrer, s.cfg.RewardPerReferral, now)
		if amount, ok := outcome.Granted(); ok {
			referralID := referral.ID
			entry, err := ledgerTx.Credit(ctx, ledger.Mutation{
				AccountID: referrer.ID,
				Amount:    amount,
				Kind:      enums.TransactionKindReferralReward,
				RelatedID: &referralID,
				Reason:    "referral reward",
			})
			if err != nil {
				return nil, err
			}
			result.RewardEntry = entry
			referral.RewardPaid = true
			referral.RewardAmount = amount
			referral.RewardBlockReason = nil
			referrer.TotalReferrals++
			rewards.Record(referrer, amount)

			if milestone, ok := s.policy.EvaluateMilestoneBonus(referrer, now); ok {
				if bonus, granted := milestone.Outcome.Granted(); granted {
					entry, err := ledgerTx.Credit(ctx, ledger.Mutation{
						AccountID: referrer.ID,
						Amount:    bonus,
						Kind:      enums.TransactionKindMilestoneReward,
						RelatedID: &referralID,
						Reason:    fmt.Sprintf("milestone: %d verified referrals", milestone.Threshold),
					})
					if err != nil {
						return nil, err
					}
					result.MilestoneEntry = entry
					rewards.Record(referrer, bonus)
				} else {
					reason, _ := milestone.Outcome.Blocked()
					s.logg.Warn(s.logg.WithField(ctx, "block_reason", string(reason)), "milestone bonus blocked by cap")
				}
			}
		} else {
			reason, _ := outcome.Blocked()
			blockReason := string(reason)
			referral.RewardBlockReason = &blockReason
			result.BlockReason = reason
		}
	}

	if err := accountsRepo.SaveReferralCounters(ctx, referrer); err != nil {
		return nil, err
	}
	if err := s.repo.WithTx(tx).SaveTransition(ctx, referral); err != nil {
		return nil, err
	}

	// the referred account is only welcomed on a paid referral, so a capped
	// referrer cannot keep minting funded accounts.
	if result.RewardEntry == nil {
		return result, nil
	}
	welcome, err := s.grantWelcome(ctx, ledgerTx, referral)
	if err != nil {
		return nil, err
	}
	result.WelcomeEntry = welcome
	return result, nil
}

// grantWelcome credits the referred account, funded from the promotional pool
// when one is configured. A short pool skips the bonus rather than failing.
func (s *service) grantWelcome(ctx context.Context, ledgerTx ledger.Service, referral *models.Referral) (*models.LedgerEntry, error) {
	if s.cfg.WelcomeBonus <= 0 {
		return nil, nil
	}
	referralID := referral.ID
	if s.poolID != uuid.Nil {
		funded, err := ledgerTx.AdminFundedCredit(ctx, ledger.FundedCreditInput{
			AccountID:     referral.ReferredID,
			PoolAccountID: s.poolID,
			Amount:        s.cfg.WelcomeBonus,
			Kind:          enums.TransactionKindWelcomeBonus,
			Reason:        "referral welcome bonus",
		})
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance) {
			s.logg.Warn(ctx, "promotional pool too low, welcome bonus skipped")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return funded.Entry, nil
	}
	return ledgerTx.Credit(ctx, ledger.Mutation{
		AccountID: referral.ReferredID,
		Amount:    s.cfg.WelcomeBonus,
		Kind:      enums.TransactionKindWelcomeBonus,
		RelatedID: &referralID,
		Reason:    "referral welcome bonus",
	})
}

func (s *service) afterVerify(ctx context.Context, result *TransitionResult) {
	s.metrics.ReferralTransition("verified")
	fields := map[string]any{"referral_id": result.Referral.ID.String(), "reward_paid": result.Referral.RewardPaid}
	if result.BlockReason != "" {
		fields["block_reason"] = string(result.BlockReason)
		s.logg.Warn(s.logg.WithFields(ctx, fields), "referral verified without reward")
		return
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "referral verified")
}

func (s *service) Reject(ctx context.Context, referralID uuid.UUID, reason string) (*TransitionResult, error) {
	if referralID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referral id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason is required")
	}
	now := s.now().UTC()
	ctx = s.logg.WithField(ctx, "referral_id", referralID.String())

	var result *TransitionResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		referral, err := s.repo.WithTx(tx).LockByID(ctx, referralID)
		if err != nil {
			return notFoundOr(err, "referral not found")
		}
		if referral.Status == enums.ReferralStatusRejected {
			result = &TransitionResult{Referral: referral}
			return nil
		}
		result, err = s.rejectLocked(ctx, tx, referral, reason, now)
		return err
	})
	if err != nil {
		return nil, s.transitionFailed(ctx, "reject", err)
	}
	if !result.Changed {
		return result, nil
	}

	s.metrics.ReferralTransition("rejected")
	s.logg.Info(s.logg.WithField(ctx, "reason", reason), "referral rejected")
	if result.Shortfall > 0 {
		referrerID := result.Referral.ReferrerID
		s.logg.Warn(s.logg.WithField(ctx, "shortfall", result.Shortfall), "referral reversal short of reward")
		if s.alerts != nil {
			s.alerts.Raise(ctx, alerts.Event{
				Kind:      alerts.KindReversalShortfall,
				AccountID: &referrerID,
				Amount:    result.Referral.RewardAmount,
				Shortfall: result.Shortfall,
				Detail:    s.cfg.ReversalMode,
			})
		}
	}
	return result, nil
}

// rejectLocked reverses a paid reward without ever overdrawing the referrer.
// In cap mode the available balance is taken; in skip mode nothing is debited
// unless the full reward can be recovered.
func (s *service) rejectLocked(ctx context.Context, tx *gorm.DB, referral *models.Referral, reason string, now time.Time) (*TransitionResult, error) {
	result := &TransitionResult{Referral: referral, Changed: true}
	referral.Status = enums.ReferralStatusRejected
	referral.RejectionReason = &reason
	referral.RejectedAt = &now

	if referral.RewardPaid && referral.RewardAmount > 0 {
		accountsRepo := s.accounts.WithTx(tx)
		referrer, err := accountsRepo.LockByID(ctx, referral.ReferrerID)
		if err != nil {
			return nil, notFoundOr(err, "referrer not found")
		}

		debit := referral.RewardAmount
		if referrer.Balance < debit {
			if s.cfg.ReversalMode == config.ReversalModeSkip {
				debit = 0
			} else {
				debit = referrer.Balance
			}
		}
		result.Shortfall = referral.RewardAmount - debit

		if debit > 0 {
			referralID := referral.ID
			entry, err := s.ledger.WithTx(tx).Debit(ctx, ledger.Mutation{
				AccountID: referrer.ID,
				Amount:    debit,
				Kind:      enums.TransactionKindReferralRejectionReversal,
				RelatedID: &referralID,
				Reason:    "referral rejected: " + reason,
			})
			if err != nil {
				return nil, err
			}
			result.ReversalEntry = entry
			referral.ReversedAmount = debit
			rewards.Revert(referrer, debit)
			if referrer.TotalReferrals > 0 {
				referrer.TotalReferrals--
			}
			if err := accountsRepo.SaveReferralCounters(ctx, referrer); err != nil {
				return nil, err
			}
		}
	}

	if err := s.repo.WithTx(tx).SaveTransition(ctx, referral); err != nil {
		return nil, err
	}
	return result, nil
}

// Sweep resolves pending referrals older than the verification window. Each
// referral is decided in its own transaction, so a failure only skips that row.
func (s *service) Sweep(ctx context.Context) (*SweepResult, error) {
	cutoff := s.now().UTC().Add(-s.cfg.VerificationWindow())
	rows, err := s.repo.ListPendingBefore(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return nil, db.MapError(err, "list pending referrals")
	}

	result := &SweepResult{Examined: len(rows)}
	var errs error
	for _, row := range rows {
		outcome, err := s.resolveExpired(ctx, row)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("referral %s: %w", row.ID, err))
			continue
		}
		switch {
		case !outcome.Changed:
			result.Unchanged++
		case outcome.Referral.Status == enums.ReferralStatusVerified:
			result.Verified++
		default:
			result.Rejected++
		}
	}
	return result, errs
}

func (s *service) resolveExpired(ctx context.Context, row models.Referral) (*TransitionResult, error) {
	if _, err := s.accounts.FindByID(ctx, row.ReferredID); errors.Is(err, gorm.ErrRecordNotFound) {
		return s.Reject(ctx, row.ID, enums.RejectionReasonMissingAccount)
	}
	participated, err := s.activity.HasParticipated(ctx, row.ReferredID)
	if err != nil {
		return nil, err
	}
	if participated {
		return s.Verify(ctx, row.ID, enums.VerificationMethodActivity)
	}
	return s.Reject(ctx, row.ID, enums.RejectionReasonDeadline)
}

func (s *service) Get(ctx context.Context, referralID uuid.UUID) (*models.Referral, error) {
	if referralID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referral id is required")
	}
	referral, err := s.repo.FindByID(ctx, referralID)
	if err != nil {
		return nil, notFoundOr(err, "referral not found")
	}
	return referral, nil
}

func (s *service) ListForReferrer(ctx context.Context, referrerID uuid.UUID, params ListParams) (*ListResult, error) {
	if referrerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referrer id is required")
	}
	return s.list(ctx, &referrerID, params)
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	return s.list(ctx, nil, params)
}

func (s *service) list(ctx context.Context, referrerID *uuid.UUID, params ListParams) (*ListResult, error) {
	query := listParams{ReferrerID: referrerID, Suspicious: params.Suspicious, Limit: params.Limit}
	if params.Status != "" {
		status, err := enums.ParseReferralStatus(params.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid referral status")
		}
		query.Status = &status
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, db.MapError(err, "list referrals")
	}
	result := &ListResult{Items: rows}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *service) transitionFailed(ctx context.Context, op string, err error) error {
	err = db.MapError(err, op+" referral")
	if pkgerrors.Retryable(err) {
		s.logg.Error(ctx, "referral "+op+" failed", err)
	} else {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "referral "+op+" refused")
	}
	return err
}

func notFoundOr(err error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, message)
	}
	return err
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

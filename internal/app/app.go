// Package app wires repositories, trackers and services from configuration so
// every binary builds the same graph.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/credits-backend/internal/accounts"
	"github.com/angelmondragon/credits-backend/internal/activity"
	"github.com/angelmondragon/credits-backend/internal/alerts"
	"github.com/angelmondragon/credits-backend/internal/auth"
	"github.com/angelmondragon/credits-backend/internal/ledger"
	"github.com/angelmondragon/credits-backend/internal/notifications"
	"github.com/angelmondragon/credits-backend/internal/referrals"
	"github.com/angelmondragon/credits-backend/internal/rewards"
	"github.com/angelmondragon/credits-backend/internal/tracker"
	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/db"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/credits-backend/pkg/redis"
)

// Deps are the infrastructure handles a binary has already opened.
type Deps struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *pkgredis.Client
	Registerer prometheus.Registerer
}

// Services is the wired domain graph.
type Services struct {
	Metrics        *metrics.DomainMetrics
	Alerts         *alerts.Recorder
	AccountsRepo   accounts.Repository
	Accounts       accounts.Service
	Ledger         ledger.Service
	Activity       activity.Service
	Referrals      referrals.Service
	Notifications  notifications.Service
	NotificationDB notifications.Repository
	Counters       tracker.CounterStore
	TrackerDB      tracker.Repository
	BlockList      *tracker.BlockList
	LoginGuard     *tracker.LoginGuard
	Auth           auth.Service
}

// Build constructs every service. A nil Redis handle is only accepted with the
// memory tracker backend.
func Build(ctx context.Context, deps Deps) (*Services, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	cfg := deps.Config
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}

	domainMetrics := metrics.NewDomainMetrics(deps.Registerer)

	counters, locks, err := trackerStores(cfg.Tracker, deps.Redis)
	if err != nil {
		return nil, err
	}
	logg.Info(logg.WithField(ctx, "tracker_backend", trackerBackend(cfg.Tracker)), "tracker stores ready")

	gdb := deps.DB.DB()

	notificationRepo := notifications.NewRepository(gdb)
	recorder, err := alerts.NewRecorder(notificationRepo, alerts.Policy{
		LargeAdjustmentThreshold: cfg.Ledger.LargeAdjustmentThreshold,
	}, logg, domainMetrics)
	if err != nil {
		return nil, fmt.Errorf("alerts recorder: %w", err)
	}

	notificationService, err := notifications.NewService(notificationRepo)
	if err != nil {
		return nil, fmt.Errorf("notifications service: %w", err)
	}

	accountRepo := accounts.NewRepository(gdb)
	accountService, err := accounts.NewService(accountRepo)
	if err != nil {
		return nil, fmt.Errorf("accounts service: %w", err)
	}

	ledgerService, err := ledger.NewService(ledger.Params{
		DB:       deps.DB,
		Accounts: accountRepo,
		Entries:  ledger.NewRepository(gdb),
		Config:   cfg.Ledger,
		Alerts:   recorder,
		Logger:   logg,
		Metrics:  domainMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	activityService, err := activity.NewService(activity.NewRepository(gdb))
	if err != nil {
		return nil, fmt.Errorf("activity service: %w", err)
	}

	trackerRepo := tracker.NewRepository(gdb)
	blockList := tracker.NewBlockList(trackerRepo, counters, logg)
	intake := tracker.NewReferralIntake(tracker.IntakeParams{
		Counters:             counters,
		Repo:                 trackerRepo,
		BlockList:            blockList,
		Alerts:               recorder,
		Logger:               logg,
		Metrics:              domainMetrics,
		MaxPerIP:             cfg.Referral.MaxPerIP,
		Window:               cfg.Referral.IPWindow,
		FlagPendingOnIPBlock: cfg.Referral.FlagPendingOnIPBlock,
	})
	rate := tracker.NewSuspiciousRate(tracker.SuspiciousRateParams{
		Counters:  counters,
		Repo:      trackerRepo,
		Alerts:    recorder,
		Logger:    logg,
		Metrics:   domainMetrics,
		Threshold: cfg.Referral.SuspiciousRate,
		Window:    cfg.Referral.SuspiciousWindow,
	})

	referralService, err := referrals.NewService(referrals.Params{
		DB:         deps.DB,
		Repo:       referrals.NewRepository(gdb),
		Accounts:   accountRepo,
		Ledger:     ledgerService,
		Activity:   activityService,
		Policy:     rewards.PolicyFromConfig(cfg.Referral),
		Config:     cfg.Referral,
		PoolID:     cfg.Ledger.PoolAccountID,
		Intake:     intake,
		Rate:       rate,
		Automation: tracker.NewAutomatedClient(cfg.Referral.AutomationSignatures, domainMetrics),
		Alerts:     recorder,
		Logger:     logg,
		Metrics:    domainMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("referrals service: %w", err)
	}

	guard := tracker.NewLoginGuard(tracker.LoginGuardParams{
		Counters: counters,
		Locks:    locks,
		Config:   cfg.LoginProtection,
		Alerts:   recorder,
		Logger:   logg,
		Metrics:  domainMetrics,
	})

	authService, err := auth.NewService(auth.ServiceParams{
		Accounts:       accountService,
		Ledger:         ledgerService,
		Referrals:      referralService,
		Guard:          guard,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
		ReferralConfig: cfg.Referral,
		PoolAccountID:  cfg.Ledger.PoolAccountID,
		Logger:         logg,
	})
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}

	return &Services{
		Metrics:        domainMetrics,
		Alerts:         recorder,
		AccountsRepo:   accountRepo,
		Accounts:       accountService,
		Ledger:         ledgerService,
		Activity:       activityService,
		Referrals:      referralService,
		Notifications:  notificationService,
		NotificationDB: notificationRepo,
		Counters:       counters,
		TrackerDB:      trackerRepo,
		BlockList:      blockList,
		LoginGuard:     guard,
		Auth:           authService,
	}, nil
}

func trackerBackend(cfg config.TrackerConfig) string {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		return config.TrackerBackendRedis
	}
	return backend
}

func trackerStores(cfg config.TrackerConfig, client *pkgredis.Client) (tracker.CounterStore, tracker.LockStore, error) {
	switch trackerBackend(cfg) {
	case config.TrackerBackendMemory:
		return tracker.NewMemoryStore(), tracker.NewMemoryLocks(), nil
	case config.TrackerBackendRedis:
		if client == nil {
			return nil, nil, fmt.Errorf("tracker backend %q requires redis", config.TrackerBackendRedis)
		}
		return tracker.NewRedisStore(client), tracker.NewRedisLocks(client), nil
	default:
		return nil, nil, fmt.Errorf("unknown tracker backend %q", cfg.Backend)
	}
}

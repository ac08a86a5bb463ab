package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/credits-backend/api/controllers"
	"github.com/angelmondragon/credits-backend/api/middleware"
	"github.com/angelmondragon/credits-backend/internal/app"
	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/credits-backend/pkg/redis"
)

// NewRouter assembles the HTTP surface. redisClient may be nil in single-node
// mode, in which case idempotency replay is off.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *pkgredis.Client,
	gatherer prometheus.Gatherer,
	services *app.Services,
) http.Handler {
	var (
		authService          = services.Auth
		accountService       = services.Accounts
		ledgerService        = services.Ledger
		referralService      = services.Referrals
		activityService      = services.Activity
		blockList            = services.BlockList
		notificationsService = services.Notifications
	)

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.ClientIP,
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	var (
		idemStore   middleware.IdempotencyStore
		redisPinger controllers.Pinger
	)
	if redisClient != nil {
		idemStore = redisClient
		redisPinger = redisClient
	}
	idempotent := middleware.Idempotent(idemStore, cfg.Idempotency.TTL, logg)
	moneyIdempotent := middleware.Idempotent(idemStore, cfg.Idempotency.MoneyTTL, logg)

	loginPolicy := middleware.AuthRateLimitPolicy{
		Name:   "login",
		Window: cfg.AuthRateLimit.LoginWindow,
		PerIP:  cfg.AuthRateLimit.LoginIPLimit,
	}
	registerPolicy := middleware.AuthRateLimitPolicy{
		Name:        "register",
		Window:      cfg.AuthRateLimit.RegisterWindow,
		PerIP:       cfg.AuthRateLimit.RegisterIPLimit,
		PerUsername: cfg.AuthRateLimit.RegisterUserLimit,
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": dbP,
			"redis":    redisPinger,
		}))
	})

	if gatherer == nil {
		r.Handle("/metrics", promhttp.Handler())
	} else {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, services.Counters, logg)).Post("/login", controllers.AuthLogin(authService, logg))
		r.With(middleware.AuthRateLimit(registerPolicy, services.Counters, logg), idempotent).Post("/register", controllers.AuthRegister(authService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/accounts/me", controllers.MyAccount(accountService, logg))
		r.Route("/ledger", func(r chi.Router) {
			r.Get("/entries", controllers.MyLedgerEntries(ledgerService, logg))
			r.With(moneyIdempotent).Post("/transfers", controllers.Transfer(ledgerService, logg))
		})
		r.Route("/referrals", func(r chi.Router) {
			r.Get("/", controllers.MyReferrals(referralService, logg))
			r.Get("/{referralId}", controllers.GetReferral(referralService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.AccountRoleAdmin))

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/entries", controllers.AdminLedgerEntries(ledgerService, logg))
			r.Group(func(r chi.Router) {
				r.Use(moneyIdempotent)
				r.Post("/credits", controllers.AdminCredit(ledgerService, logg))
				r.Post("/debits", controllers.AdminDebit(ledgerService, logg))
				r.Post("/adjustments", controllers.AdminAdjust(ledgerService, logg))
				r.Post("/promotions", controllers.AdminPromotion(ledgerService, logg))
				r.Post("/purchases", controllers.AdminPurchase(ledgerService, logg))
			})
		})
		r.Get("/accounts/{accountId}/reconcile", controllers.AdminReconcileAccount(ledgerService, logg))

		r.Route("/referrals", func(r chi.Router) {
			r.Get("/", controllers.AdminListReferrals(referralService, logg))
			r.Post("/sweep", controllers.AdminSweepReferrals(referralService, logg))
			r.Post("/{referralId}/verify", controllers.AdminVerifyReferral(referralService, logg))
			r.With(moneyIdempotent).Post("/{referralId}/reject", controllers.AdminRejectReferral(referralService, logg))
		})
		r.With(idempotent).Post("/activity/{accountId}", controllers.RecordActivity(activityService, referralService, logg))

		r.Route("/ips", func(r chi.Router) {
			r.Get("/blocked", controllers.ListBlockedIPs(blockList, logg))
			r.Post("/{ip}/block", controllers.BlockIP(blockList, logg))
			r.Delete("/{ip}/block", controllers.UnblockIP(blockList, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(notificationsService, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(notificationsService, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(notificationsService, logg))
		})
	})

	return r
}

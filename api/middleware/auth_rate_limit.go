package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/credits-backend/api/responses"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
)

// maxAuthBody caps how much of an auth request is buffered to find the username.
const maxAuthBody = 64 << 10

// RateCounter is a sliding-window hit counter; the tracker stores satisfy it.
type RateCounter interface {
	Hit(ctx context.Context, scope, subject string, window time.Duration, now time.Time) (int64, error)
}

// AuthRateLimitPolicy caps requests to one auth route per client IP and per
// username inside Window. A zero limit disables that dimension.
type AuthRateLimitPolicy struct {
	Name        string
	Window      time.Duration
	PerIP       int
	PerUsername int
}

func (p AuthRateLimitPolicy) enabled() bool {
	return p.Window > 0 && (p.PerIP > 0 || p.PerUsername > 0)
}

func (p AuthRateLimitPolicy) scope(dimension string) string {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		name = "auth"
	}
	return "auth_" + name + "_" + dimension
}

// AuthRateLimit is the coarse limiter in front of login and register. It runs
// before the per-account lockouts of the login guard and never reads passwords.
func AuthRateLimit(policy AuthRateLimitPolicy, counter RateCounter, logg *logger.Logger) func(http.Handler) http.Handler {
	return authRateLimit(policy, counter, logg, time.Now)
}

func authRateLimit(policy AuthRateLimitPolicy, counter RateCounter, logg *logger.Logger, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || counter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			at := now()

			if ip := clientIP(r); policy.PerIP > 0 && ip != "" {
				if !checkLimit(ctx, w, logg, counter, policy, "ip", ip, policy.PerIP, at) {
					return
				}
			}

			if policy.PerUsername > 0 {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxAuthBody))
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))

				if username := usernameFromBody(body); username != "" {
					sum := sha256.Sum256([]byte(username))
					if !checkLimit(ctx, w, logg, counter, policy, "user", hex.EncodeToString(sum[:]), policy.PerUsername, at) {
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkLimit records one hit and writes a 429 when the limit is exceeded.
func checkLimit(ctx context.Context, w http.ResponseWriter, logg *logger.Logger, counter RateCounter, policy AuthRateLimitPolicy, dimension, subject string, limit int, at time.Time) bool {
	scope := policy.scope(dimension)
	count, err := counter.Hit(ctx, scope, subject, policy.Window, at)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
		return false
	}
	if count <= int64(limit) {
		return true
	}
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"scope":    scope,
			"subject":  subject,
			"attempts": count,
			"limit":    limit,
		}), "auth.rate_limit.blocked")
	}
	responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded").WithDetails(map[string]any{
		"reason":              "auth_rate_limited",
		"scope":               scope,
		"retry_after_seconds": int64(math.Ceil(policy.Window.Seconds())),
	}))
	return false
}

func usernameFromBody(payload []byte) string {
	var body struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(body.Username))
}

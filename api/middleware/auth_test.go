package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/credits-backend/pkg/auth"
	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/enums"
)

func testJWT() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "credits-test", ExpirationMinutes: 60}
}

func TestAuthRejectsUnusableCredentials(t *testing.T) {
	cfg := testJWT()
	expired, err := auth.MintAccessToken(cfg, time.Now().Add(-3*time.Hour), auth.Principal{AccountID: uuid.New(), Role: enums.AccountRoleUser})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	valid := mintTestToken(t, cfg, uuid.New(), enums.AccountRoleUser)

	cases := []struct {
		name    string
		header  string
		message string
	}{
		{"missing", "", "missing credentials"},
		{"scheme only", "Bearer ", "missing credentials"},
		{"basic scheme", "Basic " + valid, "missing credentials"},
		{"garbage", "Bearer invalid", "invalid token"},
		{"expired", "bearer " + expired, "token expired"},
	}
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 got %d", resp.Code)
			}
			if !strings.Contains(resp.Body.String(), tc.message) {
				t.Fatalf("expected %q in %s", tc.message, resp.Body.String())
			}
		})
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	cfg := testJWT()
	accountID := uuid.New()
	token := mintTestToken(t, cfg, accountID, enums.AccountRoleUser)

	var captured struct {
		account  uuid.UUID
		role     enums.AccountRole
		username string
	}
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.account, _ = AccountIDFromContext(r.Context())
		captured.role = RoleFromContext(r.Context())
		captured.username = UsernameFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.account != accountID {
		t.Fatalf("expected account %s got %s", accountID, captured.account)
	}
	if captured.role != enums.AccountRoleUser {
		t.Fatalf("expected role user got %s", captured.role)
	}
	if captured.username != "alice" {
		t.Fatalf("expected username alice got %q", captured.username)
	}
}

func TestRequireRoleBlocksNonAdmins(t *testing.T) {
	cfg := testJWT()
	guarded := Auth(cfg, nil)(RequireRole(nil, enums.AccountRoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	cases := []struct {
		role enums.AccountRole
		want int
	}{
		{enums.AccountRoleUser, http.StatusForbidden},
		{enums.AccountRoleAdmin, http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/referrals/sweep", nil)
		req.Header.Set("Authorization", "Bearer "+mintTestToken(t, cfg, uuid.New(), tc.role))
		resp := httptest.NewRecorder()
		guarded.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("role %s: expected %d got %d", tc.role, tc.want, resp.Code)
		}
	}
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, accountID uuid.UUID, role enums.AccountRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg, time.Now(), auth.Principal{
		AccountID: accountID,
		Username:  "alice",
		Role:      role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

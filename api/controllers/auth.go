package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/credits-backend/api/middleware"
	"github.com/angelmondragon/credits-backend/api/responses"
	"github.com/angelmondragon/credits-backend/api/validators"
	"github.com/angelmondragon/credits-backend/internal/auth"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
)

type registerResponse struct {
	Account           *AccountView  `json:"account"`
	SignupBonus       *EntryView    `json:"signup_bonus,omitempty"`
	Referral          *ReferralView `json:"referral,omitempty"`
	ReferralRejection string        `json:"referral_rejection,omitempty"`
}

type loginResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Account     *AccountView `json:"account"`
}

// AuthRegister creates an account. A referral code that cannot be honoured is
// reported in referral_rejection; the account is still created.
func AuthRegister(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var body auth.RegisterRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body.OriginIP = middleware.ClientIPFromContext(r.Context())
		body.UserAgent = validators.SanitizeString(r.UserAgent(), 512)

		result, err := svc.Register(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, registerResponse{
			Account:           accountView(result.Account),
			SignupBonus:       entryView(result.SignupBonus),
			Referral:          referralView(result.Referral),
			ReferralRejection: result.ReferralRejection,
		})
	}
}

// AuthLogin wires the login endpoint into the HTTP layer.
func AuthLogin(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var body auth.LoginRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body.IP = middleware.ClientIPFromContext(r.Context())

		result, err := svc.Login(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, loginResponse{
			AccessToken: result.AccessToken,
			ExpiresAt:   result.ExpiresAt,
			Account:     accountView(result.Account),
		})
	}
}

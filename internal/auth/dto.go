package auth

import (
	"time"

	"github.com/angelmondragon/credits-backend/pkg/db/models"
)

// RegisterRequest is the self-service signup payload.
type RegisterRequest struct {
	Username     string `json:"username" validate:"required,username"`
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=8,max=128"`
	ReferralCode string `json:"referral_code,omitempty" validate:"omitempty,max=32,alphanum"`
	OriginIP     string `json:"-"`
	UserAgent    string `json:"-"`
}

// LoginRequest captures the credentials sent to the login endpoint.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	IP       string `json:"-"`
}

// RegisterResponse reports the new account and what happened to its referral
// code. A refused code never fails the registration.
type RegisterResponse struct {
	Account           *models.Account
	SignupBonus       *models.LedgerEntry
	Referral          *models.Referral
	ReferralRejection string
}

// LoginResponse contains the access token produced by a successful login.
type LoginResponse struct {
	AccessToken string
	ExpiresAt   time.Time
	Account     *models.Account
}

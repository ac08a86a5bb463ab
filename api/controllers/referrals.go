package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/credits-backend/api/middleware"
	"github.com/angelmondragon/credits-backend/api/responses"
	"github.com/angelmondragon/credits-backend/api/validators"
	"github.com/angelmondragon/credits-backend/internal/referrals"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/pagination"
)

type activityRecorder interface {
	Record(ctx context.Context, accountID uuid.UUID, activity string) (*models.Participation, error)
}

type referralsResponse struct {
	Items  []*ReferralView `json:"items"`
	Cursor string          `json:"cursor,omitempty"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=256"`
}

type verifyRequest struct {
	Method string `json:"method,omitempty" validate:"max=64"`
}

type activityRequest struct {
	Activity string `json:"activity" validate:"required,max=64"`
}

type activityResponse struct {
	ParticipationID uuid.UUID       `json:"participation_id"`
	Verification    *TransitionView `json:"verification,omitempty"`
}

type sweepResponse struct {
	Examined  int `json:"examined"`
	Verified  int `json:"verified"`
	Rejected  int `json:"rejected"`
	Unchanged int `json:"unchanged"`
}

// MyReferrals lists referrals where the caller is the referrer.
func MyReferrals(svc referrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		params, err := referralListParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListForReferrer(r.Context(), accountID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, referralsResponse{Items: referralViews(result.Items), Cursor: result.Cursor})
	}
}

// GetReferral is visible to either party of the referral and to admins.
func GetReferral(svc referrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		referralID, err := validators.ParseUUIDParam(r, "referralId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		referral, err := svc.Get(r.Context(), referralID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		party := referral.ReferrerID == accountID || referral.ReferredID == accountID
		if !party && !middleware.RoleFromContext(r.Context()).IsAdmin() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "referral not found"))
			return
		}
		responses.WriteSuccess(w, referralView(referral))
	}
}

func AdminListReferrals(svc referrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := referralListParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		suspicious, err := validators.ParseQueryBool(r, "suspicious")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.Suspicious = suspicious

		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, referralsResponse{Items: referralViews(result.Items), Cursor: result.Cursor})
	}
}

func referralListParams(r *http.Request) (referrals.ListParams, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return referrals.ListParams{}, err
	}
	return referrals.ListParams{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
	}, nil
}

// AdminVerifyReferral forces verification; an empty body uses the admin method.
func AdminVerifyReferral(svc referrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		referralID, err := validators.ParseUUIDParam(r, "referralId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body verifyRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		method := strings.TrimSpace(body.Method)
		if method == "" {
			method = enums.VerificationMethodAdmin
		}

		result, err := svc.Verify(r.Context(), referralID, method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, transitionView(result))
	}
}

func AdminRejectReferral(svc referrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		referralID, err := validators.ParseUUIDParam(r, "referralId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body rejectRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Reject(r.Context(), referralID, validators.SanitizeString(body.Reason, maxReasonLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, transitionView(result))
	}
}

// AdminSweepReferrals runs the verification deadline sweep on demand.
func AdminSweepReferrals(svc referrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.Sweep(r.Context())
		if result == nil && err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err != nil && logg != nil {
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "referral.sweep.partial")
		}
		responses.WriteSuccess(w, sweepResponse{
			Examined:  result.Examined,
			Verified:  result.Verified,
			Rejected:  result.Rejected,
			Unchanged: result.Unchanged,
		})
	}
}

// RecordActivity is the hook the competitions side calls when an account takes
// part in an activity. The first qualifying activity verifies a pending referral.
func RecordActivity(activity activityRecorder, svc referrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := validators.ParseUUIDParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body activityRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		participation, err := activity.Record(r.Context(), accountID, validators.SanitizeString(body.Activity, 64))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.VerifyByActivity(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, activityResponse{
			ParticipationID: participation.ID,
			Verification:    transitionView(result),
		})
	}
}

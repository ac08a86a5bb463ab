package controllers

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/credits-backend/api/responses"
	"github.com/angelmondragon/credits-backend/api/validators"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/pagination"
)

type blockList interface {
	Block(ctx context.Context, ip, reason string) error
	Unblock(ctx context.Context, ip string) error
	ListBlocked(ctx context.Context, limit int) ([]models.ReferralIPLog, error)
}

type blockRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

func ListBlockedIPs(svc blockList, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListBlocked(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"items": blockedIPViews(rows)})
	}
}

func BlockIP(svc blockList, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, err := ipParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body blockRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		if err := svc.Block(r.Context(), ip, validators.SanitizeString(body.Reason, maxReasonLength)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"ip": ip, "blocked": true})
	}
}

func UnblockIP(svc blockList, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, err := ipParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Unblock(r.Context(), ip); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"ip": ip, "blocked": false})
	}
}

func ipParam(r *http.Request) (string, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "ip"))
	parsed := net.ParseIP(raw)
	if parsed == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid ip address").WithDetails(map[string]any{"field": "ip"})
	}
	return parsed.String(), nil
}

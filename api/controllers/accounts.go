package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/credits-backend/api/middleware"
	"github.com/angelmondragon/credits-backend/api/responses"
	"github.com/angelmondragon/credits-backend/api/validators"
	"github.com/angelmondragon/credits-backend/internal/ledger"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
)

type accountGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, accountID uuid.UUID) (*ledger.Reconciliation, error)
}

type reconciliationView struct {
	AccountID        uuid.UUID `json:"account_id"`
	Balance          int64     `json:"balance"`
	EntrySum         int64     `json:"entry_sum"`
	LastBalanceAfter int64     `json:"last_balance_after"`
	Difference       int64     `json:"difference"`
	Consistent       bool      `json:"consistent"`
}

func MyAccount(svc accountGetter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		account, err := svc.Get(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, accountView(account))
	}
}

// AdminReconcileAccount compares the stored balance with the entry history.
func AdminReconcileAccount(svc reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := validators.ParseUUIDParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rec, err := svc.Reconcile(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reconciliationView{
			AccountID:        rec.AccountID,
			Balance:          rec.Balance,
			EntrySum:         rec.EntrySum,
			LastBalanceAfter: rec.LastBalanceAfter,
			Difference:       rec.Difference(),
			Consistent:       rec.Consistent,
		})
	}
}

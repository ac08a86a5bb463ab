package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/credits-backend/api/middleware"
	"github.com/angelmondragon/credits-backend/api/responses"
	"github.com/angelmondragon/credits-backend/api/validators"
	"github.com/angelmondragon/credits-backend/internal/ledger"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/pagination"
)

const maxReasonLength = 256

type transferRequest struct {
	ToAccountID string `json:"to_account_id" validate:"required,uuid"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	Reason      string `json:"reason" validate:"max=256"`
}

type transferResponse struct {
	Out *EntryView `json:"out"`
	In  *EntryView `json:"in"`
}

type mutationRequest struct {
	AccountID string `json:"account_id" validate:"required,uuid"`
	Amount    int64  `json:"amount" validate:"gt=0"`
	Kind      string `json:"kind,omitempty"`
	Reason    string `json:"reason" validate:"required,max=256"`
	RelatedID string `json:"related_id,omitempty" validate:"omitempty,uuid"`
}

type adjustmentRequest struct {
	AccountID string `json:"account_id" validate:"required,uuid"`
	Amount    int64  `json:"amount" validate:"ne=0"`
	Reason    string `json:"reason" validate:"required,max=256"`
}

type promotionRequest struct {
	AccountID     string `json:"account_id" validate:"required,uuid"`
	PoolAccountID string `json:"pool_account_id,omitempty" validate:"omitempty,uuid"`
	Amount        int64  `json:"amount" validate:"gt=0"`
	Kind          string `json:"kind,omitempty"`
	Reason        string `json:"reason" validate:"required,max=256"`
}

type promotionResponse struct {
	Entry     *EntryView `json:"entry"`
	PoolEntry *EntryView `json:"pool_entry"`
}

type purchaseRequest struct {
	AccountID  string `json:"account_id" validate:"required,uuid"`
	AmountPaid string `json:"amount_paid" validate:"required"`
	Currency   string `json:"currency" validate:"required,len=3"`
	PaymentRef string `json:"payment_ref" validate:"required,max=128"`
}

type entriesResponse struct {
	Items  []*EntryView `json:"items"`
	Cursor string       `json:"cursor,omitempty"`
}

// MyLedgerEntries lists the caller's own history.
func MyLedgerEntries(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		filter, err := historyFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter.AccountID = &accountID
		writeHistory(w, r, svc, filter, logg)
	}
}

// AdminLedgerEntries lists history across accounts, optionally narrowed by account_id.
func AdminLedgerEntries(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := historyFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		accountID, err := validators.ParseQueryUUID(r, "account_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter.AccountID = accountID
		writeHistory(w, r, svc, filter, logg)
	}
}

func historyFilter(r *http.Request) (ledger.HistoryFilter, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return ledger.HistoryFilter{}, err
	}
	from, err := validators.ParseQueryTime(r, "from")
	if err != nil {
		return ledger.HistoryFilter{}, err
	}
	to, err := validators.ParseQueryTime(r, "to")
	if err != nil {
		return ledger.HistoryFilter{}, err
	}
	return ledger.HistoryFilter{
		Kind:   strings.TrimSpace(r.URL.Query().Get("kind")),
		From:   from,
		To:     to,
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}

func writeHistory(w http.ResponseWriter, r *http.Request, svc ledger.Service, filter ledger.HistoryFilter, logg *logger.Logger) {
	page, err := svc.History(r.Context(), filter)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, entriesResponse{Items: entryViews(page.Entries), Cursor: page.Cursor})
}

// Transfer moves credits from the caller to another account.
func Transfer(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var body transferRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Transfer(r.Context(), ledger.TransferInput{
			FromAccountID: accountID,
			ToAccountID:   uuid.MustParse(body.ToAccountID),
			Amount:        body.Amount,
			Reason:        validators.SanitizeString(body.Reason, maxReasonLength),
			ActorID:       &accountID,
			Origin:        origin(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, transferResponse{Out: entryView(result.Out), In: entryView(result.In)})
	}
}

// AdminCredit and AdminDebit expose the raw ledger primitives with an explicit kind.
func AdminCredit(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return adminMutation(svc.Credit, enums.TransactionKindCompetitionReward, logg)
}

func AdminDebit(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return adminMutation(svc.Debit, enums.TransactionKindRewardRedemption, logg)
}

type mutateFunc func(ctx context.Context, m ledger.Mutation) (*models.LedgerEntry, error)

func adminMutation(apply mutateFunc, defaultKind enums.TransactionKind, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var body mutationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		kind, err := parseKind(body.Kind, defaultKind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		m := ledger.Mutation{
			AccountID: uuid.MustParse(body.AccountID),
			Amount:    body.Amount,
			Kind:      kind,
			Reason:    validators.SanitizeString(body.Reason, maxReasonLength),
			ActorID:   &admin,
			Origin:    origin(r),
		}
		if body.RelatedID != "" {
			related := uuid.MustParse(body.RelatedID)
			m.RelatedID = &related
		}

		entry, err := apply(r.Context(), m)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entryView(entry))
	}
}

// AdminAdjust applies a signed correction; large values raise an operator alert.
func AdminAdjust(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var body adjustmentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := svc.AdminAdjust(r.Context(), ledger.AdjustInput{
			AccountID: uuid.MustParse(body.AccountID),
			Amount:    body.Amount,
			Reason:    validators.SanitizeString(body.Reason, maxReasonLength),
			AdminID:   admin,
			Origin:    origin(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entryView(entry))
	}
}

// AdminPromotion credits an account out of a pool account (the configured
// promotional pool unless pool_account_id is given).
func AdminPromotion(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var body promotionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		kind, err := parseKind(body.Kind, enums.TransactionKindCompetitionReward)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := ledger.FundedCreditInput{
			AccountID: uuid.MustParse(body.AccountID),
			Amount:    body.Amount,
			Kind:      kind,
			Reason:    validators.SanitizeString(body.Reason, maxReasonLength),
			ActorID:   &admin,
		}
		if body.PoolAccountID != "" {
			input.PoolAccountID = uuid.MustParse(body.PoolAccountID)
		}

		result, err := svc.AdminFundedCredit(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, promotionResponse{
			Entry:     entryView(result.Entry),
			PoolEntry: entryView(result.PoolEntry),
		})
	}
}

// AdminPurchase records a payment the provider has already confirmed.
func AdminPurchase(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var body purchaseRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paid, err := decimal.NewFromString(strings.TrimSpace(body.AmountPaid))
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeValidation, err, "amount_paid must be a decimal").WithDetails(map[string]any{"field": "amount_paid"}))
			return
		}

		entry, err := svc.CreditPurchase(r.Context(), ledger.PurchaseInput{
			AccountID:  uuid.MustParse(body.AccountID),
			AmountPaid: paid,
			Currency:   body.Currency,
			PaymentRef: body.PaymentRef,
			ActorID:    &admin,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entryView(entry))
	}
}

func parseKind(raw string, fallback enums.TransactionKind) (enums.TransactionKind, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	kind, err := enums.ParseTransactionKind(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown transaction kind").WithDetails(map[string]any{"field": "kind"})
	}
	return kind, nil
}

func origin(r *http.Request) ledger.Origin {
	return ledger.Origin{
		IP:     middleware.ClientIPFromContext(r.Context()),
		Client: validators.SanitizeString(r.UserAgent(), 512),
	}
}

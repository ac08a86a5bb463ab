// Package responses renders the JSON envelopes every handler returns:
// {"data": ...} on success and {"error": {code, message, details}} on failure.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
)

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// encodeFailure is written verbatim when a payload cannot be marshalled.
var encodeFailure = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}` + "\n")

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

// WriteError maps err onto its code's status. Client errors expose the typed
// message; server errors only ever expose the code's public message.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	apiErr := APIError{Code: string(typed.Code()), Message: meta.PublicMessage}
	if clientFault(meta) && typed.Message() != "" {
		apiErr.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		apiErr.Details = typed.Details()
	}

	if logg != nil {
		logError(ctx, logg, err, meta)
	}
	if retry, ok := retryAfter(typed.Details()); ok {
		w.Header().Set("Retry-After", retry)
	}
	writeJSON(w, meta.HTTPStatus, ErrorEnvelope{Error: apiErr})
}

func clientFault(meta pkgerrors.Metadata) bool {
	return meta.HTTPStatus < http.StatusInternalServerError && !meta.Retryable
}

// logError reports server faults at error level and client faults at warn.
func logError(ctx context.Context, logg *logger.Logger, err error, meta pkgerrors.Metadata) {
	dump := pkgerrors.Dump(err)
	fields := map[string]any{
		"error":       dump.TopMessage,
		"error_code":  dump.Code,
		"error_chain": dump.Chain,
		"status":      meta.HTTPStatus,
	}
	if reason := pkgerrors.Reason(err); reason != "" {
		fields["reason"] = reason
	}
	if dump.Driver != "" {
		fields["db_driver"] = dump.Driver
		fields["db_message"] = dump.DBMessage
		fields["db_sql_state"] = dump.SQLState
		fields["db_constraint"] = dump.Constraint
		fields["db_table"] = dump.Table
		fields["db_column"] = dump.Column
		fields["db_detail"] = dump.Detail
		fields["db_sqlite_code"] = dump.SQLiteCode
		fields["db_sqlite_extended"] = dump.SQLiteExtended
	}

	ctx = logg.WithFields(ctx, fields)
	if clientFault(meta) {
		logg.Warn(ctx, "request.rejected")
		return
	}
	logg.Error(ctx, "request.error", err)
}

func retryAfter(details any) (string, bool) {
	dm, ok := details.(map[string]any)
	if !ok {
		return "", false
	}
	var seconds int64
	switch v := dm["retry_after_seconds"].(type) {
	case int64:
		seconds = v
	case int:
		seconds = int64(v)
	default:
		return "", false
	}
	if seconds <= 0 {
		return "", false
	}
	return strconv.FormatInt(seconds, 10), true
}

// writeJSON marshals before touching the response so an encoding failure can
// still produce a well-formed 500.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(encodeFailure)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

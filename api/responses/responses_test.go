package responses

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var body ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"hello": "world"})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"hello":"world"}}`, w.Body.String())
}

func TestWriteSuccessEncodingFailure(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]any{"bad": func() {}})

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(pkgerrors.CodeInternal), decodeError(t, w).Code)
}

func TestWriteErrorClientFaultsExposeMessageAndDetails(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "bad input").WithDetails(map[string]string{"field": "amount"})
	WriteError(t.Context(), nil, w, fmt.Errorf("handler: %w", err))

	require.Equal(t, http.StatusBadRequest, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, string(pkgerrors.CodeValidation), apiErr.Code)
	assert.Equal(t, "bad input", apiErr.Message)
	assert.Equal(t, map[string]any{"field": "amount"}, apiErr.Details)
}

func TestWriteErrorServerFaultsHideInternals(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(t.Context(), nil, w, pkgerrors.Wrap(pkgerrors.CodePersistence, errors.New("pq: relation missing"), "append ledger entry"))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, "storage unavailable", apiErr.Message)
	assert.Nil(t, apiErr.Details)

	w = httptest.NewRecorder()
	WriteError(t.Context(), nil, w, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(pkgerrors.CodeInternal), decodeError(t, w).Code)
}

func TestWriteErrorSetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeRateLimit, "too many login attempts").
		WithReason("login_locked").
		WithDetail("retry_after_seconds", int64(120))
	WriteError(t.Context(), nil, w, err)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "120", w.Header().Get("Retry-After"))
	assert.Equal(t, "too many login attempts", decodeError(t, w).Message)
}

func TestWriteErrorLogLevelFollowsFault(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})

	WriteError(t.Context(), logg, httptest.NewRecorder(), pkgerrors.New(pkgerrors.CodeNotFound, "no such account").WithReason("missing"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "missing", entry["reason"])

	buf.Reset()
	WriteError(t.Context(), logg, httptest.NewRecorder(), errors.New("boom"))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.EqualValues(t, http.StatusInternalServerError, entry["status"])
}

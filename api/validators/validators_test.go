package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
)

type transferBody struct {
	ToAccountID string `json:"to_account_id" validate:"required,uuid"`
	Amount      int64  `json:"amount" validate:"gt=0"`
}

func TestDecodeJSONBodyValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"to_account_id":"nope","amount":0}`))
	var body transferBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be a valid uuid", details["to_account_id"])
	assert.Equal(t, "must be greater than 0", details["amount"])
}

func TestDecodeJSONBodyDescribesMalformedInput(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		message string
		field   string
	}{
		{"empty", ``, "request body is empty", ""},
		{"unknown field", `{"amount":5,"bonus":true}`, "invalid request body", "bonus"},
		{"wrong type", `{"amount":"five"}`, "invalid request body", "amount"},
		{"trailing object", `{"amount":5}{"amount":6}`, "request body must contain a single JSON object", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body transferBody
			err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body)), &body)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
			assert.Equal(t, tc.message, typed.Message())
			if tc.field != "" {
				details, ok := typed.Details().(map[string]string)
				require.True(t, ok)
				assert.Contains(t, details, tc.field)
			}
		})
	}
}

type signupBody struct {
	Username string `json:"username" validate:"required,username"`
}

func TestUsernameRule(t *testing.T) {
	for name, ok := range map[string]bool{
		"alice":       true,
		"bob.smith-2": true,
		"ab":          false,
		"-alice":      false,
		"alice bob":   false,
		"élodie":      false,
	} {
		err := validate.Struct(signupBody{Username: name})
		assert.Equal(t, ok, err == nil, name)
	}
}

func TestParseQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&unread=true&from=2026-01-02T03:04:05Z&account_id=bad", nil)

	limit, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 10, limit)

	unread, err := ParseQueryBool(req, "unread")
	require.NoError(t, err)
	require.NotNil(t, unread)
	assert.True(t, *unread)

	from, err := ParseQueryTime(req, "from")
	require.NoError(t, err)
	require.NotNil(t, from)
	assert.Equal(t, 2026, from.Year())

	missing, err := ParseQueryBool(req, "suspicious")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = ParseQueryUUID(req, "account_id")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rc := chi.NewRouteContext()
	rc.URLParams.Add("referralId", id.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := ParseUUIDParam(req, "referralId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseUUIDParam(req, "accountId")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString("  abcdef ", 3))
	assert.Equal(t, "abc", SanitizeString("abc", 0))
	assert.Equal(t, "weekly quiz", SanitizeString(" weekly\t\n  quiz\x00 ", 0))
	assert.Equal(t, "a", SanitizeString("aé", 2))
	assert.Equal(t, "ab", SanitizeString("ab cd", 3))
}

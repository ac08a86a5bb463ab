package validators

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
)

// optionalQuery parses key with parse, returning nil when the key is absent
// and a field-tagged validation error carrying msg when parse fails.
func optionalQuery[T any](r *http.Request, key, msg string, parse func(string) (T, error)) (*T, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := parse(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, msg).WithDetail("field", key)
	}
	return &value, nil
}

// ParseQueryInt returns defaultVal when key is absent and rejects values
// outside [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	value, err := optionalQuery(r, key, "query parameter must be numeric", strconv.Atoi)
	switch {
	case err != nil:
		return 0, err
	case value == nil:
		return defaultVal, nil
	case *value < min || *value > max:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").
			WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return *value, nil
}

func ParseQueryBool(r *http.Request, key string) (*bool, error) {
	return optionalQuery(r, key, "query parameter must be a boolean", strconv.ParseBool)
}

// ParseQueryTime accepts RFC3339 and normalizes to UTC.
func ParseQueryTime(r *http.Request, key string) (*time.Time, error) {
	return optionalQuery(r, key, "query parameter must be an RFC3339 timestamp", func(raw string) (time.Time, error) {
		t, err := time.Parse(time.RFC3339, raw)
		return t.UTC(), err
	})
}

func ParseQueryUUID(r *http.Request, key string) (*uuid.UUID, error) {
	return optionalQuery(r, key, "query parameter must be a uuid", uuid.Parse)
}

// ParseUUIDParam reads a chi URL parameter; the nil uuid is rejected.
func ParseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, key)))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid path parameter").WithDetail("field", key)
	}
	return id, nil
}

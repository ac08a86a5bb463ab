// Package pagination implements opaque keyset cursors. Time-ordered tables
// page on (created_at, id); serial tables such as the ledger page on id.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

const (
	keysetSep      = "|"
	sequencePrefix = "seq:"
)

var errMalformed = errors.New("malformed cursor")

// Cursor points at the last row of a page ordered by created_at DESC, id DESC.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// NormalizeLimit clamps limit into [1, MaxLimit], defaulting non-positive values.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Trim cuts a result fetched with limit+1 rows back to limit and returns the
// cursor for the following page, or nil when rows was the last page.
func Trim[T any](rows []T, limit int, key func(T) Cursor) ([]T, *Cursor) {
	if limit <= 0 || len(rows) <= limit {
		return rows, nil
	}
	next := key(rows[limit-1])
	return rows[:limit], &next
}

func EncodeCursor(cursor Cursor) string {
	return encode(cursor.CreatedAt.UTC().Format(time.RFC3339Nano) + keysetSep + cursor.ID.String())
}

// ParseCursor returns nil for an empty value.
func ParseCursor(value string) (*Cursor, error) {
	raw, err := decode(value)
	if err != nil || raw == "" {
		return nil, err
	}
	ts, id, ok := strings.Cut(raw, keysetSep)
	if !ok {
		return nil, errMalformed
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("cursor timestamp: %w", err)
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("cursor id: %w", err)
	}
	return &Cursor{CreatedAt: createdAt, ID: parsedID}, nil
}

func EncodeSequenceCursor(id int64) string {
	return encode(sequencePrefix + strconv.FormatInt(id, 10))
}

// ParseSequenceCursor returns 0 for an empty value.
func ParseSequenceCursor(value string) (int64, error) {
	raw, err := decode(value)
	if err != nil || raw == "" {
		return 0, err
	}
	digits, ok := strings.CutPrefix(raw, sequencePrefix)
	if !ok {
		return 0, errMalformed
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id <= 0 {
		return 0, errMalformed
	}
	return id, nil
}

// Cursors travel in query strings, so the encoding is URL safe and unpadded.
func encode(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decode(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("decode cursor: %w", err)
	}
	return string(raw), nil
}

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	return entry
}

func TestErrorCarriesContextFieldsAndStack(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Level: ParseLevel("debug"), Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithFields(ctx, map[string]any{"account_id": "acct-1", "amount": 40})

	log.Error(ctx, "transfer failed", errors.New("boom"))

	entry := decode(t, buf)
	assert.Equal(t, "api", entry["service"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "acct-1", entry["account_id"])
	assert.EqualValues(t, 40, entry["amount"])
	assert.Equal(t, "boom", entry["error"])
	assert.NotEmpty(t, entry["stack"])
}

func TestDerivedContextDoesNotLeakIntoParent(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf})

	parent := log.WithField(context.Background(), "job", "sweep")
	_ = log.WithField(parent, "referral_id", "r-1")
	log.Info(parent, "tick")

	entry := decode(t, buf)
	assert.Equal(t, "sweep", entry["job"])
	assert.NotContains(t, entry, "referral_id")
}

func TestWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{Output: buf}).Warn(context.Background(), "plain")
	assert.NotContains(t, decode(t, buf), "stack")

	buf.Reset()
	New(Options{Output: buf, WarnStack: true}).Warn(context.Background(), "with stack")
	assert.Contains(t, decode(t, buf), "stack")
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Level: zerolog.WarnLevel, Output: buf})
	log.Info(context.Background(), "quiet")
	log.Debug(context.Background(), "quieter")
	assert.Zero(t, buf.Len())

	Nop().Error(context.Background(), "dropped", errors.New("x"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
}

func TestConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "test", Format: " Console ", Output: buf}).Info(context.Background(), "hello")
	assert.False(t, bytes.HasPrefix(bytes.TrimSpace(buf.Bytes()), []byte("{")), buf.String())
	assert.Contains(t, buf.String(), "hello")
}

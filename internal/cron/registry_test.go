package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestRegistryKeepsOrderAndSkipsNil(t *testing.T) {
	first := JobFunc("first", nil)
	second := JobFunc("second", nil)

	registry := NewRegistry(first, nil)
	registry.Register(nil)
	registry.Register(second)

	assert.Equal(t, []string{"first", "second"}, registry.Names())
	require.NoError(t, registry.Validate())

	snapshot := registry.Jobs()
	require.Len(t, snapshot, 2)
	snapshot[0] = nil
	assert.NotNil(t, registry.Jobs()[0])
}

func TestRegistryValidateReportsEveryProblem(t *testing.T) {
	registry := NewRegistry(JobFunc("sweep", nil), JobFunc("sweep", nil), JobFunc("  ", nil))

	err := registry.Validate()
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), `"sweep" at position 1 duplicates position 0`)
	assert.Contains(t, errs[1].Error(), "position 2 has a blank name")
}

func TestJobFuncDelegates(t *testing.T) {
	boom := errors.New("boom")
	job := JobFunc("fails", func(context.Context) error { return boom })

	assert.Equal(t, "fails", job.Name())
	assert.ErrorIs(t, job.Run(context.Background()), boom)
	assert.NoError(t, JobFunc("noop", nil).Run(context.Background()))
}

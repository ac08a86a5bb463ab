package cron

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Job is one unit of work executed on every cron cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a plain function into a Job.
func JobFunc(name string, run func(ctx context.Context) error) Job {
	return funcJob{name: name, run: run}
}

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j funcJob) Name() string { return j.name }

func (j funcJob) Run(ctx context.Context) error {
	if j.run == nil {
		return nil
	}
	return j.run(ctx)
}

// Registry holds jobs in execution order.
type Registry struct {
	ordered []Job
}

func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{ordered: make([]Job, 0, len(jobs))}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

// Register appends job; nil jobs are ignored.
func (r *Registry) Register(job Job) {
	if job != nil {
		r.ordered = append(r.ordered, job)
	}
}

// Jobs returns a snapshot of the registered jobs.
func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.ordered...)
}

// Names lists job names in execution order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.ordered))
	for i, job := range r.ordered {
		names[i] = job.Name()
	}
	return names
}

// Validate rejects blank and duplicated names, reporting all of them at once.
func (r *Registry) Validate() error {
	var errs error
	positions := make(map[string]int, len(r.ordered))
	for i, name := range r.Names() {
		if strings.TrimSpace(name) == "" {
			errs = multierr.Append(errs, fmt.Errorf("job at position %d has a blank name", i))
			continue
		}
		if first, dup := positions[name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("job %q at position %d duplicates position %d", name, i, first))
			continue
		}
		positions[name] = i
	}
	return errs
}

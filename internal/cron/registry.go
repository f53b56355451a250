package cron

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Job is one unit of scheduled ledger maintenance.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry keeps jobs in registration order. Names label metrics and logs, so
// they must be unique and non-empty.
type Registry struct {
	jobs []Job
}

func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends job; nil is ignored.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	name := job.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("cron job %T has no name", job)
	}
	if r.has(name) {
		return fmt.Errorf("cron job %q registered twice", name)
	}
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *Registry) has(name string) bool {
	return slices.ContainsFunc(r.jobs, func(j Job) bool { return j.Name() == name })
}

func (r *Registry) Jobs() []Job {
	return slices.Clone(r.jobs)
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.jobs))
	for i, j := range r.jobs {
		names[i] = j.Name()
	}
	return names
}

// Only returns a registry restricted to names, keeping registration order.
// Unknown names are an error so a typo in -jobs does not silently run nothing.
func (r *Registry) Only(names ...string) (*Registry, error) {
	if len(names) == 0 {
		return &Registry{jobs: r.Jobs()}, nil
	}
	for _, name := range names {
		if !r.has(name) {
			return nil, fmt.Errorf("unknown cron job %q (have %s)", name, strings.Join(r.Names(), ", "))
		}
	}
	subset := &Registry{}
	for _, job := range r.jobs {
		if slices.Contains(names, job.Name()) {
			subset.jobs = append(subset.jobs, job)
		}
	}
	return subset, nil
}

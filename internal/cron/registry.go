package cron

import (
	"context"
	"fmt"
)

// Job is a unit of scheduled work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds jobs keyed by name, in registration order.
type Registry struct {
	jobs  []Job
	index map[string]Job
}

// NewRegistry builds a registry. Nil jobs are ignored; a duplicate name panics
// since it can only come from wiring code.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{index: map[string]Job{}}
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			panic(err)
		}
	}
	return registry
}

// Register adds a job. Names must be unique.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	if r.index == nil {
		r.index = map[string]Job{}
	}
	if _, exists := r.index[job.Name()]; exists {
		return fmt.Errorf("cron job %q already registered", job.Name())
	}
	r.index[job.Name()] = job
	r.jobs = append(r.jobs, job)
	return nil
}

// Lookup returns the job registered under name.
func (r *Registry) Lookup(name string) (Job, bool) {
	job, ok := r.index[name]
	return job, ok
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// Names lists job names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	return names
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

const (
	defaultReadyAttempts = 5
	defaultReadyBackoff  = time.Second
)

type consumer interface {
	Run(ctx context.Context) error
}

type dependency struct {
	name string
	ping func(context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Consumer     consumer
	Dependencies []dependency
	// ReadyAttempts bounds the pings per dependency before startup fails.
	ReadyAttempts int
	ReadyBackoff  time.Duration
}

// Service waits for its dependencies and then runs the ingest consumer.
type Service struct {
	logg     *logger.Logger
	consumer consumer
	deps     []dependency
	attempts int
	backoff  time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.Consumer == nil:
		return nil, errors.New("ingest consumer is required")
	}
	svc := &Service{
		logg:     params.Logger,
		consumer: params.Consumer,
		deps:     params.Dependencies,
		attempts: defaultReadyAttempts,
		backoff:  defaultReadyBackoff,
	}
	if params.ReadyAttempts > 0 {
		svc.attempts = params.ReadyAttempts
	}
	if params.ReadyBackoff > 0 {
		svc.backoff = params.ReadyBackoff
	}
	return svc, nil
}

// waitReady pings each dependency, doubling the pause between failed
// attempts, and gives up after s.attempts failures of any one dependency.
func (s *Service) waitReady(ctx context.Context) error {
	for _, dep := range s.deps {
		pause := s.backoff
		for attempt := 1; ; attempt++ {
			err := dep.ping(ctx)
			if err == nil {
				break
			}
			depCtx := s.logg.WithFields(ctx, map[string]any{"dependency": dep.name, "attempt": attempt})
			if attempt >= s.attempts {
				s.logg.Error(depCtx, "dependency not ready", err)
				return fmt.Errorf("%s not ready after %d attempts: %w", dep.name, attempt, err)
			}
			s.logg.Warn(depCtx, "dependency not ready, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
			pause *= 2
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run blocks until ctx ends or the consumer stops on its own.
func (s *Service) Run(ctx context.Context) error {
	if err := s.waitReady(ctx); err != nil {
		return err
	}
	err := s.consumer.Run(ctx)
	switch {
	case ctx.Err() != nil:
		s.logg.Info(ctx, "worker context canceled")
		return ctx.Err()
	case err != nil:
		s.logg.Error(ctx, "consumer stopped unexpectedly", err)
	}
	return err
}

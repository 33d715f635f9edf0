package adspend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/angelmondragon/marginguard-backend/internal/eventlog"
	"github.com/angelmondragon/marginguard-backend/internal/pipeline"
	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"github.com/angelmondragon/marginguard-backend/pkg/db/models"
	"github.com/angelmondragon/marginguard-backend/pkg/enums"
	"github.com/angelmondragon/marginguard-backend/pkg/gateway"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
)

// SpendFetcher reads one day of spend for a merchant's ad platform.
type SpendFetcher interface {
	FetchAdSpend(ctx context.Context, req gateway.SpendRequest) ([]json.RawMessage, error)
}

// ConnectionLister lists active connections of a kind across merchants.
type ConnectionLister interface {
	ActiveByKind(ctx context.Context, kind enums.ConnectionKind) ([]models.MerchantConnection, error)
}

// Submitter accepts events into the pipeline.
type Submitter interface {
	SubmitEvent(ctx context.Context, input eventlog.IngestInput) (pipeline.SubmitResult, error)
}

// Quota enforces the upstream daily call budget shared by every poller replica.
type Quota interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Params groups poller dependencies and limits.
type Params struct {
	Fetcher     SpendFetcher
	Connections ConnectionLister
	Submitter   Submitter
	Quota       Quota
	Logger      *logger.Logger

	RatePerSecond float64
	Burst         int
	Concurrency   int
	MaxJitter     time.Duration
	DailyQuota    int64
	// Platforms limits polling to these stream types; empty polls all.
	Platforms []string
}

// ParamsFromConfig fills the limits from env config.
func ParamsFromConfig(cfg config.AdSpendConfig) Params {
	var platforms []string
	for _, p := range strings.Split(cfg.PlatformFilter, ",") {
		if p = strings.TrimSpace(p); p != "" {
			platforms = append(platforms, p)
		}
	}
	return Params{
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Concurrency:   cfg.Concurrency,
		MaxJitter:     cfg.MaxJitter,
		DailyQuota:    cfg.DailyQuota,
		Platforms:     platforms,
	}
}

// Poller pulls daily ad spend for every connected ad platform.
type Poller struct {
	fetcher     SpendFetcher
	connections ConnectionLister
	submitter   Submitter
	quota       Quota
	logg        *logger.Logger
	limiter     *rate.Limiter
	concurrency int
	maxJitter   time.Duration
	dailyQuota  int64
	platforms   map[string]struct{}
	jitter      func(max time.Duration) time.Duration
}

// NewPoller builds a poller.
func NewPoller(p Params) (*Poller, error) {
	if p.Fetcher == nil || p.Connections == nil || p.Submitter == nil || p.Logger == nil {
		return nil, errors.New("fetcher, connections, submitter and logger are required")
	}
	if p.RatePerSecond <= 0 {
		return nil, errors.New("rate per second must be positive")
	}
	burst := p.Burst
	if burst <= 0 {
		burst = 1
	}
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	var platforms map[string]struct{}
	if len(p.Platforms) > 0 {
		platforms = make(map[string]struct{}, len(p.Platforms))
		for _, name := range p.Platforms {
			platforms[name] = struct{}{}
		}
	}
	return &Poller{
		fetcher:     p.Fetcher,
		connections: p.Connections,
		submitter:   p.Submitter,
		quota:       p.Quota,
		logg:        p.Logger,
		limiter:     rate.NewLimiter(rate.Limit(p.RatePerSecond), burst),
		concurrency: concurrency,
		maxJitter:   p.MaxJitter,
		dailyQuota:  p.DailyQuota,
		platforms:   platforms,
		jitter:      randomJitter,
	}, nil
}

// Result tallies one poll.
type Result struct {
	Connections int `json:"connections"`
	Throttled   int `json:"throttled"`
	Records     int `json:"records"`
	Accepted    int `json:"accepted"`
	Duplicates  int `json:"duplicates"`
	Failed      int `json:"failed"`
}

// Poll fetches date's spend for every active ad-platform connection. Calls
// are jittered, rate limited and bounded in parallelism; one merchant's
// failure is reported without stopping the others.
func (p *Poller) Poll(ctx context.Context, date time.Time) (Result, error) {
	conns, err := p.connections.ActiveByKind(ctx, enums.ConnectionKindAdPlatform)
	if err != nil {
		return Result{}, err
	}

	var (
		mu   sync.Mutex
		res  Result
		errs error
	)
	record := func(fn func(r *Result), err error) {
		mu.Lock()
		defer mu.Unlock()
		if fn != nil {
			fn(&res)
		}
		errs = multierr.Append(errs, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, conn := range conns {
		if p.platforms != nil {
			if _, ok := p.platforms[conn.StreamType]; !ok {
				continue
			}
		}
		record(func(r *Result) { r.Connections++ }, nil)
		g.Go(func() error {
			err := p.pollOne(gctx, conn, date, record)
			if err != nil {
				record(func(r *Result) { r.Failed++ }, fmt.Errorf("%s/%s: %w", conn.MerchantID, conn.StreamType, err))
			}
			// Context cancellation is the only error that stops the group.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}

	p.logg.Info(p.logg.WithFields(ctx, map[string]any{
		"job":         "ad-spend-poll",
		"date":        date.UTC().Format("2006-01-02"),
		"connections": res.Connections,
		"records":     res.Records,
		"accepted":    res.Accepted,
		"throttled":   res.Throttled,
		"failed":      res.Failed,
	}), "ad spend poll finished")
	return res, errs
}

func (p *Poller) pollOne(ctx context.Context, conn models.MerchantConnection, date time.Time, record func(func(*Result), error)) error {
	if wait := p.jitter(p.maxJitter); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if p.quota != nil && p.dailyQuota > 0 {
		allowed, _, err := p.quota.FixedWindowAllow(ctx, "adspend:"+conn.StreamType, p.dailyQuota, 24*time.Hour)
		if err != nil {
			p.logg.Warn(p.logg.WithMerchantID(ctx, conn.MerchantID), fmt.Sprintf("quota check unavailable: %v", err))
		} else if !allowed {
			record(func(r *Result) { r.Throttled++ }, nil)
			return nil
		}
	}

	rows, err := p.fetcher.FetchAdSpend(ctx, gateway.SpendRequest{
		MerchantID: conn.MerchantID,
		Platform:   conn.StreamType,
		Date:       date,
	})
	if err != nil {
		return err
	}

	var rowErrs error
	for _, row := range rows {
		submitted, err := p.submitter.SubmitEvent(ctx, eventlog.IngestInput{
			MerchantID: conn.MerchantID,
			StreamType: conn.StreamType,
			Origin:     enums.OriginPeriodicPoll,
			EventType:  enums.EventTypeAdSpendRecorded,
			Payload:    row,
		})
		switch {
		case err != nil:
			rowErrs = multierr.Append(rowErrs, err)
			record(func(r *Result) { r.Records++ }, nil)
		case submitted.Accepted:
			record(func(r *Result) { r.Records++; r.Accepted++ }, nil)
		default:
			record(func(r *Result) { r.Records++; r.Duplicates++ }, nil)
		}
	}
	return rowErrs
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

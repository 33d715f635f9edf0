// Package bootstrap assembles the domain services shared by every binary.
package bootstrap

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marginguard-backend/internal/adspend"
	"github.com/angelmondragon/marginguard-backend/internal/backfill"
	"github.com/angelmondragon/marginguard-backend/internal/billing"
	"github.com/angelmondragon/marginguard-backend/internal/diagnostics"
	"github.com/angelmondragon/marginguard-backend/internal/eventlog"
	"github.com/angelmondragon/marginguard-backend/internal/ledger"
	"github.com/angelmondragon/marginguard-backend/internal/merchants"
	"github.com/angelmondragon/marginguard-backend/internal/pipeline"
	"github.com/angelmondragon/marginguard-backend/internal/plans"
	"github.com/angelmondragon/marginguard-backend/internal/reporting"
	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"github.com/angelmondragon/marginguard-backend/pkg/db"
	"github.com/angelmondragon/marginguard-backend/pkg/gateway"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
	"github.com/angelmondragon/marginguard-backend/pkg/metrics"
	"github.com/angelmondragon/marginguard-backend/pkg/outbox"
	"github.com/angelmondragon/marginguard-backend/pkg/redis"
)

// Core is the service graph behind ingestion, reporting and plan assignment.
type Core struct {
	Events      *eventlog.Service
	EventRepo   eventlog.Repository
	Ledger      ledger.Repository
	Merchants   *merchants.Service
	Pipeline    *pipeline.Service
	Reporting   *reporting.Service
	Diagnostics *diagnostics.Service
	Billing     *billing.Service
	Plans       *plans.Service
	Outbox      *outbox.Service
	OutboxRepo  *outbox.Repository
}

// NewCore wires the domain services on top of an open database. reg may be
// nil, in which case pipeline counters are not exported.
func NewCore(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, reg prometheus.Registerer) (*Core, error) {
	if cfg == nil || logg == nil || dbClient == nil {
		return nil, errors.New("config, logger and database are required")
	}
	conn := dbClient.DB()

	var pipelineMetrics *metrics.PipelineMetrics
	if reg != nil {
		pipelineMetrics = metrics.NewPipelineMetrics(reg)
	}

	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)

	eventRepo := eventlog.NewRepository(conn)
	events, err := eventlog.NewService(eventRepo, logg)
	if err != nil {
		return nil, fmt.Errorf("event log: %w", err)
	}
	ledgerRepo := ledger.NewRepository(conn)
	projector, err := ledger.NewProjector(eventRepo, ledgerRepo, dbClient, logg)
	if err != nil {
		return nil, fmt.Errorf("projector: %w", err)
	}

	merchantSvc, err := merchants.NewService(merchants.ServiceParams{
		Repo:    merchants.NewRepository(conn),
		Ledger:  ledgerRepo,
		Events:  eventRepo,
		Tx:      dbClient,
		Outbox:  emitter,
		Metrics: pipelineMetrics,
		Logger:  logg,
	})
	if err != nil {
		return nil, fmt.Errorf("merchants: %w", err)
	}

	pipelineSvc, err := pipeline.NewService(pipeline.ServiceParams{
		Events:           events,
		Projector:        projector,
		Ledger:           ledgerRepo,
		Purger:           merchantSvc,
		Metrics:          pipelineMetrics,
		Logger:           logg,
		InlineProjection: cfg.FeatureFlags.InlineProjection,
		SweepBatchSize:   cfg.Pipeline.SweepBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	reportingSvc, err := reporting.NewService(reporting.NewRepository(conn), cfg.App.BaseCurrency)
	if err != nil {
		return nil, fmt.Errorf("reporting: %w", err)
	}
	diagnosticsSvc, err := diagnostics.NewService(reportingSvc, diagnostics.NewRepository(conn), diagnostics.PolicyFromConfig(cfg.Risk), logg)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: %w", err)
	}
	billingSvc, err := billing.NewService(billing.ServiceParams{Repo: billing.NewRepository(conn)})
	if err != nil {
		return nil, fmt.Errorf("billing: %w", err)
	}
	plansSvc, err := plans.NewService(plans.ServiceParams{
		Repo:     plans.NewRepository(conn),
		Health:   diagnosticsSvc,
		Volume:   reportingSvc,
		Channels: merchantSvc,
		Billing:  billingSvc,
		Tx:       dbClient,
		Outbox:   emitter,
		Matrix:   plans.MatrixFromConfig(cfg.Plans),
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("plans: %w", err)
	}

	return &Core{
		Events:      events,
		EventRepo:   eventRepo,
		Ledger:      ledgerRepo,
		Merchants:   merchantSvc,
		Pipeline:    pipelineSvc,
		Reporting:   reportingSvc,
		Diagnostics: diagnosticsSvc,
		Billing:     billingSvc,
		Plans:       plansSvc,
		Outbox:      emitter,
		OutboxRepo:  outboxRepo,
	}, nil
}

// NewBackfillRunner returns nil when no gateway is configured.
func NewBackfillRunner(cfg config.BackfillConfig, submitter backfill.Submitter, store backfill.KeyValueStore, logg *logger.Logger) (*backfill.Runner, error) {
	if cfg.GatewayURL == "" {
		return nil, nil
	}
	client, err := gateway.NewClient(cfg.GatewayURL, gateway.WithTimeout(cfg.HTTPTimeout), gateway.WithToken(cfg.GatewayToken))
	if err != nil {
		return nil, fmt.Errorf("backfill gateway: %w", err)
	}
	return backfill.NewRunner(client, submitter, backfill.NewCheckpoints(store, cfg.CheckpointTTL), logg, cfg.PageSize)
}

// NewAdSpendPoller returns nil when no gateway is configured.
func NewAdSpendPoller(cfg config.AdSpendConfig, core *Core, quota *redis.Client, logg *logger.Logger) (*adspend.Poller, error) {
	if cfg.GatewayURL == "" {
		return nil, nil
	}
	client, err := gateway.NewClient(cfg.GatewayURL, gateway.WithTimeout(cfg.HTTPTimeout), gateway.WithToken(cfg.GatewayToken))
	if err != nil {
		return nil, fmt.Errorf("ad spend gateway: %w", err)
	}
	params := adspend.ParamsFromConfig(cfg)
	params.Fetcher = client
	params.Connections = core.Merchants
	params.Submitter = core.Pipeline
	params.Logger = logg
	if quota != nil {
		params.Quota = quota
	}
	return adspend.NewPoller(params)
}

package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marginguard-backend/api/controllers"
	"github.com/angelmondragon/marginguard-backend/api/middleware"
	"github.com/angelmondragon/marginguard-backend/pkg/config"
	"github.com/angelmondragon/marginguard-backend/pkg/logger"
	"github.com/angelmondragon/marginguard-backend/pkg/redis"
)

// Services are the domain entry points behind the merchant routes. A nil
// service answers its routes with an error instead of panicking.
type Services struct {
	Events      controllers.EventSubmitter
	Connections controllers.ConnectionService
	Purger      controllers.DataPurger
	Backfills   controllers.BackfillStarter
	Reports     controllers.Reporter
	Health      controllers.HealthScorer
	Plans       controllers.PlanCalculator
	Reconciler  controllers.Reconciler
	Billing     controllers.SubscriptionService
}

type redisStore interface {
	middleware.RateLimiterStore
	middleware.IdempotencyStore
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	redisClient *redis.Client,
	ready map[string]controllers.Pinger,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	// keep a nil client out of the interface so the middleware sees it as absent
	var store redisStore
	if redisClient != nil {
		store = redisClient
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.API.CORSOrigins),
	)

	ingestPolicy := middleware.NewRateLimitPolicy(
		"ingest",
		cfg.API.IngestRateWindow,
		cfg.API.IngestMerchantLimit,
		cfg.API.IngestIPLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, ready))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/plans", controllers.ListBillingPlans(svc.Billing, logg))

		r.Route("/merchants/{merchantId}", func(r chi.Router) {
			r.Use(middleware.MerchantContext(logg))

			r.With(middleware.RateLimit(ingestPolicy, store, logg)).Post("/events", controllers.MerchantSubmitEvent(svc.Events, logg))

			r.Get("/connections", controllers.MerchantConnections(svc.Connections, logg))
			r.Put("/connections", controllers.MerchantConnect(svc.Connections, logg))
			r.With(middleware.Idempotency(store, middleware.PurgeIdempotencyTTL, logg)).Delete("/data", controllers.MerchantPurgeData(svc.Purger, logg))
			r.With(middleware.Idempotency(store, middleware.BackfillIdempotencyTTL, logg)).Post("/backfills", controllers.MerchantStartBackfill(svc.Backfills, logg))

			r.Get("/summary", controllers.MerchantSummary(svc.Reports, logg))
			r.Get("/products", controllers.MerchantProducts(svc.Reports, logg))
			r.Get("/cash", controllers.MerchantCash(svc.Reports, logg))
			r.Get("/reconciliation", controllers.MerchantReconciliation(svc.Reconciler, logg))

			r.Get("/health-score", controllers.MerchantHealthScore(svc.Health, logg))
			r.Post("/health-score/diagnose", controllers.MerchantDiagnose(svc.Health, logg))
			r.Get("/plan", controllers.MerchantPlan(svc.Plans, logg))
			r.Post("/plan", controllers.MerchantCalculatePlan(svc.Plans, logg))
			r.Put("/subscription", controllers.MerchantSyncSubscription(svc.Billing, logg))
		})
	})

	return r
}

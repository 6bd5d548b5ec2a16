package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/billing-engine/api/controllers"
	webhookcontrollers "github.com/angelmondragon/billing-engine/api/controllers/webhooks"
	"github.com/angelmondragon/billing-engine/api/middleware"
	"github.com/angelmondragon/billing-engine/pkg/config"
	"github.com/angelmondragon/billing-engine/pkg/logger"
)

// Params are the dependencies the HTTP surface needs. Redis and Gatherer
// are optional.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       controllers.Pinger
	Redis    controllers.Pinger
	Engine   webhookcontrollers.Processor
	Gatherer prometheus.Gatherer
}

func NewRouter(p Params) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, p.DB, p.Redis))
	})

	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	stripe := webhookcontrollers.StripeWebhook(p.Engine, webhookcontrollers.StripeOptions{
		MaxBodyBytes:      p.Config.Webhook.MaxBodyBytes,
		ProcessingTimeout: p.Config.Webhook.ProcessingTimeout,
	}, p.Logger)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", stripe)
	})
	// legacy path still configured on older gateway endpoints
	r.Post("/webhook", stripe)

	return r
}

package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"gatekeeper/docs"
	"gatekeeper/internal/api/v1/handler"
	"gatekeeper/internal/config"
	"gatekeeper/internal/middleware"
	"gatekeeper/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/swaggo/swag"
)

// Deps are the long-lived handles the HTTP API serves from. They are built
// once by the caller.
type Deps struct {
	Engine *service.BillingEngine
	Stripe *service.StripeService
	Auth   middleware.Authenticator
	// DLQ is optional; without it the dead-letter push route is not mounted.
	DLQ service.DLQService
	// Ready reports whether backing stores answer. Optional.
	Ready func(ctx context.Context) error
}

func New(cfg *config.Config, d Deps, logger zerolog.Logger) http.Handler {
	logger.Info().Str("environment", cfg.Environment).Msg("Router initialized")

	validate := validator.New(validator.WithRequiredStructEnabled())

	gateHandler := handler.NewGateHandler(d.Engine, validate, logger)
	creditHandler := handler.NewCreditHandler(d.Engine, validate, logger)
	billingHandler := handler.NewBillingHandler(d.Engine, d.Stripe, validate, logger)
	adminHandler := handler.NewAdminHandler(d.Engine, validate, logger)
	webhookHandler := handler.NewWebhookHandler(d.Stripe, logger)
	eventHandler := handler.NewEventHandler(d.Engine, d.DLQ, validate, logger)

	authMiddleware := middleware.AuthMiddleware(d.Auth, logger)
	adminMiddleware := middleware.AdminMiddleware(cfg.AdminAPIToken, d.Auth, logger)
	skipPushAuth := cfg.PubSubPushVerificationSkip || cfg.PubSubEmulatorHost != ""
	pubsubAuthMiddleware := middleware.PubSubAuthMiddleware(skipPushAuth, cfg.PubSubPushAudience, cfg.PubSubPushServiceAccount, logger)

	mux := http.NewServeMux()

	apiV1Mux := http.NewServeMux()
	gateHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	creditHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	billingHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	adminHandler.RegisterRoutes(apiV1Mux, adminMiddleware)
	webhookHandler.RegisterRoutes(apiV1Mux)
	eventHandler.RegisterRoutes(apiV1Mux, pubsubAuthMiddleware)

	// Mount the API v1 routes under /v1
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				logger.Warn().Err(err).Msg("Readiness check failed")
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("GET /swagger/doc.json", func(w http.ResponseWriter, r *http.Request) {
		doc, err := swag.ReadDoc(docs.SwaggerInfo.InstanceName())
		if err != nil {
			logger.Error().Err(err).Msg("Failed to render swagger doc")
			http.Error(w, "swagger doc unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	})

	// Redirect /api/* to /v1/* for backward compatibility
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/")
		http.Redirect(w, r, "/v1/"+rest, http.StatusMovedPermanently)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		Debug:            false,
	})

	return middleware.LoggerMiddleware(logger)(c.Handler(mux))
}

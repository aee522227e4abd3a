package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/promo-rules/internal/domain/promotion"
	"github.com/xenking/promo-rules/internal/handler"
	"github.com/xenking/promo-rules/pkg/health"
	"github.com/xenking/promo-rules/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("cache", cfg.Redis.Addr != ""),
	)

	loc, err := cfg.Promotions.Location()
	if err != nil {
		return err
	}

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	st, err := OpenStores(ctx, cfg, healthSvc)
	if err != nil {
		return errors.Wrap(err, "open stores")
	}
	defer st.Close()

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	svc, err := promotion.NewService(st.Promotions,
		promotion.WithMaxAttempts(cfg.Promotions.MaxAttempts),
		promotion.WithMeterProvider(m.MeterProvider()),
		promotion.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create promotion service")
	}

	h := handler.New(handler.Config{Location: loc}, st.Promotions, st.Customers, svc)
	admin := handler.NewSecurityHandler([]byte(cfg.Admin.KeyPepper), cfg.Admin.KeyHashes)
	if len(cfg.Admin.KeyHashes) == 0 {
		lg.Warn("No admin API key hashes configured, admin routes will reject every request")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Router(admin, httpmiddleware.LogRequests()))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(mux,
				httpmiddleware.RequestID(),
				httpmiddleware.InjectLogger(zctx.From(ctx)),
				httpmiddleware.Recovery(),
				httpmiddleware.CORS(httpmiddleware.CORSConfig{
					Origins: cfg.CORS.Origins,
					Headers: []string{"Content-Type", "Authorization", handler.APIKeyHeader},
					MaxAge:  86400,
				}),
				httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
					Max:    cfg.RateLimit.Max,
					Window: cfg.RateLimit.Window,
				}),
			),
			"promo-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

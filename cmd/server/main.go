package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"academy-attendance/internal/config"
	"academy-attendance/internal/device"
	"academy-attendance/internal/handler"
	"academy-attendance/internal/i18n"
	"academy-attendance/internal/ingest"
	"academy-attendance/internal/resolver"
	"academy-attendance/internal/service"
	"academy-attendance/internal/store"
	"academy-attendance/internal/store/memstore"
)

// backend is the set of stores the services run on.
type backend struct {
	records service.RecordStore
	devices service.DeviceStore
	events  ingest.EventLog
	persons resolver.Directory
	photos  handler.PhotoStore
	ping    func(context.Context) error
	close   func(context.Context) error
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	if cfg.Store == "memory" {
		logger.Warn("using in-memory store; data is lost on restart")
		st := memstore.New()
		return &backend{
			records: st, devices: st, events: st, persons: st, photos: st,
			ping:  st.Ping,
			close: func(context.Context) error { return nil },
		}, nil
	}

	db, err := store.NewMongoDB(ctx, cfg.MongoURI, cfg.MongoDB, logger)
	if err != nil {
		return nil, err
	}
	records, err := store.NewAttendanceStore(ctx, db)
	if err != nil {
		return nil, err
	}
	events, err := store.NewEventStore(ctx, db)
	if err != nil {
		return nil, err
	}
	devices, err := store.NewDeviceStore(ctx, db)
	if err != nil {
		return nil, err
	}
	return &backend{
		records: records,
		devices: devices,
		events:  events,
		persons: store.NewPersonDirectory(db),
		photos:  store.NewCaptureStore(db),
		ping:    db.Ping,
		close:   db.Close,
	}, nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := i18n.Init(cfg.DefaultLocale, logger); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	be, err := openBackend(startCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer be.close(context.Background())

	// Services
	attendanceSvc := service.NewAttendanceService(be.records, logger)
	deviceSvc := service.NewDeviceService(be.devices, cfg.WebhookSecret, cfg.DeviceFailureThreshold, logger)
	pipeline := ingest.NewPipeline(attendanceSvc, deviceSvc, be.events, be.persons,
		device.NewClient(cfg.DeviceTimeout),
		ingest.Options{Concurrency: cfg.SyncConcurrency, Location: cfg.DeviceTimezone},
		logger,
	)

	// Routes
	auth := handler.NewAuth(cfg.JWTSecret)
	mux := http.NewServeMux()
	handler.NewAttendanceHandler(attendanceSvc, be.photos, logger).RegisterRoutes(mux, auth)
	handler.NewDeviceHandler(deviceSvc, pipeline, logger).RegisterRoutes(mux, auth)

	// Health checks
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := be.ping(ctx); err != nil {
			logger.Warn("readiness check failed", "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      i18n.Middleware(handler.LoggingMiddleware(logger, mux)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.DeviceTimeout + 30*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("attendance service started", "port", cfg.Port, "env", cfg.Env, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

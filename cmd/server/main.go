package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/lumaworks/pulse/internal/config"
	"github.com/lumaworks/pulse/internal/eventbus"
	"github.com/lumaworks/pulse/internal/logging"
	"github.com/lumaworks/pulse/internal/metrics"
	"github.com/lumaworks/pulse/pkg/auth"
	"github.com/lumaworks/pulse/pkg/bridge"
	"github.com/lumaworks/pulse/pkg/errors"
	"github.com/lumaworks/pulse/pkg/realtime"
)

var configPath = flag.String("config", "", "path to config file (json or yaml)")

func main() {
	flag.Parse()

	cfg, err := config.Load(config.LoadOptions{Path: *configPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	errHandler := errors.NewDefaultHandler(logger.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	bus := eventbus.NewInMemoryBus(256)
	bus.Start(ctx)
	defer bus.Stop()

	m := metrics.New()
	m.Observe(bus)

	registry := realtime.NewRegistry(logger, bus)
	dispatcher := realtime.NewDispatcher(registry, logger, m)
	router := realtime.NewRouter(registry, logger, bus, m)

	monitor := realtime.NewMonitor(registry, realtime.MonitorOptions{
		Interval: cfg.Realtime.HeartbeatInterval,
		Timeout:  cfg.Realtime.HeartbeatTimeout,
	}, logger, bus)
	go func() {
		if err := monitor.Run(ctx); err != nil && err != context.Canceled {
			errHandler.Handle(ctx, err)
		}
	}()

	verifier, err := newVerifier(cfg.Auth)
	if err != nil {
		logger.Error("failed to build token verifier", "error", err)
		os.Exit(1)
	}

	serverOptions := realtime.DefaultServerOptions()
	serverOptions.ReadTimeout = 2 * cfg.Realtime.HeartbeatTimeout
	serverOptions.VerifyTimeout = cfg.Auth.VerifyTimeout
	serverOptions.MaxMessageSize = cfg.Realtime.MaxMessageSize
	serverOptions.Wire.WriteTimeout = cfg.Realtime.WriteTimeout
	serverOptions.Wire.SendBuffer = cfg.Realtime.SendBuffer

	ws := realtime.NewServer(registry, dispatcher, verifier, logger,
		realtime.WithOptions(serverOptions),
		realtime.WithEventBus(bus),
	)

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("pulse-server"))
		if err != nil {
			logger.Error("failed to connect to nats", "url", cfg.NATS.URL, "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		b := bridge.NewBridge(nc, router, cfg.NATS.SubjectPrefix, logger)
		if err := b.Start(); err != nil {
			logger.Error("failed to start nats bridge", "error", err)
			os.Exit(1)
		}
		defer b.Stop()

		logger.Info("nats bridge started", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/ws", ws)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/api/stats", func(w http.ResponseWriter, _ *http.Request) {
		registryStats := registry.Stats()
		stats := struct {
			Connections     int            `json:"connections"`
			PerUser         map[string]int `json:"perUser"`
			EventsDelivered int64          `json:"eventsDelivered"`
			UptimeSeconds   float64        `json:"uptimeSeconds"`
		}{
			Connections:     registryStats.TotalConnections,
			PerUser:         registryStats.PerUserCounts,
			EventsDelivered: router.Delivered(),
			UptimeSeconds:   router.Uptime(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			logger.Warn("failed to write stats response", "error", err)
		}
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("realtime server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Close live connections first so clients see a clean close frame
	// instead of a dropped socket.
	for _, conn := range registry.Connections() {
		registry.Remove(conn.ID())
		conn.Close(websocket.CloseGoingAway, "server shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

// newVerifier builds the token verifier selected by the auth mode
func newVerifier(cfg config.AuthConfig) (auth.Verifier, error) {
	switch cfg.Mode {
	case config.AuthModeJWT:
		return auth.NewJWTVerifier(cfg.JWTSecret), nil
	case config.AuthModeEndpoint:
		return auth.NewEndpointVerifier(cfg.Endpoint, &http.Client{Timeout: cfg.VerifyTimeout}), nil
	default:
		return nil, fmt.Errorf("unknown auth mode: %s", cfg.Mode)
	}
}

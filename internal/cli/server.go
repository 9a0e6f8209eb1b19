package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"contest-rating-service/internal/config"
	"contest-rating-service/internal/job"
	"contest-rating-service/internal/observability"
	transport "contest-rating-service/internal/transport/http"
	natsconsumer "contest-rating-service/internal/transport/nats"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the contest service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	observability.RegisterMetrics()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("contest-rating-service"))
		if err != nil {
			return err
		}
		defer nc.Close()
		consumer := natsconsumer.NewConsumer(nc, cfg.NATS.Subject, rt.service, logger)
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	}

	var scheduler *job.Scheduler
	if cfg.Finalizer.Enabled {
		scheduler, err = job.NewScheduler(cfg.Finalizer.Spec, config.TTLDuration(cfg.Finalizer.Timeout, time.Minute), rt.service, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	mux := http.NewServeMux()
	transport.NewHandler(rt.service, logger).Register(mux)
	mux.HandleFunc("GET /ws", transport.NewWSHandler(rt.service, logger).ServeWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	if scheduler != nil {
		mux.HandleFunc("GET /jobs/finalize", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(scheduler.Status())
		})
	}

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.AccessLog(mux, logger),
		ReadTimeout: 15 * time.Second,
		// websocket streams outlive any write timeout
		WriteTimeout: 0,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("starting contest service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("failed to start server")
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info().Msg("shutting down server...")
	case <-ctx.Done():
		logger.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

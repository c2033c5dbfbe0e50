package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fleetpulse/alertcore/internal/alerting"
	"github.com/fleetpulse/alertcore/internal/api"
	"github.com/fleetpulse/alertcore/internal/conf"
	"github.com/fleetpulse/alertcore/internal/datastore"
	"github.com/fleetpulse/alertcore/internal/datastore/repository"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/logger"
	"github.com/fleetpulse/alertcore/internal/mqtt"
	"github.com/fleetpulse/alertcore/internal/notification"
	"github.com/fleetpulse/alertcore/internal/observability/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and event pipeline",
		Long: `Open the datastore, seed the default rules, and serve the rule and alert
API. When MQTT is enabled, events are consumed from the event topic and
alerts are published to the alert topic. Alerts at or above the configured
severity are sent to every notification URL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if listen != "" {
				settings.Server.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, settings, log)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address override")
	return cmd
}

// serve runs until ctx is cancelled or the HTTP server fails.
func serve(ctx context.Context, settings *conf.Settings, log logger.Logger) error {
	if settings.Telemetry.SentryDSN != "" {
		flush, err := errors.InitSentry(errors.SentryConfig{
			DSN:         settings.Telemetry.SentryDSN,
			Environment: settings.Telemetry.Environment,
			Release:     "alertcore@" + version,
		})
		if err != nil {
			return err
		}
		defer flush()
	}

	db, err := datastore.Open(settings.Datastore, log)
	if err != nil {
		return err
	}
	defer func() { _ = datastore.Close(db) }()
	repo := repository.New(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := alerting.Initialize(ctx, repo, settings, log, metrics.New(reg))
	if err != nil {
		return err
	}
	defer svc.Stop()

	if len(settings.Notify.URLs) > 0 {
		notifier, err := notification.New(settings.Notify, log)
		if err != nil {
			return err
		}
		svc.Stream.Subscribe(notifier.Notify)
		log.Info("alert notifications enabled",
			logger.Int("services", len(settings.Notify.URLs)),
			logger.String("min_severity", settings.Notify.MinSeverity))
	}

	if settings.MQTT.Enabled {
		client, err := mqtt.NewClient(settings.MQTT, svc.Engine, log)
		if err != nil {
			return err
		}
		if err := client.Connect(ctx); err != nil {
			return err
		}
		svc.Stream.Subscribe(client.PublishAlert)
		// Drain queued alerts before the broker connection closes.
		defer func() {
			svc.Stop()
			client.Disconnect()
		}()
	}

	server := api.NewServer(settings.Server, api.NewController(repo, svc, reg, log), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return server.Shutdown(context.Background(), shutdownTimeout)
	})
	return g.Wait()
}

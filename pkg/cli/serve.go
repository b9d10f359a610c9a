package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/leadflow/pkg/app"
	"github.com/platinummonkey/leadflow/pkg/audit"
	"github.com/platinummonkey/leadflow/pkg/config"
	"github.com/platinummonkey/leadflow/pkg/observability"
)

func newServeCommand(env *environment) *Command {
	cmd := &Command{
		Name:        "serve",
		Description: "Run the conversion HTTP service",
		Flags:       flag.NewFlagSet("serve", flag.ContinueOnError),
	}
	path := addConfigFlag(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		file := configPath(*path)
		cfg, err := env.load(file)
		if err != nil {
			return err
		}
		return serve(cfg, file, env)
	}
	return cmd
}

func serve(cfg *config.Config, file string, env *environment) error {
	ctx := context.Background()
	logger := observability.NewLogger(observability.ParseLevel(cfg.Observability.LogLevel), env.logOut)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = observability.ShutdownOTel(ctx, providers, logger)
		return err
	}

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		application.Close()
		_ = observability.ShutdownOTel(ctx, providers, logger)
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      application.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	scheduler := cron.New()
	if application.AuditStore != nil && cfg.Audit.ReportSchedule != config.ReportScheduleOff {
		reporter := audit.NewOrphanReporter(application.AuditStore, logger, application.Metrics)
		if _, err := reporter.Schedule(scheduler, cfg.Audit.ReportSchedule); err != nil {
			listener.Close()
			application.Close()
			_ = observability.ShutdownOTel(ctx, providers, logger)
			return err
		}
		logger.Infof("Orphaned user report schedule: %s", cfg.Audit.ReportSchedule)
	}
	scheduler.Start()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, server)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return application.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	if file != "" {
		watchCtx, stopWatch := context.WithCancel(ctx)
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			stopWatch()
			return nil
		})
		go watchLogLevel(watchCtx, file, logger)
	}

	go func() {
		logger.Infof("Leadflow listening on %s", addr)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()

	return shutdown.WaitForShutdown()
}

// watchLogLevel applies log level edits to the running service. Other
// settings take effect on restart.
func watchLogLevel(ctx context.Context, file string, logger *logrus.Logger) {
	defer observability.RecoverPanic(logger, "config watch")

	err := config.Watch(ctx, file, logger, func(cfg *config.Config) {
		level := observability.ParseLevel(cfg.Observability.LogLevel)
		if level != logger.GetLevel() {
			logger.SetLevel(level)
			logger.Infof("Log level changed to %s", level)
		}
	})
	if err != nil {
		logger.WithError(err).Warn("Config file watch disabled")
	}
}

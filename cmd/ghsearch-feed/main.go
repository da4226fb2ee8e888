package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bakkerme/ghsearch-feed/internal/config"
	"github.com/bakkerme/ghsearch-feed/internal/core"
	"github.com/bakkerme/ghsearch-feed/internal/observability/metrics"
	"github.com/bakkerme/ghsearch-feed/internal/observability/otelx"
	"github.com/bakkerme/ghsearch-feed/internal/runner/factory"
)

func main() {
	env := config.LoadEnv()

	var o config.Overrides
	configPath := env.ConfigPath
	stringFlag(&o.Query, "query", "q", "", "code search query, e.g. filename:CLAUDE.md")
	stringFlag(&o.Token, "token", "t", "", "GitHub API token (default $GHSEARCH_GITHUB_TOKEN or $GITHUB_TOKEN)")
	stringFlag(&o.LogLevel, "log-level", "l", "", "log level: DEBUG, INFO, WARNING or ERROR")
	stringFlag(&o.UntilURL, "until-url", "u", "", "stop when this result URL is reached; the result itself is excluded")
	stringFlag(&o.Output, "output", "o", "", "write the Atom feed to this file (default stdout)")
	flag.StringVar(&o.UpdatedDate, "updated-date", "", "reference date for feed timestamps, any format (default run start)")
	flag.StringVar(&configPath, "config", configPath, "path to a YAML feed document")
	flag.StringVar(&o.Schedule, "schedule", "", "cron expression; omit to run once and exit")
	flag.StringVar(&o.MetricsAddr, "metrics-addr", "", "serve /metrics and /health on this address")
	flag.StringVar(&o.HistoryDB, "history-db", "", "record runs in this SQLite file")
	flag.StringVar(&o.SnapshotPath, "snapshot", "", "save the search results as JSON to this path")
	flag.StringVar(&o.RestorePath, "restore", "", "build the feed from saved search results instead of searching")
	flag.Parse()

	var doc *config.Document
	if configPath != "" {
		loaded, err := config.LoadDocument(configPath)
		if err != nil {
			log.Fatalf("failed to load document: %v", err)
		}
		doc = loaded
	}

	settings, err := config.Resolve(env, doc, o)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// stdout carries the feed, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: core.ParseLogLevel(settings.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(logger, settings); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

func run(logger *slog.Logger, settings config.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := otelx.Init(ctx, logger, settings.OTel)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown failed", slog.Any("error", err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	f := factory.New(logger, m)
	f.Stdout = os.Stdout
	asm, err := f.Build(settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := asm.Close(); err != nil {
			logger.Warn("failed to close run history", slog.Any("error", err))
		}
	}()

	if settings.Metrics.Addr != "" {
		startMetricsServer(ctx, logger, settings.Metrics.Addr, reg, asm.History)
	}

	if len(asm.Triggers) == 0 {
		_, err := asm.Runner.RunOnce(ctx, settings.Query, "")
		return err
	}

	logger.Info("running on schedule", slog.String("cron", settings.Schedule.Cron), slog.String("query", settings.Query))
	if err := asm.Runner.Start(ctx, settings.Query, asm.Triggers); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// stringFlag registers a flag under a long and a short name.
func stringFlag(p *string, name, short, value, usage string) {
	flag.StringVar(p, name, value, usage)
	flag.StringVar(p, short, value, "shorthand for -"+name)
}

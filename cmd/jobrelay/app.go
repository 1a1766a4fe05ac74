package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mattjoyce/jobrelay/internal/config"
	"github.com/mattjoyce/jobrelay/internal/dedupe"
	"github.com/mattjoyce/jobrelay/internal/dispatch"
	"github.com/mattjoyce/jobrelay/internal/handler"
	"github.com/mattjoyce/jobrelay/internal/jobber"
	"github.com/mattjoyce/jobrelay/internal/lock"
	"github.com/mattjoyce/jobrelay/internal/log"
	"github.com/mattjoyce/jobrelay/internal/metrics"
	"github.com/mattjoyce/jobrelay/internal/notify"
	"github.com/mattjoyce/jobrelay/internal/queue"
	"github.com/mattjoyce/jobrelay/internal/reconcile"
	"github.com/mattjoyce/jobrelay/internal/signature"
	"github.com/mattjoyce/jobrelay/internal/slack"
	"github.com/mattjoyce/jobrelay/internal/storage"
	"github.com/mattjoyce/jobrelay/internal/webhook"
)

// app owns every long-lived component of a running relay.
type app struct {
	logger  *slog.Logger
	server  *webhook.Server
	worker  *notify.Worker
	closers []func() error
}

// buildApp wires the relay from cfg. On error everything opened so far is closed.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}
	built := false
	defer func() {
		if !built {
			a.close()
		}
	}()

	instance, err := lock.Acquire(lock.PathFor(cfg.Spool.Path))
	if err != nil {
		return nil, fmt.Errorf("spool lock (another instance may be running): %w", err)
	}
	a.closers = append(a.closers, instance.Release)
	logger.Info("acquired spool lock", "path", instance.Path())

	sink, gatherer := buildMetrics(cfg.Metrics)

	db, dialect, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if err := storage.Bootstrap(ctx, db, dialect); err != nil {
		return nil, err
	}
	store := storage.NewStore(db, dialect)
	logger.Info("record store opened", "driver", dialect.String())

	spool, err := storage.OpenSQLite(ctx, cfg.Spool.Path)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	a.closers = append(a.closers, spool.Close)
	if err := queue.Bootstrap(ctx, spool); err != nil {
		return nil, err
	}
	q := queue.New(spool)
	logger.Info("notification spool opened", "path", cfg.Spool.Path)

	deduper := openDeduper(ctx, cfg.Dedupe, logger)
	a.closers = append(a.closers, deduper.Close)

	fetcher := jobber.NewClient(jobber.Config{
		BaseURL:        cfg.Jobber.BaseURL,
		APIKey:         cfg.Jobber.APIKey,
		GraphQLVersion: cfg.Jobber.GraphQLVersion,
		Timeout:        cfg.Jobber.Timeout,
		MaxRequests:    cfg.Jobber.RateLimit.MaxRequests,
		Window:         cfg.Jobber.RateLimit.Window,
	}, sink)

	policy, err := reconcile.ParsePolicy(cfg.Notifications.Policy)
	if err != nil {
		return nil, err
	}
	reconciler := reconcile.New(fetcher, store, notify.NewOutbox(q, sink),
		reconcile.WithPolicy(policy),
		reconcile.WithTransitions(transitionRules(cfg.Notifications.Transitions)),
		reconcile.WithFetchTimeout(cfg.Jobber.Timeout),
		reconcile.WithMetrics(sink),
		reconcile.WithLogger(log.WithComponent("reconcile")),
	)

	// A nil interface, not a nil *slack.Client, disables chat replies.
	var poster notify.Poster
	if cfg.Slack.BotToken != "" {
		poster = slack.NewClient(slack.Config{
			BotToken: cfg.Slack.BotToken,
			BaseURL:  cfg.Slack.APIBaseURL,
		})
	}

	checks := map[string]webhook.HealthCheck{
		"storage": db.PingContext,
		"spool":   spool.PingContext,
	}

	bridges := notify.Multi{notify.NewLog(log.WithComponent("notify"))}
	if poster != nil && cfg.Slack.NotifyChannel != "" {
		bridges = append(bridges, notify.NewSlack(poster, cfg.Slack.NotifyChannel))
		logger.Info("slack notifications enabled", "channel", cfg.Slack.NotifyChannel)
	}
	if cfg.Notifications.NATS.URL != "" {
		nc, err := notify.ConnectNATS(cfg.Notifications.NATS.URL, log.WithComponent("nats"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, nc.Drain)
		bridges = append(bridges, notify.NewNATS(nc, cfg.Notifications.NATS.SubjectPrefix))
		checks["nats"] = natsCheck(nc)
		logger.Info("nats notifications enabled", "subject_prefix", cfg.Notifications.NATS.SubjectPrefix)
	}

	a.worker = notify.NewWorker(q, bridges, sink, log.WithComponent("notify"), cfg.Notifications.PollInterval).
		WithRetention(cfg.Spool.Retention)

	d := dispatch.New(
		dispatch.WithDeduper(deduper),
		dispatch.WithMetrics(sink),
		dispatch.WithLogger(log.WithComponent("dispatch")),
	)
	handler.New(store, reconciler, poster, log.WithComponent("handler")).Register(d)
	logger.Info("handlers registered", "routes", len(d.Keys()))

	chat, err := signature.NewChatVerifier(cfg.Slack.SigningSecret,
		signature.WithFreshnessWindow(cfg.Slack.FreshnessWindow),
		signature.WithChatLogger(log.WithSource("chat")),
	)
	if err != nil {
		return nil, err
	}
	fsm := signature.NewFSMVerifier(cfg.Jobber.WebhookSecret, log.WithSource("fsm"), sink)

	serverCfg, err := webhook.FromGlobalConfig(cfg.HTTP)
	if err != nil {
		return nil, err
	}
	a.server = webhook.New(serverCfg, webhook.Options{
		ServiceName:  cfg.Service.Name,
		ChatVerifier: chat,
		FSMVerifier:  fsm,
		Dispatcher:   d,
		Metrics:      sink,
		Gatherer:     gatherer,
		Checks:       checks,
	}, log.WithComponent("webhook"))

	built = true
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

func buildMetrics(mc config.MetricsConfig) (metrics.Sink, prometheus.Gatherer) {
	if !mc.Enabled {
		return metrics.NewNoopSink(), nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.NewPrometheusSink(reg), reg
}

func openStore(ctx context.Context, sc config.StorageConfig) (*sql.DB, storage.Dialect, error) {
	switch sc.Driver {
	case "postgres":
		db, err := storage.OpenPostgres(ctx, sc.DSN, sc.MaxConns)
		return db, storage.DialectPostgres, err
	default:
		db, err := storage.OpenSQLite(ctx, sc.Path)
		return db, storage.DialectSQLite, err
	}
}

// openDeduper prefers Redis and falls back to the in-process store when Redis is
// unreachable at startup.
func openDeduper(ctx context.Context, dc config.DedupeConfig, logger *slog.Logger) dedupe.Deduper {
	if dc.RedisURL == "" {
		return dedupe.NewMemory(dc.TTL)
	}
	d, err := dedupe.NewRedis(ctx, dc.RedisURL, dc.TTL)
	if err != nil {
		logger.Warn("redis unavailable, using in-process replay suppression", "error", err)
		return dedupe.NewMemory(dc.TTL)
	}
	return d
}

func transitionRules(tcs []config.TransitionConfig) []reconcile.TransitionRule {
	rules := make([]reconcile.TransitionRule, 0, len(tcs))
	for _, tc := range tcs {
		rules = append(rules, reconcile.TransitionRule{
			EntityType: storage.EntityType(strings.ToUpper(tc.EntityType)),
			To:         tc.To,
			Kind:       notify.Kind(tc.Kind),
		})
	}
	return rules
}

func natsCheck(nc *nats.Conn) webhook.HealthCheck {
	return func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats %s", nc.Status())
		}
		return nil
	}
}

// Command visapi runs the order orchestration service: the HTTP API, the
// lane worker pools and the cron scheduler in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	visapi "github.com/VadimVDM/VisAPI-sub006"
	"github.com/VadimVDM/VisAPI-sub006/api"
	"github.com/VadimVDM/VisAPI-sub006/audit"
	"github.com/VadimVDM/VisAPI-sub006/callback"
	"github.com/VadimVDM/VisAPI-sub006/config"
	"github.com/VadimVDM/VisAPI-sub006/cron"
	"github.com/VadimVDM/VisAPI-sub006/engine"
	"github.com/VadimVDM/VisAPI-sub006/order"
	"github.com/VadimVDM/VisAPI-sub006/processor"
	"github.com/VadimVDM/VisAPI-sub006/provider/crm"
	"github.com/VadimVDM/VisAPI-sub006/provider/mailer"
	"github.com/VadimVDM/VisAPI-sub006/provider/scraper"
	"github.com/VadimVDM/VisAPI-sub006/provider/whatsapp"
)

func main() {
	configPath := flag.String("config", "config/visapi.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "visapi:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	zl, err := newZap(cfg.App.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := slog.New(zapslog.NewHandler(zl.Core())).With(
		slog.String("service", cfg.App.Name),
		slog.String("env", cfg.App.Env),
	)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.closeRedis()
	if err := backends.store.Migrate(ctx); err != nil {
		_ = backends.store.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	d, err := visapi.New(
		visapi.WithStore(backends.store),
		visapi.WithConfig(cfg.Dispatcher()),
		visapi.WithLogger(logger),
	)
	if err != nil {
		_ = backends.store.Close()
		return err
	}
	engOpts := []engine.Option{
		engine.WithBackoff(cfg.Backoff()),
		engine.WithQueueConfig(cfg.LaneLimits()...),
		engine.WithSaga(cfg.SagaOptions()...),
	}
	if len(cfg.Audit.Actions) > 0 {
		engOpts = append(engOpts, engine.WithExtension(audit.New(
			audit.LogRecorder(logger.WithGroup("audit")),
			audit.WithActions(cfg.Audit.Actions...),
			audit.WithLogger(logger),
		)))
	}
	eng, err := engine.Build(d, engOpts...)
	if err != nil {
		_ = backends.store.Close()
		return err
	}

	engine.RegisterProcessors(eng, newProcessors(cfg, backends, logger))
	if err := engine.RegisterCron(ctx, eng, cron.Definition[processor.LogPrune]{
		Name:     "log-prune",
		Schedule: cfg.LogPrune.Schedule,
	}); err != nil {
		_ = backends.store.Close()
		return err
	}

	var whatsAppVerifier, mailerVerifier *callback.Verifier
	if cfg.Secrets.CallbackSecret != "" {
		whatsAppVerifier = callback.NewVerifier(cfg.Secrets.CallbackSecret)
	} else {
		logger.Warn("callback signature verification disabled", slog.String("channel", string(order.ChannelWhatsApp)))
	}
	if cfg.Secrets.MailerCallbackSecret != "" {
		mailerVerifier = callback.NewVerifier(cfg.Secrets.MailerCallbackSecret)
	} else {
		logger.Warn("callback signature verification disabled", slog.String("channel", string(order.ChannelEmail)))
	}
	callbacks := callback.NewService(backends.records, backends.notifier, logger)

	handler := api.New(eng,
		api.WithCallbacks(callbacks, whatsAppVerifier, mailerVerifier),
		api.WithResyncInterval(cfg.Saga.ResyncInterval),
		api.WithLogger(logger),
	).Handler()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	// Workers run on their own context so a signal drains them instead of
	// aborting in-flight jobs.
	if err := eng.Start(context.Background()); err != nil {
		_ = backends.store.Close()
		return fmt.Errorf("start engine: %w", err)
	}
	logger.Info("visapi started", slog.String("addr", cfg.HTTP.Addr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", slog.String("error", err.Error()))
		}

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
		defer cancelDrain()
		return eng.Stop(drainCtx)
	})

	err = g.Wait()
	logger.Info("visapi stopped")
	return err
}

func newZap(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func newProcessors(cfg *config.Config, b *backends, logger *slog.Logger) *processor.Processors {
	hc := &http.Client{Timeout: cfg.Providers.Timeout}
	p := cfg.Providers
	s := cfg.Secrets

	opts := []processor.Option{
		processor.WithLogger(logger),
		processor.WithSyncLockTTL(cfg.Saga.SyncLockTTL),
		processor.WithPruneMaxAge(cfg.LogPrune.MaxAge),
	}
	if p.CRM.BaseURL != "" {
		opts = append(opts, processor.WithContactPlatform(crm.New(p.CRM.BaseURL, s.CRMToken, hc)))
	}
	if p.WhatsApp.BaseURL != "" {
		opts = append(opts, processor.WithSender(order.ChannelWhatsApp,
			whatsapp.New(p.WhatsApp.BaseURL, p.WhatsApp.PhoneNumberID, s.WhatsAppToken, hc)))
	}
	if p.Mailer.BaseURL != "" {
		opts = append(opts, processor.WithSender(order.ChannelEmail,
			mailer.New(p.Mailer.BaseURL, p.Mailer.From, s.MailerToken, hc)))
	}
	if p.Scraper.BaseURL != "" {
		opts = append(opts, processor.WithScraper(scraper.New(p.Scraper.BaseURL, s.ScraperToken, hc)))
	}
	return processor.New(b.records, b.records, opts...)
}

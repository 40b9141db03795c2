package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wagateway/core/bootstrap"
	coreconfig "wagateway/core/config"
	coredatabase "wagateway/core/database"
	"wagateway/core/forwarder"
	"wagateway/core/httpapi"
	"wagateway/core/logger"
	"wagateway/core/session"
	"wagateway/core/transport"
)

// Options describe where the runner finds its configuration file.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string
}

// Run loads configuration, bootstraps infrastructure, and runs the
// gateway until SIGINT/SIGTERM or a fatal component error.
func Run(opts Options) error {
	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	cfgPath := os.Getenv(env)
	if cfgPath == "" {
		cfgPath = opts.DefaultConfigPath
	}
	if cfgPath == "" {
		return fmt.Errorf("cmd: config path not provided via %s or DefaultConfigPath", env)
	}

	log.Printf("loading config: %s", cfgPath)
	cfg, err := coreconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}
	dbCfg, err := coredatabase.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load database config: %w", err)
	}

	boot, err := bootstrap.Run(bootstrap.Options{Config: cfg, Database: dbCfg})
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}
	defer func() {
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	defer boot.DB.Close()

	startedAt := time.Now()

	store := session.NewSQLStore(boot.DB)
	machine := session.NewMachine(session.Rules{
		PromptRateLimit: cfg.Gateway.PromptRateLimit(),
		LiveChatTimeout: cfg.Gateway.LiveChatTimeout(),
		TalkToUsTimeout: cfg.Gateway.TalkToUsTimeout(),
	})
	active := &session.ActiveCount{}

	var disp session.Dispatcher
	var tg *transport.Telegram
	switch cfg.Transport.Mode {
	case coreconfig.TransportTelegram:
		tg, err = transport.NewTelegram(cfg.Transport.Telegram)
		if err != nil {
			return fmt.Errorf("cmd: %w", err)
		}
		disp = tg
	default:
		disp = transport.NewBridge(cfg.Transport.Bridge)
	}

	sweeper := session.NewSweeper(store, disp, active, machine, session.SweeperConfig{
		Interval:      cfg.Gateway.SweepInterval(),
		Pacing:        cfg.Gateway.NotificationPacing(),
		IdleRetention: cfg.Gateway.IdleRetention(),
	})
	fwd := forwarder.New(cfg.Forwarder)
	handler := session.NewHandler(store, disp, fwd, machine, active, sweeper)
	api := httpapi.New(handler, store, disp, active, sweeper)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Listen, cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Sessions left tracked by a previous run must keep expiring.
	recoverCtx, cancelRecover := context.WithTimeout(ctx, 30*time.Second)
	counts, err := store.CountTracked(recoverCtx)
	cancelRecover()
	if err != nil {
		logger.Warn(ctx, "gateway", "recover.count",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	} else if counts.Total() > 0 {
		active.Reconcile(counts.Total())
		sweeper.Start()
		logger.Info(ctx, "gateway", "recover.count",
			slog.Int64("tracked", counts.Total()),
		)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info(ctx, "http", "listen",
			slog.String("listen", addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if tg != nil {
		go func() {
			errCh <- tg.Run(ctx, handler.HandleInbound)
		}()
	}

	logger.Info(ctx, "app", "ready",
		slog.String("mode", cfg.Transport.Mode),
		slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	logger.Info(logger.Background(), "app", "shutdown")
	sweeper.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(logger.Background(), "http", "shutdown",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}

	return runErr
}

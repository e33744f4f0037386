package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZXZCAT/bot-worker/cmd/botworker/internal"
	"github.com/ZXZCAT/bot-worker/pkg/history"
	"github.com/ZXZCAT/bot-worker/pkg/logger"
	"github.com/ZXZCAT/bot-worker/pkg/router"
	"github.com/ZXZCAT/bot-worker/pkg/server"
	"github.com/ZXZCAT/bot-worker/pkg/workersai"
)

const shutdownTimeout = 30 * time.Second

func gatewayCmd(configPath string, debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	store, err := history.NewSQLiteStore(cfg.History.DBPath)
	if err != nil {
		return fmt.Errorf("error opening history store: %w", err)
	}
	defer store.Close()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		if err := store.RunSweeper(sweepCtx, cfg.History.SweepCron); err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorCF("gateway", "History sweeper stopped", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	ai := workersai.NewClient(cfg.WorkersAI, cfg.Bot.SystemPrompt)
	rt := router.New(cfg, store, ai)
	srv := server.New(cfg.Gateway, rt, ai)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.InfoCF("gateway", "botworker gateway started", map[string]any{
		"version": internal.GetVersion(),
		"addr":    fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		logger.InfoCF("gateway", "Shutting down", map[string]any{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

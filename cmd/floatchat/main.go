package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/samber/do"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/floatchat-go/internal/agent"
	"github.com/comigor/floatchat-go/internal/cli"
	"github.com/comigor/floatchat-go/internal/config"
	"github.com/comigor/floatchat-go/internal/history"
	"github.com/comigor/floatchat-go/internal/identity"
	"github.com/comigor/floatchat-go/internal/llm"
	"github.com/comigor/floatchat-go/internal/logger"
	"github.com/comigor/floatchat-go/internal/storage"
)

const shutdownGrace = 2 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("floatchat exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logFile, err := logger.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logFile.Close()

	config.Watch(func(next *config.Config) {
		logger.SetLevel(next.Log.Level)
		logger.L.Info("configuration reloaded", "log_level", next.Log.Level)
	}, func(err error) {
		logger.L.Warn("ignoring invalid configuration change", "error", err)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	di := do.New()
	defer func() {
		if err := di.Shutdown(); err != nil {
			logger.L.Warn("shutdown finished with errors", "error", err)
		}
	}()

	do.ProvideValue(di, cfg)
	do.Provide(di, func(i *do.Injector) (history.Store, error) {
		return storage.Open(ctx, do.MustInvoke[*config.Config](i).Store)
	})
	do.Provide(di, func(i *do.Injector) (llm.Provider, error) {
		return llm.New(ctx, do.MustInvoke[*config.Config](i).LLM)
	})
	do.Provide(di, func(i *do.Injector) (*identity.Local, error) {
		return identity.NewLocal(do.MustInvoke[*config.Config](i).Identity.User), nil
	})
	do.Provide(di, func(i *do.Injector) (*agent.Orchestrator, error) {
		return agent.New(
			do.MustInvoke[history.Store](i),
			do.MustInvoke[llm.Provider](i),
			do.MustInvoke[*identity.Local](i),
			agent.Options{Mobile: do.MustInvoke[*config.Config](i).UI.Mobile},
		), nil
	})

	// store and provider are independent; connect to both at once
	var g errgroup.Group
	g.Go(func() error {
		_, err := do.Invoke[history.Store](di)
		return err
	})
	g.Go(func() error {
		_, err := do.Invoke[llm.Provider](di)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	orch := do.MustInvoke[*agent.Orchestrator](di)
	auth := do.MustInvoke[*identity.Local](di)

	if cfg.Identity.User != "" {
		if _, err := orch.SignIn(ctx); err != nil {
			logger.L.Warn("automatic sign-in failed", "error", err)
		}
	}

	logger.L.Info("floatchat started", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model, "store", cfg.Store.Backend)

	palette := cli.NewPalette(os.Stdout, cfg.UI.Color)
	session := cli.NewSession(orch, auth, os.Stdout, palette)
	do.ProvideValue(di, cli.NewREPL(session, os.Stdout, palette, historyFile()))
	repl := do.MustInvoke[*cli.REPL](di)

	done := make(chan error, 1)
	go func() { done <- repl.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		logger.L.Info("shutting down")
		select {
		case err := <-done:
			return err
		case <-time.After(shutdownGrace):
			return nil
		}
	}
}

func historyFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "floatchat", "input_history")
}

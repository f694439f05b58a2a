package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"todo-sync/internal/auth"
	"todo-sync/internal/config"
	"todo-sync/internal/logger"
	"todo-sync/internal/server"
	"todo-sync/internal/view"
)

func main() {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   "todo-server",
		Short: "Serve task lists over HTTP with live snapshot streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			return run(cmd.Context(), cfg)
		},
	}
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config.yaml")
	rootCmd.Flags().String("addr", "", "listen address, overrides server.addr")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))

	tokens, err := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TTL)
	if err != nil {
		return err
	}
	seed, err := config.LoadSeed(cfg.Seed.File)
	if err != nil {
		return err
	}
	backend, err := config.OpenBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	login := server.Login{Key: cfg.Auth.LoginKey, Open: cfg.Auth.OpenLogin}
	if login.Key == "" && !login.Open {
		logger.Warn(ctx, "Neither auth.login_key nor auth.open_login is set, nobody can log in")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(backend, tokens, login, seed, view.Options{AllIncludesCompleted: cfg.View.AllIncludesCompleted}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "Server listening", "addr", cfg.Server.Addr, "backend", cfg.Backend.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info(shutdownCtx, "Shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

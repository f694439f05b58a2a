package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"todo-sync/internal/config"
	"todo-sync/internal/logger"
	"todo-sync/internal/manager"
	"todo-sync/internal/view"
)

func main() {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   "telegram-bot",
		Short: "Telegram front end for synchronized task lists",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config.yaml")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error(ctx, err, "Бот остановлен с ошибкой")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.Info(ctx, "Запуск Telegram-бота...")

	if cfg.Telegram.Token == "" {
		return errors.New("telegram.token is not set (TODOSYNC_TELEGRAM_TOKEN)")
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
	logger.Info(ctx, "Хранилище успешно инициализировано", "driver", cfg.Backend.Driver)

	users := manager.NewUserManager(backend, seed, manager.Options{
		View:       view.Options{AllIncludesCompleted: cfg.View.AllIncludesCompleted},
		Optimistic: cfg.View.Optimistic,
	})
	defer users.Close()

	bot, err := NewBot(cfg.Telegram.Token, cfg.Telegram.Debug, cfg.Telegram.IdleTimeout, users)
	if err != nil {
		return err
	}
	logger.Info(ctx, "Бот успешно инициализирован")
	return bot.Start(ctx)
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"todo-sync/internal/config"
	"todo-sync/internal/models"
)

func main() {
	var (
		cfgPath string
		user    string
		name    string
	)

	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the task store schema and, optionally, a first user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Backend.Driver == "memory" {
				return fmt.Errorf("nothing to migrate for the memory backend")
			}
			return migrate(cmd.Context(), cfg, user, name)
		},
	}
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config.yaml")
	rootCmd.Flags().StringVar(&user, "user", "", "create this user with the seed list")
	rootCmd.Flags().StringVar(&name, "name", "", "display name of --user")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrate(ctx context.Context, cfg *config.Config, user, name string) error {
	log.Printf("🔄 Подготовка хранилища %s...", cfg.Backend.Driver)

	// opening the backend creates missing tables
	backend, err := config.OpenBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("❌ ошибка открытия хранилища: %w", err)
	}
	defer backend.Close()
	log.Println("✅ Схема создана")

	if user == "" {
		log.Println("🎉 Миграция завершена успешно!")
		return nil
	}

	seed, err := config.LoadSeed(cfg.Seed.File)
	if err != nil {
		return err
	}
	created, err := backend.EnsureUser(ctx, models.Profile{UID: user, FullName: name}, seed)
	if err != nil {
		return fmt.Errorf("❌ ошибка создания пользователя: %w", err)
	}
	if created {
		log.Printf("✅ Пользователь %s создан, задач: %d", user, len(seed))
	} else {
		log.Printf("⚠️ Пользователь %s уже существует", user)
	}
	log.Println("🎉 Миграция завершена успешно!")
	return nil
}

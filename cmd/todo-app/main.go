package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"todo-sync/internal/client"
	"todo-sync/internal/config"
	"todo-sync/internal/manager"
	"todo-sync/internal/models"
)

var Version = "dev"

type app struct {
	cfgPath string
	baseURL string
	token   string

	cfg    *config.Config
	client *client.Client
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     "todo",
		Short:   "Manage a synchronized task list from the terminal",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&a.baseURL, "server", "", "server URL, overrides client.base_url")
	rootCmd.PersistentFlags().StringVar(&a.token, "token", "", "access token, overrides the saved one")

	rootCmd.AddCommand(
		a.loginCmd(),
		a.listCmd(),
		a.typesCmd(),
		a.addCmd(),
		a.checkCmd("done", true),
		a.checkCmd("undo", false),
		a.editCmd(),
		a.deleteCmd(),
		a.watchCmd(),
		a.exportCmd(),
		a.importCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", describe(err))
		os.Exit(1)
	}
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	baseURL := cfg.Client.BaseURL
	if a.baseURL != "" {
		baseURL = a.baseURL
	}
	token := a.token
	if token == "" {
		token = cfg.Client.Token
	}
	if token == "" {
		token = loadToken()
	}
	a.client = client.New(baseURL, token)
	a.client.SetLoginKey(a.cfg.Auth.LoginKey)
	return nil
}

// describe turns the error taxonomy into something a user can act on.
func describe(err error) string {
	var ve *models.ValidationError
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		return "not signed in, run `todo login <user>` first"
	case errors.As(err, &ve):
		return fmt.Sprintf("%s is required", ve.Field)
	case errors.Is(err, models.ErrNotFound):
		return "task not found"
	}
	return err.Error()
}

func tokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".todo-sync-token"
	}
	return filepath.Join(dir, "todo-sync", "token")
}

func loadToken() string {
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func saveToken(token string) error {
	path := tokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token+"\n"), 0o600)
}

func (a *app) mutator() *manager.TaskMutator {
	return manager.NewTaskMutator(a.client)
}

package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"todo-sync/internal/config"
	"todo-sync/internal/manager"
	"todo-sync/internal/models"
	"todo-sync/internal/view"
)

func (a *app) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the task list live until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			search, _ := cmd.Flags().GetString("search")
			selector, _ := cmd.Flags().GetString("filter")

			me, err := a.client.Me(ctx)
			if err != nil {
				return err
			}

			s, err := manager.NewSession(me.UID, a.client, manager.Options{
				View:       view.Options{AllIncludesCompleted: a.cfg.View.AllIncludesCompleted},
				Optimistic: a.cfg.View.Optimistic,
				OnView: func(tasks []models.Task) {
					fmt.Print("\033[H\033[2J")
					printTasks(tasks)
				},
				OnError: func(err error) {
					fmt.Fprintf(os.Stderr, "sync error: %v\n", err)
				},
			})
			if err != nil {
				return err
			}
			defer s.Close()
			defer a.client.Close()

			s.Live().SetSearch(search)
			s.Live().SetSelector(view.Selector(selector))

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringP("search", "s", "", "case-insensitive text in the task name")
	cmd.Flags().StringP("filter", "f", string(view.All), "All, Done, Pending or a task type")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the task list to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")

			tasks, err := a.client.List(cmd.Context())
			if err != nil {
				return err
			}

			switch format {
			case "json":
				err = saveJSON(out, tasks)
			case "csv":
				err = saveCSV(out, tasks)
			default:
				return fmt.Errorf("unsupported format %s", format)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Tasks exported to %s in %s format\n", out, format)
			return nil
		},
	}
	cmd.Flags().String("format", "json", "json or csv")
	cmd.Flags().String("out", "tasks.json", "output file")
	return cmd
}

func (a *app) importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Add every task of a YAML or JSON list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drafts, err := config.LoadSeed(args[0])
			if err != nil {
				return err
			}
			m := a.mutator()
			for _, d := range drafts {
				if _, err := m.CreateTask(cmd.Context(), d); err != nil {
					return err
				}
			}
			fmt.Printf("Loaded %d tasks from %s\n", len(drafts), args[0])
			return nil
		},
	}
	return cmd
}

func saveJSON(path string, tasks []models.Task) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func saveCSV(path string, tasks []models.Task) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"id", "taskName", "time", "type", "description", "check"})
	for _, t := range tasks {
		w.Write([]string{t.ID, t.TaskName, t.Time, t.Type, t.Description, strconv.FormatBool(t.Check)})
	}
	w.Flush()
	return w.Error()
}

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"todo-sync/internal/models"
	"todo-sync/internal/view"
)

func (a *app) loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login [user-id]",
		Short: "Sign in, creating the account on first use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")

			created, err := a.client.Login(cmd.Context(), models.Profile{UID: args[0], FullName: name, Email: email})
			if err != nil {
				return err
			}
			if err := saveToken(a.client.Token()); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			if created {
				fmt.Printf("Welcome, %s! Your account was created.\n", args[0])
			} else {
				fmt.Printf("Signed in as %s\n", args[0])
			}
			return nil
		},
	}
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("email", "", "email address")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered",
		RunE: func(cmd *cobra.Command, args []string) error {
			search, _ := cmd.Flags().GetString("search")
			selector, _ := cmd.Flags().GetString("filter")

			tasks, err := a.client.Query(cmd.Context(), search, selector)
			if err != nil {
				return err
			}
			printTasks(tasks)
			return nil
		},
	}
	cmd.Flags().StringP("search", "s", "", "case-insensitive text in the task name")
	cmd.Flags().StringP("filter", "f", string(view.All), "All, Done, Pending or a task type")
	return cmd
}

func (a *app) typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "Show the filter tabs",
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := a.client.Types(cmd.Context())
			if err != nil {
				return err
			}
			for _, tab := range view.Tabs(types) {
				fmt.Println(tab)
			}
			return nil
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	var d models.Draft
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new task",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.mutator().CreateTask(cmd.Context(), d)
			if err != nil {
				return err
			}
			fmt.Printf("Added task with ID %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&d.TaskName, "name", "n", "", "task name")
	cmd.Flags().StringVarP(&d.Type, "type", "t", "", "task type")
	cmd.Flags().StringVar(&d.Time, "time", "", "time, e.g. 09:30 AM")
	cmd.Flags().StringVarP(&d.Description, "desc", "d", "", "description")
	return cmd
}

func (a *app) checkCmd(use string, value bool) *cobra.Command {
	short := "Mark a task as completed"
	if !value {
		short = "Mark a task as pending"
	}
	return &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.mutator().SetCompletion(cmd.Context(), args[0], value); err != nil {
				return err
			}
			fmt.Printf("Task %s marked as %s\n", args[0], statusOf(value))
			return nil
		},
	}
}

func (a *app) editCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit [id]",
		Short: "Change fields of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p models.Patch
			for flag, field := range map[string]**string{
				"name": &p.TaskName,
				"type": &p.Type,
				"time": &p.Time,
				"desc": &p.Description,
			} {
				if cmd.Flags().Changed(flag) {
					v, _ := cmd.Flags().GetString(flag)
					*field = &v
				}
			}
			if p.Empty() {
				fmt.Println("Nothing to change")
				return nil
			}
			if err := a.mutator().UpdateFields(cmd.Context(), args[0], p); err != nil {
				return err
			}
			fmt.Printf("Task %s updated\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringP("name", "n", "", "task name")
	cmd.Flags().StringP("type", "t", "", "task type")
	cmd.Flags().String("time", "", "time")
	cmd.Flags().StringP("desc", "d", "", "description")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.mutator().DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Task %s deleted\n", args[0])
			return nil
		},
	}
}

func statusOf(check bool) string {
	if check {
		return "completed"
	}
	return "pending"
}

func printTasks(tasks []models.Task) {
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTIME\tTYPE\tNAME")
	for _, t := range tasks {
		mark := "[ ]"
		if t.Check {
			mark = "[x]"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, mark, t.Time, t.Type, strings.TrimSpace(t.TaskName))
	}
	w.Flush()
}

// Package view derives what a screen shows from the cached task list.
package view

import (
	"strings"

	"todo-sync/internal/models"
)

// Selector picks a completion state or a category. Anything that is not one of
// the built-in selectors is treated as a type label.
type Selector string

const (
	All     Selector = "All"
	Done    Selector = "Done"
	Pending Selector = "Pending"
)

// Options tunes selector semantics.
type Options struct {
	// AllIncludesCompleted makes All show checked tasks too. When false,
	// All behaves like Pending.
	AllIncludesCompleted bool
}

func (s Selector) builtin() bool {
	return s == All || s == Done || s == Pending
}

func (s Selector) match(t models.Task, opts Options) bool {
	switch s {
	case All:
		return opts.AllIncludesCompleted || !t.Check
	case Done:
		return t.Check
	case Pending:
		return !t.Check
	default:
		return t.Type == string(s)
	}
}

func matchText(t models.Task, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.TaskName), needle)
}

// Filter returns the tasks that match both the selector and the search text,
// in their original order. An empty selector means All. The input is not modified.
func Filter(tasks []models.Task, search string, sel Selector, opts Options) []models.Task {
	if sel == "" {
		sel = All
	}
	// blank search shows everything; otherwise the text is matched as typed
	needle := strings.ToLower(search)
	if strings.TrimSpace(search) == "" {
		needle = ""
	}

	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if sel.match(t, opts) && matchText(t, needle) {
			out = append(out, t)
		}
	}
	return out
}

// Tabs lists the selectors a screen offers: the built-ins, then one per type.
// Types that collide with a built-in name are skipped, since the built-in wins.
func Tabs(types []string) []Selector {
	tabs := []Selector{All, Done, Pending}
	for _, typ := range types {
		if sel := Selector(typ); typ != "" && !sel.builtin() {
			tabs = append(tabs, sel)
		}
	}
	return tabs
}

// DerivedTypes returns the distinct non-empty types in first-seen order.
func DerivedTypes(tasks []models.Task) []string {
	seen := make(map[string]struct{})
	types := []string{}
	for _, t := range tasks {
		if t.Type == "" {
			continue
		}
		if _, ok := seen[t.Type]; ok {
			continue
		}
		seen[t.Type] = struct{}{}
		types = append(types, t.Type)
	}
	return types
}

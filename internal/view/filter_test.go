package view

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"todo-sync/internal/models"
)

func sample() []models.Task {
	return []models.Task{
		{ID: "a", TaskName: "Buy milk", Type: "Errand", Check: false},
		{ID: "b", TaskName: "Pay bill", Type: "Finance", Check: true},
	}
}

func idsOf(tasks []models.Task) []string {
	out := []string{}
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestFilterExamples(t *testing.T) {
	tasks := sample()
	opts := Options{AllIncludesCompleted: true}

	assert.Equal(t, idsOf(Filter(tasks, "milk", All, opts)), []string{"a"})
	assert.Equal(t, idsOf(Filter(tasks, "", Done, opts)), []string{"b"})
	assert.Equal(t, idsOf(Filter(tasks, "", "Finance", opts)), []string{"b"})
	assert.Equal(t, idsOf(Filter(tasks, "", Pending, opts)), []string{"a"})
}

func TestFilterAllSelector(t *testing.T) {
	tasks := sample()

	t.Run("includes completed", func(t *testing.T) {
		got := Filter(tasks, "", All, Options{AllIncludesCompleted: true})
		assert.Equal(t, idsOf(got), []string{"a", "b"})
	})

	t.Run("excludes completed", func(t *testing.T) {
		got := Filter(tasks, "", All, Options{AllIncludesCompleted: false})
		assert.Equal(t, idsOf(got), []string{"a"})
	})

	t.Run("empty selector means All", func(t *testing.T) {
		got := Filter(tasks, "", "", Options{AllIncludesCompleted: true})
		assert.Equal(t, idsOf(got), []string{"a", "b"})
	})
}

func TestFilterTextAndSelectorCompose(t *testing.T) {
	tasks := append(sample(), models.Task{ID: "c", TaskName: "Milk the cow", Type: "Farm", Check: true})
	opts := Options{AllIncludesCompleted: true}

	assert.Equal(t, idsOf(Filter(tasks, "MILK", All, opts)), []string{"a", "c"})
	assert.Equal(t, idsOf(Filter(tasks, "milk", Done, opts)), []string{"c"})
	assert.Equal(t, idsOf(Filter(tasks, "milk", "Finance", opts)), []string{})
	assert.Equal(t, idsOf(Filter(tasks, "bill", Done, opts)), []string{"b"})
}

func TestFilterSearchIsLiteral(t *testing.T) {
	tasks := append(sample(), models.Task{ID: "c", TaskName: "Pay rent ", Type: "Finance"})
	opts := Options{AllIncludesCompleted: true}

	t.Run("whitespace is part of the query", func(t *testing.T) {
		assert.Equal(t, idsOf(Filter(tasks, "milk ", All, opts)), []string{})
		assert.Equal(t, idsOf(Filter(tasks, " milk", All, opts)), []string{"a"})
		assert.Equal(t, idsOf(Filter(tasks, "rent ", All, opts)), []string{"c"})
	})

	t.Run("blank query matches everything", func(t *testing.T) {
		assert.Equal(t, idsOf(Filter(tasks, "   ", All, opts)), []string{"a", "b", "c"})
		assert.Equal(t, idsOf(Filter(tasks, "\t", Pending, opts)), []string{"a", "c"})
	})
}

func TestFilterIdempotent(t *testing.T) {
	tasks := sample()
	for _, opts := range []Options{{true}, {false}} {
		for _, sel := range []Selector{All, Done, Pending, "Errand", "Finance"} {
			once := Filter(tasks, "b", sel, opts)
			twice := Filter(once, "b", sel, opts)
			assert.Equal(t, idsOf(twice), idsOf(once))
		}
	}
}

func TestFilterDoesNotTouchInput(t *testing.T) {
	tasks := sample()
	_ = Filter(tasks, "milk", Done, Options{})
	assert.Equal(t, idsOf(tasks), []string{"a", "b"})
}

func TestDerivedTypes(t *testing.T) {
	assert.Equal(t, DerivedTypes(nil), []string{})

	tasks := []models.Task{
		{ID: "a", Type: "Errand"},
		{ID: "b", Type: ""},
		{ID: "c", Type: "Finance"},
		{ID: "d", Type: "Errand"},
	}
	assert.Equal(t, DerivedTypes(tasks), []string{"Errand", "Finance"})
}

func TestTabs(t *testing.T) {
	got := Tabs([]string{"Errand", "Done", "Finance"})
	assert.Equal(t, got, []Selector{All, Done, Pending, "Errand", "Finance"})
}

package models

import (
	"encoding/json"
	"strings"
)

// UnsetTime is the placeholder a time picker shows before the user picks a time.
const UnsetTime = "⌛Select Time"

// Task is a single entry of a user's list. ID is assigned by the backend.
type Task struct {
	ID          string `json:"id"`
	TaskName    string `json:"taskName"`
	Time        string `json:"time"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Check       bool   `json:"check"`
}

// Draft is a task that has not been stored yet.
type Draft struct {
	TaskName    string `json:"taskName" yaml:"taskName"`
	Time        string `json:"time" yaml:"time"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
}

// Validate reports the first missing required field.
func (d Draft) Validate() error {
	switch {
	case strings.TrimSpace(d.TaskName) == "":
		return &ValidationError{Field: "taskName"}
	case strings.TrimSpace(d.Type) == "":
		return &ValidationError{Field: "type"}
	case strings.TrimSpace(d.Time) == "" || d.Time == UnsetTime:
		return &ValidationError{Field: "time"}
	}
	return nil
}

// Task builds the stored form of the draft under the given id.
func (d Draft) Task(id string) Task {
	return Task{
		ID:          id,
		TaskName:    d.TaskName,
		Time:        d.Time,
		Type:        d.Type,
		Description: d.Description,
	}
}

// Patch carries the fields of a partial update. Nil fields are left untouched.
type Patch struct {
	TaskName    *string `json:"taskName,omitempty"`
	Time        *string `json:"time,omitempty"`
	Type        *string `json:"type,omitempty"`
	Description *string `json:"description,omitempty"`
	Check       *bool   `json:"check,omitempty"`
}

// CheckPatch is the patch used to toggle completion.
func CheckPatch(value bool) Patch {
	return Patch{Check: &value}
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.TaskName == nil && p.Time == nil && p.Type == nil && p.Description == nil && p.Check == nil
}

// Validate rejects patches that would leave a required field blank.
func (p Patch) Validate() error {
	if p.TaskName != nil && strings.TrimSpace(*p.TaskName) == "" {
		return &ValidationError{Field: "taskName"}
	}
	if p.Type != nil && strings.TrimSpace(*p.Type) == "" {
		return &ValidationError{Field: "type"}
	}
	if p.Time != nil && (strings.TrimSpace(*p.Time) == "" || *p.Time == UnsetTime) {
		return &ValidationError{Field: "time"}
	}
	return nil
}

// Apply merges the patch into t.
func (p Patch) Apply(t Task) Task {
	if p.TaskName != nil {
		t.TaskName = *p.TaskName
	}
	if p.Time != nil {
		t.Time = *p.Time
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Check != nil {
		t.Check = *p.Check
	}
	return t
}

// Fields returns the column assignments of the patch in a fixed order.
func (p Patch) Fields() []Field {
	var fields []Field
	if p.TaskName != nil {
		fields = append(fields, Field{Name: "task_name", Value: *p.TaskName})
	}
	if p.Time != nil {
		fields = append(fields, Field{Name: "time", Value: *p.Time})
	}
	if p.Type != nil {
		fields = append(fields, Field{Name: "type", Value: *p.Type})
	}
	if p.Description != nil {
		fields = append(fields, Field{Name: "description", Value: *p.Description})
	}
	if p.Check != nil {
		fields = append(fields, Field{Name: "check_done", Value: *p.Check})
	}
	return fields
}

// Field is one column assignment of a Patch.
type Field struct {
	Name  string
	Value any
}

// DecodeTask reads a stored record. The key always wins over an id found in the
// payload, and missing fields fall back to their zero values.
func DecodeTask(key string, raw []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return Task{}, err
	}
	t.ID = key
	return t, nil
}

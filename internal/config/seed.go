package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"todo-sync/internal/models"
)

// DefaultSeed is the list a new user starts with when no seed file is set.
func DefaultSeed() []models.Draft {
	return []models.Draft{
		{TaskName: "Test Task", Type: "Test", Time: "09:30 AM", Description: "test"},
	}
}

// LoadSeed reads the seed list from path, or returns DefaultSeed when path is
// empty. Every entry must be a valid draft.
func LoadSeed(path string) ([]models.Draft, error) {
	if path == "" {
		return DefaultSeed(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed []models.Draft
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	for i, d := range seed {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("seed entry %d: %w", i, err)
		}
	}
	return seed, nil
}

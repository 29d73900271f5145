package config

import (
	"fmt"
	"strconv"
)

// ConfigBackend is where persisted settings live between runs.
// macOS keeps them in UserDefaults, other platforms in a YAML file.
// Booleans are stored as strings and parsed by the key table.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

func parseStoredInt(key, s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, nil
}

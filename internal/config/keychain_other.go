//go:build !darwin

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Without a system keychain the API key goes to secrets.yaml under the data
// home, never into config.yaml.
func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "vinochat", "secrets.yaml")
}

func secretKey(service, account string) string {
	return service + "/" + account
}

func keychainGet(service, account string) ([]byte, error) {
	p := secretsFilePath()
	if _, err := os.Stat(p); err != nil {
		return nil, fmt.Errorf("secret store not available: %w", err)
	}
	v, ok, err := newFileBackend(p).GetString(secretKey(service, account))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("secret %s not found", secretKey(service, account))
	}
	return []byte(v), nil
}

func keychainSet(service, account, value string) error {
	return newFileBackend(secretsFilePath()).SetString(secretKey(service, account), value)
}

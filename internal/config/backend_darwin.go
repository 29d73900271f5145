//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.vinochat.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vinochat-data"
	}
	return filepath.Join(home, "Library", "Application Support", "vinochat")
}

// defaultsBackend keeps settings in UserDefaults through the defaults tool.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain}
}

func (b *defaultsBackend) defaults(args ...string) (string, error) {
	full := append([]string{args[0], b.domain}, args[1:]...)
	out, err := exec.Command("defaults", full...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	s, err := b.defaults("read", key)
	if err == nil {
		return s, true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", false, nil
	}
	return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, s)
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := parseStoredInt(key, s)
	return i, true, err
}

func (b *defaultsBackend) SetString(key, val string) error {
	if s, err := b.defaults("write", key, "-string", val); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, s)
	}
	return nil
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	if s, err := b.defaults("write", key, "-int", strconv.Itoa(val)); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, s)
	}
	return nil
}

func (b *defaultsBackend) Delete(key string) error {
	_, err := b.defaults("delete", key)
	return err
}

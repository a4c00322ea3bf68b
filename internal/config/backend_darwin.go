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

// defaultsDomain is the UserDefaults domain holding vquiz settings, so
// `defaults read com.vquiz.app` shows everything set with `vquiz config set`.
const defaultsDomain = "com.vquiz.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return appName + "-data"
	}
	return filepath.Join(home, "Library", "Application Support", appName)
}

func apiKeyHint() string {
	return " or macOS Keychain (service: " + appName + ", account: " + secretAccountKey + ")"
}

type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return defaultsBackend{domain: defaultsDomain}
}

// errNoDefault is how `defaults` reports a missing key: exit status 1.
var errNoDefault = errors.New("no such default")

func (b defaultsBackend) run(verb, key string, args ...string) (string, error) {
	cmdArgs := append([]string{verb, b.domain, key}, args...)
	out, err := exec.Command("defaults", cmdArgs...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err == nil {
		return text, nil
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) && exit.ExitCode() == 1 && verb != "write" {
		return "", errNoDefault
	}
	return "", fmt.Errorf("defaults %s %s: %w (%s)", verb, key, err, text)
}

func (b defaultsBackend) GetString(key string) (string, bool, error) {
	v, err := b.run("read", key)
	if errors.Is(err, errNoDefault) {
		return "", false, nil
	}
	return v, err == nil, err
}

func (b defaultsBackend) GetInt(key string) (int, bool, error) {
	v, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("%s: not an integer: %w", key, err)
	}
	return n, true, nil
}

func (b defaultsBackend) SetString(key, val string) error {
	_, err := b.run("write", key, "-string", val)
	return err
}

func (b defaultsBackend) SetInt(key string, val int) error {
	_, err := b.run("write", key, "-int", strconv.Itoa(val))
	return err
}

func (b defaultsBackend) Delete(key string) error {
	_, err := b.run("delete", key)
	if errors.Is(err, errNoDefault) {
		return nil
	}
	return err
}

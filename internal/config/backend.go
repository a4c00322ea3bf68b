package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// ConfigBackend is where user-set keys persist between runs: UserDefaults
// on macOS, a JSON file under XDG_CONFIG_HOME elsewhere.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// fileBackend keeps keys in one flat JSON object. Numbers are held as
// json.Number so integers round-trip exactly.
type fileBackend struct {
	path   string
	values map[string]any
}

// newFileBackend reads path if it exists. An unreadable file is reported
// and treated as empty so defaults still apply.
func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, values: map[string]any{}}
	if err := b.load(); err != nil {
		slog.Warn("ignoring config file", "path", path, "error", err)
	}
	return b
}

func (b *fileBackend) load() error {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&b.values); err != nil {
		b.values = map[string]any{}
		return fmt.Errorf("parsing: %w", err)
	}
	return nil
}

// save replaces the file atomically so a crash never leaves it truncated.
func (b *fileBackend) save() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.values[key]
	if !ok {
		return "", false, nil
	}
	if s, isString := v.(string); isString {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.values[key]
	if !ok {
		return 0, false, nil
	}
	var (
		n   int64
		err error
	)
	switch v := v.(type) {
	case json.Number:
		n, err = v.Int64()
	case string:
		n, err = strconv.ParseInt(v, 10, 0)
	case int:
		return v, true, nil
	default:
		err = fmt.Errorf("%T is not a number", v)
	}
	if err != nil {
		return 0, true, fmt.Errorf("%s: not an integer: %w", key, err)
	}
	return int(n), true, nil
}

func (b *fileBackend) SetString(key, val string) error {
	b.values[key] = val
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.values[key] = val
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.save()
}

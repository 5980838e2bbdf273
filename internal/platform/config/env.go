package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// envLookup resolves keys with precedence explicit map > process env > .env file.
type envLookup struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func newEnvLookup(options loaderOptions) (envLookup, error) {
	dotenv, err := loadDotEnv(options.envFile)
	if err != nil {
		return envLookup{}, err
	}
	return envLookup{explicit: options.envMap, system: options.useSystemEnv, dotenv: dotenv}, nil
}

func (e envLookup) get(key string) (string, bool) {
	if value, ok := e.explicit[key]; ok {
		return value, true
	}
	if e.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := e.dotenv[key]
	return value, ok
}

func (e envLookup) str(key, fallback string) string {
	if value, ok := e.get(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (e envLookup) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(e.str(key, "")); err == nil {
		return d
	}
	return fallback
}

func (e envLookup) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(e.str(key, "")); err == nil {
		return n
	}
	return fallback
}

// keyValues parses "name=value,other=value" lists. Names are lowercased.
func (e envLookup) keyValues(key string) map[string]string {
	values := make(map[string]string)
	for _, entry := range strings.Split(e.str(key, ""), ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}

// percentMap parses "CODE=10,OTHER=5" into uppercase codes and integer percentages.
func (e envLookup) percentMap(key string) map[string]int {
	values := make(map[string]int)
	for _, entry := range strings.Split(e.str(key, ""), ",") {
		code, raw, ok := strings.Cut(strings.TrimSpace(entry), "=")
		code = strings.ToUpper(strings.TrimSpace(code))
		if !ok || code == "" {
			continue
		}
		percent, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || percent <= 0 || percent >= 100 {
			continue
		}
		values[code] = percent
	}
	return values
}

// EnvironmentValues returns the merged environment using the same precedence as Load, so callers
// can build dependencies such as the secret fetcher before loading.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	dotenv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotenv))
	for k, v := range dotenv {
		values[k] = v
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}

// Package config reads service settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"sprint-board/storage"
)

// Storage reads the table and queue names shared by every service.
func Storage() (connStr string, cfg storage.Config, err error) {
	connStr = os.Getenv("STORAGE_CONNECTION_STRING")
	cfg = storage.Config{
		StoriesTable:    os.Getenv("STORIES_TABLE"),
		SprintsTable:    os.Getenv("SPRINTS_TABLE"),
		DevelopersTable: os.Getenv("DEVELOPERS_TABLE"),
		CommitQueue:     os.Getenv("COMMIT_QUEUE"),
	}
	if connStr == "" || cfg.StoriesTable == "" || cfg.SprintsTable == "" || cfg.DevelopersTable == "" || cfg.CommitQueue == "" {
		return "", storage.Config{}, errors.New("missing storage config")
	}
	cfg.VisibilityTimeout, err = Duration("COMMIT_VISIBILITY_TIMEOUT", 30*time.Second)
	return connStr, cfg, err
}

// Redis parses REDIS_CONNECTION_STRING, accepting either a redis:// URL or
// the "host:port,password=...,ssl=true" form.
func Redis() (*redis.Options, error) {
	conn := os.Getenv("REDIS_CONNECTION_STRING")
	if conn == "" {
		return nil, errors.New("missing redis config")
	}
	return RedisOptions(conn), nil
}

// RedisOptions converts a connection string into client options.
func RedisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

// Duration reads a positive duration, returning def when name is unset.
func Duration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return d, nil
}

// Int reads a positive integer, returning def when name is unset.
func Int(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

// Float reads a non-negative number, returning def when name is unset.
func Float(name string, def float64) (float64, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return f, nil
}

// Debug reports whether DEBUG is set to a true value.
func Debug() bool {
	dbg, err := strconv.ParseBool(os.Getenv("DEBUG"))
	return err == nil && dbg
}

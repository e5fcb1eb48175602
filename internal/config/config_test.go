package config

import (
	"testing"
	"time"
)

func TestRedisOptionsURL(t *testing.T) {
	opts := RedisOptions("redis://:secret@localhost:6380/2")
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestRedisOptionsAzureStyle(t *testing.T) {
	opts := RedisOptions("cache.example.net:6380,password=pw,ssl=True,abortConnect=False")
	if opts.Addr != "cache.example.net:6380" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.Password != "pw" {
		t.Fatalf("unexpected password %q", opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Fatal("expected TLS to be enabled")
	}
}

func TestStorageRequiresAllNames(t *testing.T) {
	t.Setenv("STORAGE_CONNECTION_STRING", "UseDevelopmentStorage=true")
	t.Setenv("STORIES_TABLE", "Stories")
	t.Setenv("SPRINTS_TABLE", "Sprints")
	t.Setenv("DEVELOPERS_TABLE", "")
	t.Setenv("COMMIT_QUEUE", "board-commits")

	if _, _, err := Storage(); err == nil {
		t.Fatal("expected error for missing developers table")
	}

	t.Setenv("DEVELOPERS_TABLE", "Developers")
	t.Setenv("COMMIT_VISIBILITY_TIMEOUT", "45s")
	conn, cfg, err := Storage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn != "UseDevelopmentStorage=true" || cfg.DevelopersTable != "Developers" || cfg.VisibilityTimeout != 45*time.Second {
		t.Fatalf("unexpected config: %q %+v", conn, cfg)
	}
}

func TestNumericReaders(t *testing.T) {
	t.Setenv("X_DUR", "")
	if d, err := Duration("X_DUR", time.Second); err != nil || d != time.Second {
		t.Fatalf("default duration = %v, %v", d, err)
	}
	t.Setenv("X_DUR", "-1s")
	if _, err := Duration("X_DUR", time.Second); err == nil {
		t.Fatal("expected error for negative duration")
	}
	t.Setenv("X_INT", "0")
	if _, err := Int("X_INT", 1); err == nil {
		t.Fatal("expected error for zero")
	}
	t.Setenv("X_FLOAT", "2.5")
	if f, err := Float("X_FLOAT", 0); err != nil || f != 2.5 {
		t.Fatalf("float = %v, %v", f, err)
	}
}

package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestWatcherTriggersOnChange(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	w := Watcher{Path: path, Cooldown: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan GuardConfig, 1)
	if err := w.Start(ctx, func(cfg GuardConfig) {
		select {
		case ch <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Raise the daily cap and rewrite the file.
	updated := strings.Replace(validConfig, "dailyLossCap: 400", "dailyLossCap: 500", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Accounts[0].Limits.DailyLossCap != 500 {
			t.Fatalf("expected reloaded cap 500, got %v", cfg.Accounts[0].Limits.DailyLossCap)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected update callback")
	}
}

func TestWatcherIgnoresInvalidEdit(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	w := Watcher{Path: path, Cooldown: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan GuardConfig, 1)
	if err := w.Start(ctx, func(cfg GuardConfig) {
		select {
		case ch <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Break the config: validation fails, callback never fires.
	broken := strings.Replace(validConfig, "dailyLossCap: 400", "dailyLossCap: -1", 1)
	if err := os.WriteFile(path, []byte(broken), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		t.Fatalf("unexpected callback with config: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherMissingFile(t *testing.T) {
	w := Watcher{Path: "/nonexistent/cfg.yaml"}
	if err := w.Start(context.Background(), nil); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

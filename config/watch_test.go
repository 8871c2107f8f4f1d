package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnConfigChange(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan AppConfig, 1)
	w := &Watcher{ConfigPath: path, Cooldown: time.Millisecond}
	go w.Start(ctx, func(c AppConfig) {
		select {
		case got <- c:
		default:
		}
	})

	// Give the watcher a moment to establish before touching the file.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML+"metricsAddr: \":9100\"\n"), 0644))

	select {
	case cfg := <-got:
		assert.Equal(t, ":9100", cfg.MetricsAddr)
	case <-ctx.Done():
		t.Fatal("watcher did not reload within the timeout")
	}
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan AppConfig, 1)
	w := &Watcher{ConfigPath: path, Cooldown: time.Millisecond}
	go w.Start(ctx, func(c AppConfig) {
		select {
		case got <- c:
		default:
		}
	})

	time.Sleep(200 * time.Millisecond)
	// Broken YAML must not reach the callback.
	require.NoError(t, os.WriteFile(path, []byte("env: [unclosed"), 0644))

	select {
	case cfg := <-got:
		t.Fatalf("invalid config delivered: %+v", cfg)
	case <-ctx.Done():
	}
}

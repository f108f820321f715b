package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, text string) string {
	t.Helper()
	p := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(text), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, used, err := Load(filepath.Join(t.TempDir(), "missing.toml"), true)
	require.NoError(t, err)
	require.True(t, used)
	require.True(t, cfg.Filters.Duplicates.Enabled)
	require.True(t, cfg.Filters.Anomaly.Enabled)
	require.Equal(t, 100, cfg.Filters.Anomaly.Capacity)
	require.InDelta(t, 0.25, cfg.Filters.Anomaly.Threshold, 1e-9)
	require.True(t, cfg.IPFilter.Hostile.Enabled)
	require.Equal(t, time.Hour, cfg.IPFilter.RefreshInterval)

	_, _, err = Load(filepath.Join(t.TempDir(), "missing.toml"), false)
	require.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	p := writeConfig(t, t.TempDir(), `
[log]
level = "debug"
rejection_rate = 5.0
rejection_burst = 10

[log.rejection_levels]
DuplicateFilter = "debug"

[filters.repetitive]
capacity = 16

[ip_filter]
blocked = ["6.6.6.*"]
allowed = ["6.6.6.1"]
refresh_interval = "30m"
workers = 4

[ip_filter.geo]
enabled = true
database_path = "/var/lib/meshguard/geo.csv"
blocked_countries = ["XX"]
cache_ttl = "1m"
`)

	cfg, used, err := Load(p, false)
	require.NoError(t, err)
	require.False(t, used)
	require.Equal(t, DebugLevel, cfg.Log.Level)
	require.Equal(t, DebugLevel, cfg.Log.RejectionLevels["DuplicateFilter"])
	require.Equal(t, 16, cfg.Filters.Repetitive.Capacity)
	require.Equal(t, []string{"6.6.6.*"}, cfg.IPFilter.Blocked)
	require.Equal(t, 30*time.Minute, cfg.IPFilter.RefreshInterval)
	require.Equal(t, 4, cfg.IPFilter.Workers)
	require.Equal(t, time.Minute, cfg.IPFilter.Geo.CacheTTL)
	// Untouched sections keep their defaults.
	require.True(t, cfg.Filters.Duplicates.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		text string
	}{
		{name: "Bad log level", text: "[log]\nlevel = \"loud\"\n"},
		{name: "Rate without burst", text: "[log]\nrejection_rate = 1.0\n"},
		{name: "Log file without size", text: "[log]\nfile = \"meshguard.log\"\nmax_size_mb = 0\n"},
		{name: "Anomaly threshold above one", text: "[filters.anomaly]\nthreshold = 1.5\n"},
		{name: "Negative repetitive capacity", text: "[filters.repetitive]\ncapacity = -1\n"},
		{name: "Keywords enabled without words", text: "[filters.keywords]\nenabled = true\n"},
		{name: "Zero workers", text: "[ip_filter]\nworkers = 0\n"},
		{name: "Geo without database", text: "[ip_filter.geo]\nenabled = true\n"},
		{
			name: "Geo overlapping countries",
			text: "[ip_filter.geo]\nenabled = true\ndatabase_path = \"x\"\nallowed_countries = [\"de\"]\nblocked_countries = [\"DE\"]\n",
		},
		{
			name: "Geo long code",
			text: "[ip_filter.geo]\nenabled = true\ndatabase_path = \"x\"\nblocked_countries = [\"DEU\"]\n",
		},
		{name: "Watched keywords without words", text: "[filters.watched_keywords]\nenabled = true\n"},
		{name: "URN blacklist without entries", text: "[urn_blacklist]\nenabled = true\n"},
		{name: "URN blacklist bad entry", text: "[urn_blacklist]\nenabled = true\nblocked = [\"urn:sha1:nope\"]\n"},
		{name: "Malformed TOML", text: "[log\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := writeConfig(t, t.TempDir(), tc.text)
			_, _, err := Load(p, false)
			require.Error(t, err)
		})
	}
}

func TestProvider(t *testing.T) {
	first := Default()
	p := NewProvider(first)
	require.Same(t, first, p.Current())

	second := Default()
	second.IPFilter.Workers = 9
	p.Store(second)
	require.Same(t, second, p.Current())
	require.Equal(t, 2, first.IPFilter.Workers)
}

func TestStartWatcher_Reloads(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "[filters.repetitive]\ncapacity = 1\n")

	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		StartWatcher(ctx, p, func(cfg *Config) { reloaded <- cfg }, 20*time.Millisecond)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte("[filters.repetitive]\ncapacity = 7\n"), 0o600))

	select {
	case cfg := <-reloaded:
		require.Equal(t, 7, cfg.Filters.Repetitive.Capacity)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload the configuration")
	}

	cancel()
	<-done
}

package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/feed"
	"orderbook_go/internal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *infra.Config {
	t.Helper()
	cfg := infra.DefaultConfig()
	cfg.Feed.Seed = 42
	cfg.Feed.SeedOrders = 5
	cfg.Feed.OpenDelayMS = 1
	cfg.Feed.IntervalMS = 5
	cfg.Feed.JitterMS = 1
	cfg.Journal.Enabled = true
	cfg.Logging.Dir = t.TempDir()
	cfg.API.Addr = "127.0.0.1:0"
	return cfg
}

func TestWire_SeedsEngineAndJournal(t *testing.T) {
	b := NewBootstrap()
	require.NoError(t, b.Wire(testConfig(t), &infra.Metrics{}))
	t.Cleanup(b.Shutdown)

	assert.Equal(t, 5, b.Engine.Len())
	assert.Equal(t, uint64(1), b.Engine.Version())
	assert.Equal(t, 5, b.Generator.InPlay())

	n, err := b.Journal.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n, "one insert record per seeded order")

	assert.Equal(t, domain.StateDisconnected, b.Supervisor.State())

	families, err := b.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "orderbook_live_orders")
	assert.Contains(t, names, "go_goroutines")
}

func TestWire_JournalDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = false

	b := NewBootstrap()
	require.NoError(t, b.Wire(cfg, &infra.Metrics{}))
	t.Cleanup(b.Shutdown)

	assert.Nil(t, b.Journal)
	recs, err := b.Service.AuditTrail("anything")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDialer_Synthetic(t *testing.T) {
	b := NewBootstrap()
	require.NoError(t, b.Wire(testConfig(t), &infra.Metrics{}))
	t.Cleanup(b.Shutdown)

	tr, err := b.Dialer()(context.Background())
	require.NoError(t, err)
	defer tr.Close()

	select {
	case ev := <-tr.Events():
		assert.Equal(t, feed.EventOpened, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no open event from synthetic feed")
	}
}

func TestDialer_WebSocketFailureIsNilTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed.Mode = infra.FeedModeWebSocket
	cfg.Feed.URL = "ws://127.0.0.1:1/feed"
	cfg.Feed.HandshakeSec = 1

	b := NewBootstrap()
	require.NoError(t, b.Wire(cfg, &infra.Metrics{}))
	t.Cleanup(b.Shutdown)

	tr, err := b.Dialer()(context.Background())
	require.Error(t, err)
	assert.Nil(t, tr)
	assert.True(t, domain.IsRetriable(err))
}

func TestRun_SyntheticFeedReachesClients(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.AutoStart = true
	cfg.Engine.DumpOnExit = true
	cfg.Engine.DumpPath = filepath.Join(t.TempDir(), "dump.json")

	b := NewBootstrap()
	require.NoError(t, b.Wire(cfg, &infra.Metrics{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool {
		return b.Supervisor.State() == domain.StateConnected
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return b.Engine.Version() > 1
	}, 5*time.Second, 10*time.Millisecond, "synthetic envelopes applied")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, domain.StateDisconnected, b.Supervisor.State())
	assert.Nil(t, b.Journal, "journal closed on shutdown")

	data, err := os.ReadFile(cfg.Engine.DumpPath)
	require.NoError(t, err)
	var dump struct {
		Version uint64         `json:"version"`
		Orders  []domain.Order `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(data, &dump))
	assert.Greater(t, dump.Version, uint64(1))
}

func TestInitialize_MissingConfigUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	b := NewBootstrap()
	require.NoError(t, b.Initialize(filepath.Join(dir, "missing.yaml")))
	t.Cleanup(b.Shutdown)

	assert.Equal(t, infra.FeedModeSynthetic, b.Config.Feed.Mode)
	assert.True(t, b.Config.Supervisor.AutoStart, "feed starts on boot without a config file")
	assert.NotNil(t, b.Journal, "journal enabled without a config file")
	assert.Equal(t, 20, b.Engine.Len())
	assert.NotNil(t, b.Supervisor)
}

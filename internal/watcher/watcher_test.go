package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diskmesh/internal/topology"
)

func TestReloadLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diskmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("topology:\n  max_cables: 5\n  max_scan_nodes: 50\n"), 0644))

	limits := topology.DefaultLimits()
	reload := ReloadLimits(path, limits, nil)
	reload(context.Background())
	assert.Equal(t, 5, limits.MaxCables())
	assert.Equal(t, 50, limits.MaxScanNodes())

	require.NoError(t, os.WriteFile(path, []byte("topology:\n  max_cables: -3\n"), 0644))
	reload(context.Background())
	assert.Equal(t, 5, limits.MaxCables())
}

func TestWatchDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "diskmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0644))

	var calls atomic.Int32
	w := New(path, func(context.Context) { calls.Add(1) }, nil).WithDebounce(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0644))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

package watcher_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/plume/internal/watcher"
)

func TestWatcher_DebounceMultipleWrites(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "plume.yaml")
	err := os.WriteFile(cfgPath, []byte("log:\n  enabled: false\n"), 0o644)
	require.NoError(t, err, "failed to create test file")

	w, err := watcher.New(watcher.Config{
		FilePath:    cfgPath,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err, "failed to start watcher")

	// Rapid writes should coalesce into a single notification
	for i := 0; i < 10; i++ {
		err := os.WriteFile(cfgPath, []byte(fmt.Sprintf("log:\n  enabled: false # %d\n", i)), 0o644)
		require.NoError(t, err, "failed to write file")
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-onChange:
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}

	// No further notification without further writes
	select {
	case <-onChange:
		t.Fatal("unexpected second notification")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "plume.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("x: 1\n"), 0o644))

	w, err := watcher.New(watcher.Config{
		FilePath:    cfgPath,
		DebounceDur: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("y: 2\n"), 0o644))

	select {
	case <-onChange:
		t.Fatal("unrelated file must not trigger a notification")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_RenameTriggersNotification(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "plume.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("x: 1\n"), 0o644))

	w, err := watcher.New(watcher.Config{
		FilePath:    cfgPath,
		DebounceDur: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err)

	// Atomic-save style: write a temp file, rename over the target.
	tmpPath := filepath.Join(dir, ".plume.yaml.tmp")
	require.NoError(t, os.WriteFile(tmpPath, []byte("x: 2\n"), 0o644))
	require.NoError(t, os.Rename(tmpPath, cfgPath))

	select {
	case <-onChange:
	case <-time.After(time.Second):
		assert.Fail(t, "expected a change notification after rename")
	}
}

package waybar

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/waybar-pulse/internal/snapshot"
)

func TestWatchReemitsOnSnapshotChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), snapshot.FileName)
	store, err := snapshot.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan Entry, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, NewProvider(store, time.Hour), path, func(e Entry) error {
			entries <- e
			return nil
		})
	}()

	select {
	case e := <-entries:
		assert.Equal(t, EntryNotAuthenticated, e.State)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial entry")
	}

	require.NoError(t, store.Save(sample()))

	require.Eventually(t, func() bool {
		select {
		case e := <-entries:
			return e.State == EntryAuthenticated
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchStopsWhenEmitFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), snapshot.FileName)
	store, err := snapshot.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broken := errors.New("stdout closed")
	err = Watch(context.Background(), NewProvider(store, time.Hour), path, func(Entry) error {
		return broken
	})
	assert.ErrorIs(t, err, broken)
}

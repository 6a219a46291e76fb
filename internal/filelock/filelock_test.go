package filelock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_ExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "a.bin.lock")

	first := New(path, time.Second)
	require.NoError(t, first.Lock(context.Background()))
	assert.FileExists(t, path)

	second := New(path, 50*time.Millisecond)
	err := second.Lock(context.Background())
	require.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, first.Unlock())
	require.NoError(t, second.Lock(context.Background()))
	require.NoError(t, second.Unlock())
}

func TestLock_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.lock")

	first := New(path, time.Second)
	require.NoError(t, first.Lock(context.Background()))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = first.Unlock()
	}()

	second := New(path, 2*time.Second)
	require.NoError(t, second.Lock(context.Background()))
	require.NoError(t, second.Unlock())
}

func TestLock_ContextCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.lock")

	first := New(path, time.Second)
	require.NoError(t, first.Lock(context.Background()))
	defer first.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := New(path, time.Minute).Lock(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnlock_Idempotent(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "a.lock"), time.Second)

	require.NoError(t, l.Unlock())
	require.NoError(t, l.Lock(context.Background()))
	require.NoError(t, l.Unlock())
	require.NoError(t, l.Unlock())
}

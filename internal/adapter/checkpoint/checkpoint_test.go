package checkpoint_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/querypanda/internal/adapter/checkpoint"
	"github.com/fairyhunter13/querypanda/internal/domain"
)

// exerciseStore runs the behaviour every CheckpointStore must share.
func exerciseStore(t *testing.T, s domain.CheckpointStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := domain.Checkpoint{LastProcessed: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), Complete: false}
	require.NoError(t, s.Save(ctx, want))
	got, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, want.LastProcessed.Equal(got.LastProcessed))
	assert.False(t, got.Complete)

	want.Complete = true
	require.NoError(t, s.Save(ctx, want))
	got, _, err = s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Complete)

	require.NoError(t, s.Clear(ctx))
	_, ok, err = s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Clear(ctx))
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s := checkpoint.NewFileStore(dir)
	assert.Equal(t, filepath.Join(dir, checkpoint.FileName), s.Path())
	exerciseStore(t, s)
}

func TestFileStore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, checkpoint.FileName), []byte("{not json"), 0o644))
	_, _, err := checkpoint.NewFileStore(dir).Load(context.Background())
	require.ErrorIs(t, err, domain.ErrInternal)
}

func TestFileStore_WritesJSON(t *testing.T) {
	dir := t.TempDir()
	s := checkpoint.NewFileStore(dir)
	require.NoError(t, s.Save(context.Background(), domain.Checkpoint{LastProcessed: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Complete: true}))
	b, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"last_processed":"2024-01-02T00:00:00Z","complete":true}`, string(b))
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	s := checkpoint.NewRedisStore(rdb, "data_output/")
	assert.Equal(t, "querypanda:checkpoint:data_output", s.Key())
	exerciseStore(t, s)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer func() { _ = rdb.Close() }()
	mr.Close()

	s := checkpoint.NewRedisStore(rdb, "out")
	_, _, err = s.Load(context.Background())
	require.ErrorIs(t, err, domain.ErrUnavailable)
	require.ErrorIs(t, s.Save(context.Background(), domain.Checkpoint{}), domain.ErrUnavailable)
}

func TestRedisStore_Corrupt(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	s := checkpoint.NewRedisStore(rdb, "out")
	require.NoError(t, mr.Set(s.Key(), "garbage"))
	_, _, err = s.Load(context.Background())
	require.ErrorIs(t, err, domain.ErrInternal)
}

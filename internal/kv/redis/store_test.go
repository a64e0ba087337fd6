package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/notion-mirror/internal/kv"
)

func TestStoreAgainstMiniredis(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	ctx := context.Background()

	store, err := New(ctx, Config{URL: "redis://" + srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Get(ctx, "inblog:draft")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, store.Set(ctx, "inblog:draft", []byte(`{"payload":null}`)))
	got, err := store.Get(ctx, "inblog:draft")
	require.NoError(t, err)
	require.Equal(t, `{"payload":null}`, string(got))

	raw, err := srv.Get("inblog:draft")
	require.NoError(t, err)
	require.Equal(t, `{"payload":null}`, raw)
}

func TestStoreKeysNeverExpire(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	ctx := context.Background()

	store, err := New(ctx, Config{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Set(ctx, "inblog:published", []byte(`{"payload":{}}`)))
	require.Zero(t, srv.TTL("inblog:published"))

	srv.FastForward(365 * 24 * time.Hour)
	got, err := store.Get(ctx, "inblog:published")
	require.NoError(t, err)
	require.Equal(t, `{"payload":{}}`, string(got))
}

func TestNewRequiresAddress(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, Config{Addr: addr})
	require.Error(t, err)
}

func TestGetReportsServerErrors(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	ctx := context.Background()
	store, err := New(ctx, Config{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv.SetError("ERR boom")
	_, err = store.Get(ctx, "k")
	require.Error(t, err)
	require.NotErrorIs(t, err, kv.ErrNotFound)
}

package publish_test

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/merch-api/internal/publish"
)

func newRedisStore(t *testing.T) (*publish.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return publish.NewRedisStore(client), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	entries := []publish.Snapshot{{BundleID: "b1", BundleName: "Set", BundlePrice: 27, OriginalPrice: 30}}
	require.NoError(t, store.Write(ctx, "shop", "p1", entries))

	got, err := store.Read(ctx, "shop", "p1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "b1", got[0].BundleID)
}

func TestRedisStoreMissingKey(t *testing.T) {
	store, _ := newRedisStore(t)
	got, err := store.Read(context.Background(), "shop", "absent")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRedisStoreEmptyWriteDeletes(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "shop", "p1", []publish.Snapshot{{BundleID: "b1"}}))
	require.NoError(t, store.Write(ctx, "shop", "p1", nil))
	require.False(t, mr.Exists("merch:meta:shop:p1"))
}

func TestRedisStoreCorruptPayload(t *testing.T) {
	store, mr := newRedisStore(t)
	require.NoError(t, mr.Set("merch:meta:shop:p1", "not-json"))

	got, err := store.Read(context.Background(), "shop", "p1")
	require.NoError(t, err)
	require.Empty(t, got)
}

package publish_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/merch-api/internal/bundle"
	"github.com/noah-isme/merch-api/internal/lock"
	"github.com/noah-isme/merch-api/internal/publish"
)

type fakeBundleSource struct {
	bundles map[uuid.UUID]bundle.Bundle
}

func (s fakeBundleSource) GetBundle(_ context.Context, id uuid.UUID) (bundle.Bundle, error) {
	b, ok := s.bundles[id]
	if !ok {
		return bundle.Bundle{}, publish.ErrBundleGone
	}
	return b, nil
}

func newTaskHandler(t *testing.T, store *memStore, src publish.BundleSource) *publish.TaskHandler {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &publish.TaskHandler{
		Bundles:   src,
		Publisher: &publish.Publisher{Store: store, Log: zerolog.Nop()},
		Locker:    lock.Locker{R: client, RetryBackoff: time.Millisecond},
		LockTTL:   time.Second,
		Log:       zerolog.Nop(),
	}
}

func republishTask(t *testing.T, payload publish.RepublishPayload) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(publish.TaskTypeRepublish, body)
}

func TestHandleRepublishFansOut(t *testing.T) {
	b := testBundle()
	store := newMemStore()
	h := newTaskHandler(t, store, fakeBundleSource{bundles: map[uuid.UUID]bundle.Bundle{b.ID: b}})

	task := republishTask(t, publish.RepublishPayload{Shop: b.Shop, BundleID: b.ID.String()})
	require.NoError(t, h.HandleRepublish(context.Background(), task))

	require.Len(t, store.data[b.Shop+"/gid://product/1"], 1)
	require.Len(t, store.data[b.Shop+"/gid://product/2"], 1)
}

func TestHandleRepublishCleansUpGoneBundle(t *testing.T) {
	b := testBundle()
	store := newMemStore()
	key := b.Shop + "/gid://product/1"
	store.data[key] = []publish.Snapshot{{BundleID: b.ID.String()}}
	h := newTaskHandler(t, store, fakeBundleSource{bundles: map[uuid.UUID]bundle.Bundle{}})

	task := republishTask(t, publish.RepublishPayload{
		Shop:               b.Shop,
		BundleID:           b.ID.String(),
		PreviousProductIDs: []string{"gid://product/1"},
	})
	require.NoError(t, h.HandleRepublish(context.Background(), task))
	require.Empty(t, store.data[key])
}

func TestHandleRepublishDeletedPayload(t *testing.T) {
	b := testBundle()
	store := newMemStore()
	key := b.Shop + "/gid://product/2"
	store.data[key] = []publish.Snapshot{{BundleID: b.ID.String()}}
	// The bundle still resolves; Deleted short-circuits to removal anyway.
	h := newTaskHandler(t, store, fakeBundleSource{bundles: map[uuid.UUID]bundle.Bundle{b.ID: b}})

	task := republishTask(t, publish.RepublishPayload{
		Shop:               b.Shop,
		BundleID:           b.ID.String(),
		PreviousProductIDs: []string{"gid://product/2"},
		Deleted:            true,
	})
	require.NoError(t, h.HandleRepublish(context.Background(), task))
	require.Empty(t, store.data[key])
}

func TestHandleRepublishMalformedPayloadSkipsRetry(t *testing.T) {
	store := newMemStore()
	h := newTaskHandler(t, store, fakeBundleSource{})

	bad := asynq.NewTask(publish.TaskTypeRepublish, []byte("{nope"))
	err := h.HandleRepublish(context.Background(), bad)
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)

	badID := republishTask(t, publish.RepublishPayload{Shop: "s", BundleID: "not-a-uuid"})
	err = h.HandleRepublish(context.Background(), badID)
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleRepublishSurfacesSourceErrors(t *testing.T) {
	b := testBundle()
	store := newMemStore()
	h := newTaskHandler(t, store, errBundleSource{err: errors.New("db down")})

	task := republishTask(t, publish.RepublishPayload{Shop: b.Shop, BundleID: b.ID.String()})
	require.Error(t, h.HandleRepublish(context.Background(), task))
}

type errBundleSource struct {
	err error
}

func (s errBundleSource) GetBundle(context.Context, uuid.UUID) (bundle.Bundle, error) {
	return bundle.Bundle{}, s.err
}

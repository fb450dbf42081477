package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/merch-api/internal/bundle"
	"github.com/noah-isme/merch-api/internal/lock"
	"github.com/noah-isme/merch-api/internal/obs"
)

// TaskTypeRepublish identifies the background task that re-runs a bundle's
// metadata fan-out.
const TaskTypeRepublish = "metadata:republish"

// QueuePublish is the asynq queue republish tasks land on.
const QueuePublish = "publish"

// ErrBundleGone signals that the bundle no longer exists; the task handler
// treats it as terminal rather than retryable.
var ErrBundleGone = errors.New("publish: bundle gone")

// RepublishPayload is the serialized body of a republish task.
type RepublishPayload struct {
	Shop               string   `json:"shop"`
	BundleID           string   `json:"bundleId"`
	PreviousProductIDs []string `json:"previousProductIds,omitempty"`
	Deleted            bool     `json:"deleted,omitempty"`
}

// Enqueuer schedules republish tasks.
type Enqueuer struct {
	Client *asynq.Client
	Log    zerolog.Logger
}

// EnqueueRepublish queues a fan-out run for the bundle. Failures are logged
// and returned; callers decide whether to surface them.
func (e *Enqueuer) EnqueueRepublish(ctx context.Context, payload RepublishPayload) error {
	if e == nil || e.Client == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode republish payload: %w", err)
	}
	task := asynq.NewTask(TaskTypeRepublish, body)
	if _, err := e.Client.EnqueueContext(ctx, task,
		asynq.Queue(QueuePublish),
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
	); err != nil {
		e.Log.Error().Err(err).Str("bundle_id", payload.BundleID).Msg("enqueue republish")
		return fmt.Errorf("enqueue republish: %w", err)
	}
	return nil
}

// BundleSource loads authored bundles for the task handler.
type BundleSource interface {
	GetBundle(ctx context.Context, id uuid.UUID) (bundle.Bundle, error)
}

// TaskHandler processes republish tasks. A per-bundle lock serializes
// concurrent fan-outs for the same bundle so interleaved read-modify-write
// cycles cannot clobber each other.
type TaskHandler struct {
	Bundles   BundleSource
	Publisher *Publisher
	Locker    lock.Locker
	LockTTL   time.Duration
	Log       zerolog.Logger
}

// HandleRepublish implements asynq.Handler for TaskTypeRepublish.
func (h *TaskHandler) HandleRepublish(ctx context.Context, t *asynq.Task) error {
	var payload RepublishPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.count("malformed")
		return fmt.Errorf("decode republish payload: %w", asynq.SkipRetry)
	}
	id, err := uuid.Parse(payload.BundleID)
	if err != nil {
		h.count("malformed")
		return fmt.Errorf("parse bundle id %q: %w", payload.BundleID, asynq.SkipRetry)
	}

	lockKey := "merch:lock:republish:" + payload.BundleID
	err = h.Locker.WithLock(ctx, lockKey, h.LockTTL, func(ctx context.Context) error {
		if payload.Deleted {
			return h.Publisher.Remove(ctx, payload.Shop, payload.BundleID, payload.PreviousProductIDs)
		}
		b, err := h.Bundles.GetBundle(ctx, id)
		if err != nil {
			if errors.Is(err, ErrBundleGone) {
				return h.Publisher.Remove(ctx, payload.Shop, payload.BundleID, payload.PreviousProductIDs)
			}
			return err
		}
		return h.Publisher.Sync(ctx, b, payload.PreviousProductIDs)
	})
	if err != nil {
		h.count("failed")
		h.Log.Error().Err(err).Str("bundle_id", payload.BundleID).Msg("republish task")
		return err
	}
	h.count("ok")
	return nil
}

func (h *TaskHandler) count(result string) {
	if obs.RepublishTasksTotal != nil {
		obs.RepublishTasksTotal.WithLabelValues(result).Inc()
	}
}

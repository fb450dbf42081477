package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/merch-api/internal/bundle"
	"github.com/noah-isme/merch-api/internal/events"
)

// ErrNotFound indicates the requested bundle does not exist.
var ErrNotFound = errors.New("repo: not found")

// Schema is the DDL for the authoring store. Applied idempotently at
// startup; the deployment owns real migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS bundles (
	id UUID PRIMARY KEY,
	shop TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'draft',
	priority INT NOT NULL DEFAULT 0,
	discount_kind TEXT NOT NULL DEFAULT 'percentage',
	discount_value TEXT NOT NULL DEFAULT '',
	start_at TIMESTAMPTZ NOT NULL,
	end_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS bundles_shop_status_idx ON bundles (shop, status);

CREATE TABLE IF NOT EXISTS bundle_items (
	bundle_id UUID NOT NULL REFERENCES bundles (id) ON DELETE CASCADE,
	ord INT NOT NULL,
	product_id TEXT NOT NULL,
	variant_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	image TEXT NOT NULL DEFAULT '',
	handle TEXT NOT NULL DEFAULT '',
	price_cents BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (bundle_id, ord)
);

CREATE TABLE IF NOT EXISTS bundle_labels (
	bundle_id UUID NOT NULL REFERENCES bundles (id) ON DELETE CASCADE,
	ord INT NOT NULL,
	label_id UUID NOT NULL,
	text TEXT NOT NULL,
	icon TEXT NOT NULL DEFAULT '',
	bg_color TEXT NOT NULL DEFAULT '',
	text_color TEXT NOT NULL DEFAULT '',
	shape TEXT NOT NULL DEFAULT 'rounded',
	anchor TEXT NOT NULL DEFAULT 'top-left',
	priority INT NOT NULL DEFAULT 0,
	show_on_pdp BOOLEAN NOT NULL DEFAULT TRUE,
	show_on_collection BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (bundle_id, ord)
);

CREATE TABLE IF NOT EXISTS domain_events (
	id UUID PRIMARY KEY,
	topic TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	payload JSONB NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store persists bundles and domain events in Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// EnsureSchema applies the DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// GetBundle loads one bundle with its items and labels.
func (s *Store) GetBundle(ctx context.Context, id uuid.UUID) (bundle.Bundle, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, shop, name, description, status, priority,
		       discount_kind, discount_value, start_at, end_at
		FROM bundles WHERE id = $1`, id)
	b, err := scanBundle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bundle.Bundle{}, ErrNotFound
		}
		return bundle.Bundle{}, fmt.Errorf("get bundle: %w", err)
	}
	if err := s.attachChildren(ctx, map[uuid.UUID]*bundle.Bundle{b.ID: &b}); err != nil {
		return bundle.Bundle{}, err
	}
	return b, nil
}

// ListActiveBundles returns the bundles visible to storefront readers:
// status active, scheduling window containing now, highest priority first.
func (s *Store) ListActiveBundles(ctx context.Context, shop string, now time.Time) ([]bundle.Bundle, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, shop, name, description, status, priority,
		       discount_kind, discount_value, start_at, end_at
		FROM bundles
		WHERE shop = $1 AND status = 'active'
		  AND start_at <= $2 AND (end_at IS NULL OR end_at >= $2)
		ORDER BY priority DESC, id`, shop, now)
	if err != nil {
		return nil, fmt.Errorf("list active bundles: %w", err)
	}
	defer rows.Close()

	var out []bundle.Bundle
	byID := map[uuid.UUID]*bundle.Bundle{}
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bundle: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active bundles: %w", err)
	}
	for i := range out {
		byID[out[i].ID] = &out[i]
	}
	if err := s.attachChildren(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertBundle writes the bundle and replaces its items and labels in one
// transaction. It returns the product ids the bundle referenced before the
// write, which the publisher diffs against the new membership.
func (s *Store) UpsertBundle(ctx context.Context, b bundle.Bundle) ([]string, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	previous, err := productIDsTx(ctx, tx, b.ID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO bundles (id, shop, name, description, status, priority,
		                     discount_kind, discount_value, start_at, end_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			shop = EXCLUDED.shop,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			discount_kind = EXCLUDED.discount_kind,
			discount_value = EXCLUDED.discount_value,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			updated_at = now()`,
		b.ID, b.Shop, b.Name, b.Description, string(b.Status), b.Priority,
		string(b.Rule.Kind), b.Rule.Value, b.Window.StartAt, b.Window.EndAt,
	); err != nil {
		return nil, fmt.Errorf("upsert bundle: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM bundle_items WHERE bundle_id = $1`, b.ID); err != nil {
		return nil, fmt.Errorf("clear bundle items: %w", err)
	}
	for i, it := range b.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO bundle_items (bundle_id, ord, product_id, variant_id, title, image, handle, price_cents)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			b.ID, i, it.ProductID, it.VariantID, it.Title, it.Image, it.Handle, toCents(it.Price),
		); err != nil {
			return nil, fmt.Errorf("insert bundle item: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM bundle_labels WHERE bundle_id = $1`, b.ID); err != nil {
		return nil, fmt.Errorf("clear bundle labels: %w", err)
	}
	for i, l := range b.Labels {
		if _, err := tx.Exec(ctx, `
			INSERT INTO bundle_labels (bundle_id, ord, label_id, text, icon, bg_color, text_color,
			                           shape, anchor, priority, show_on_pdp, show_on_collection)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			b.ID, i, l.ID, l.Text, l.Icon, l.BgColor, l.TextColor,
			l.Shape, l.AnchorPosition(), l.Priority, l.ShowOnPDP, l.ShowOnCollection,
		); err != nil {
			return nil, fmt.Errorf("insert bundle label: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return previous, nil
}

// DeleteBundle removes the bundle and returns the product ids it referenced
// so the publisher can strip stale metadata.
func (s *Store) DeleteBundle(ctx context.Context, shop string, id uuid.UUID) ([]string, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	productIDs, err := productIDsTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM bundles WHERE id = $1 AND shop = $2`, id, shop)
	if err != nil {
		return nil, fmt.Errorf("delete bundle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	return productIDs, nil
}

// InsertDomainEvent implements events.EventStore.
func (s *Store) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	ev := events.Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO domain_events (id, topic, aggregate_id, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING occurred_at`,
		ev.ID, ev.Topic, ev.AggregateID, ev.Payload)
	if err := row.Scan(&ev.OccurredAt); err != nil {
		return events.Event{}, fmt.Errorf("insert domain event: %w", err)
	}
	return ev, nil
}

func (s *Store) attachChildren(ctx context.Context, byID map[uuid.UUID]*bundle.Bundle) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	itemRows, err := s.Pool.Query(ctx, `
		SELECT bundle_id, product_id, variant_id, title, image, handle, price_cents
		FROM bundle_items WHERE bundle_id = ANY($1) ORDER BY bundle_id, ord`, ids)
	if err != nil {
		return fmt.Errorf("list bundle items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var (
			bundleID uuid.UUID
			it       bundle.Item
			cents    int64
		)
		if err := itemRows.Scan(&bundleID, &it.ProductID, &it.VariantID, &it.Title, &it.Image, &it.Handle, &cents); err != nil {
			return fmt.Errorf("scan bundle item: %w", err)
		}
		it.Price = decimal.New(cents, -2)
		if b, ok := byID[bundleID]; ok {
			b.Items = append(b.Items, it)
		}
	}
	if err := itemRows.Err(); err != nil {
		return fmt.Errorf("list bundle items: %w", err)
	}

	labelRows, err := s.Pool.Query(ctx, `
		SELECT bundle_id, label_id, text, icon, bg_color, text_color,
		       shape, anchor, priority, show_on_pdp, show_on_collection
		FROM bundle_labels WHERE bundle_id = ANY($1) ORDER BY bundle_id, ord`, ids)
	if err != nil {
		return fmt.Errorf("list bundle labels: %w", err)
	}
	defer labelRows.Close()
	for labelRows.Next() {
		var (
			bundleID uuid.UUID
			l        bundle.Label
		)
		if err := labelRows.Scan(&bundleID, &l.ID, &l.Text, &l.Icon, &l.BgColor, &l.TextColor,
			&l.Shape, &l.Position, &l.Priority, &l.ShowOnPDP, &l.ShowOnCollection); err != nil {
			return fmt.Errorf("scan bundle label: %w", err)
		}
		if b, ok := byID[bundleID]; ok {
			b.Labels = append(b.Labels, l)
		}
	}
	if err := labelRows.Err(); err != nil {
		return fmt.Errorf("list bundle labels: %w", err)
	}
	return nil
}

func productIDsTx(ctx context.Context, tx pgx.Tx, bundleID uuid.UUID) ([]string, error) {
	rows, err := tx.Query(ctx, `SELECT product_id FROM bundle_items WHERE bundle_id = $1 ORDER BY ord`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("list member products: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("scan member product: %w", err)
		}
		out = append(out, pid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list member products: %w", err)
	}
	return out, nil
}

func scanBundle(row pgx.Row) (bundle.Bundle, error) {
	var (
		b      bundle.Bundle
		status string
		kind   string
	)
	if err := row.Scan(&b.ID, &b.Shop, &b.Name, &b.Description, &status, &b.Priority,
		&kind, &b.Rule.Value, &b.Window.StartAt, &b.Window.EndAt); err != nil {
		return bundle.Bundle{}, err
	}
	b.Status = bundle.Status(status)
	b.Rule.Kind = bundle.DiscountKind(kind)
	return b, nil
}

func toCents(price decimal.Decimal) int64 {
	return price.Round(2).Shift(2).IntPart()
}

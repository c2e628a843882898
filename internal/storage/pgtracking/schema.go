package pgtracking

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		// orders принадлежат внешнему магазину; трекинг читает их и меняет только статус.
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  customer_name TEXT NOT NULL DEFAULT '',
  customer_email TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  rated BOOLEAN NOT NULL DEFAULT false,
  tracking_courier TEXT NOT NULL DEFAULT '',
  tracking_number TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS trackings (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  courier TEXT NOT NULL,
  tracking_number TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL,
  mode TEXT NOT NULL,
  source TEXT NOT NULL,
  external_meta JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_trackings_order_id ON trackings(order_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trackings_due ON trackings(updated_at) WHERE mode = 'auto'`,
		`
CREATE TABLE IF NOT EXISTS tracking_checkpoints (
  tracking_id BIGINT NOT NULL REFERENCES trackings(id) ON DELETE CASCADE,
  seq INT NOT NULL,
  status TEXT NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  event_time TIMESTAMPTZ NOT NULL,
  proof_url TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (tracking_id, seq)
)`,
		// Один и тот же статус с тем же временем дважды в историю не попадает.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_checkpoints_dedup ON tracking_checkpoints(tracking_id, status, event_time)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}

package pgtracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const trackingColumns = `
  id, order_id, courier, tracking_number,
  status, mode, source, external_meta,
  created_at, updated_at`

// querier: общий интерфейс пула и транзакции.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CreateTracking сохраняет запись вместе с начальной историей.
// Статус берётся из последней точки истории.
func (s *Storage) CreateTracking(ctx context.Context, t *models.Tracking) (*models.Tracking, error) {
	if t == nil || len(t.History) == 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "tracking without history")
	}
	now := time.Now().UTC()
	meta, err := marshalMeta(t.ExternalMeta)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	err = tx.QueryRow(ctx, `
INSERT INTO trackings (
  order_id, courier, tracking_number, status, mode, source, external_meta, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
RETURNING id
`, t.OrderID, t.Courier, t.TrackingNumber, t.History[len(t.History)-1].Status, t.Mode, t.Source, meta, now).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, errors.Wrap(models.ErrNotFound, "order")
		}
		return nil, errors.Wrap(err, "insert tracking")
	}

	if err := insertCheckpoints(ctx, tx, id, 0, t.History); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return s.GetTracking(ctx, id)
}

func (s *Storage) GetTracking(ctx context.Context, id uint64) (*models.Tracking, error) {
	return getTracking(ctx, s.db, `WHERE id = $1`, id)
}

func (s *Storage) GetTrackingByNumber(ctx context.Context, number string) (*models.Tracking, error) {
	return getTracking(ctx, s.db, `WHERE tracking_number = $1`, number)
}

// GetLatestTrackingForOrder возвращает активный (последний созданный) трек заказа.
func (s *Storage) GetLatestTrackingForOrder(ctx context.Context, orderID uint64) (*models.Tracking, error) {
	return getTracking(ctx, s.db, `WHERE order_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, orderID)
}

// ListDueTrackings отдаёт auto-треки в нетерминальном статусе, давно не обновлявшиеся первыми.
func (s *Storage) ListDueTrackings(ctx context.Context, limit int) ([]*models.Tracking, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
SELECT`+trackingColumns+`
FROM trackings
WHERE mode = $1
  AND status <> ALL($2)
ORDER BY updated_at ASC, id ASC
LIMIT $3
`, models.TrackingModeAuto, []string{models.TrackingStatusDelivered, models.TrackingStatusException}, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due trackings")
	}
	defer rows.Close()

	var out []*models.Tracking
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan due tracking")
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	for _, t := range out {
		if t.History, err = listCheckpoints(ctx, s.db, t.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AppendCheckpoints дописывает точки в хвост истории, только если в базе
// по-прежнему ровно expectedLen точек. Иначе ErrConflict и ничего не пишется.
// meta мёржится в external_meta (nil: без изменений).
func (s *Storage) AppendCheckpoints(ctx context.Context, id uint64, expectedLen int, cps []models.Checkpoint, meta map[string]any) (*models.Tracking, error) {
	if len(cps) == 0 && meta == nil {
		return s.GetTracking(ctx, id)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Блокировка строки сериализует конкурентные append по одному треку.
	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM trackings WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock tracking")
	}

	var have int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM tracking_checkpoints WHERE tracking_id = $1`, id).Scan(&have); err != nil {
		return nil, errors.Wrap(err, "count checkpoints")
	}
	if have != expectedLen {
		return nil, models.ErrConflict
	}

	if err := insertCheckpoints(ctx, tx, id, expectedLen, cps); err != nil {
		return nil, err
	}
	if len(cps) > 0 {
		status = cps[len(cps)-1].Status
	}

	patch, err := marshalMeta(meta)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
UPDATE trackings
SET status = $2,
    external_meta = external_meta || $3::jsonb,
    updated_at = now()
WHERE id = $1
`, id, status, patch); err != nil {
		return nil, errors.Wrap(err, "update tracking")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return s.GetTracking(ctx, id)
}

func insertCheckpoints(ctx context.Context, tx pgx.Tx, trackingID uint64, startSeq int, cps []models.Checkpoint) error {
	now := time.Now().UTC()
	for i, cp := range cps {
		_, err := tx.Exec(ctx, `
INSERT INTO tracking_checkpoints (
  tracking_id, seq, status, message, location, event_time, proof_url, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, trackingID, startSeq+i, cp.Status, cp.Message, cp.Location, cp.Timestamp.UTC(), cp.ProofURL, now)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return models.ErrConflict
			}
			return errors.Wrap(err, "insert checkpoint")
		}
	}
	return nil
}

func getTracking(ctx context.Context, q querier, where string, arg any) (*models.Tracking, error) {
	row := q.QueryRow(ctx, `SELECT`+trackingColumns+` FROM trackings `+where, arg)
	t, err := scanTracking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select tracking")
	}

	if t.History, err = listCheckpoints(ctx, q, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

func listCheckpoints(ctx context.Context, q querier, trackingID uint64) ([]models.Checkpoint, error) {
	rows, err := q.Query(ctx, `
SELECT seq, status, message, location, event_time, proof_url
FROM tracking_checkpoints
WHERE tracking_id = $1
ORDER BY seq ASC
`, trackingID)
	if err != nil {
		return nil, errors.Wrap(err, "select checkpoints")
	}
	defer rows.Close()

	out := []models.Checkpoint{}
	for rows.Next() {
		var cp models.Checkpoint
		if err := rows.Scan(&cp.Seq, &cp.Status, &cp.Message, &cp.Location, &cp.Timestamp, &cp.ProofURL); err != nil {
			return nil, errors.Wrap(err, "scan checkpoint")
		}
		cp.Timestamp = cp.Timestamp.UTC()
		out = append(out, cp)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanTracking(row pgx.Row) (*models.Tracking, error) {
	var t models.Tracking
	var meta []byte
	if err := row.Scan(
		&t.ID, &t.OrderID, &t.Courier, &t.TrackingNumber,
		&t.Status, &t.Mode, &t.Source, &meta,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.ExternalMeta); err != nil {
			return nil, errors.Wrap(err, "decode external_meta")
		}
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func marshalMeta(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode external_meta")
	}
	return b, nil
}

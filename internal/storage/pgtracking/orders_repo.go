package pgtracking

import (
	"context"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const orderColumns = `
  id, user_id, customer_name, customer_email, status, rated,
  tracking_courier, tracking_number, created_at, updated_at`

// CreateOrder нужен для сидирования; в проде заказы создаёт магазин.
func (s *Storage) CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	now := time.Now().UTC()
	status := o.Status
	if status == "" {
		status = models.OrderStatusPending
	}

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO orders (user_id, customer_name, customer_email, status, rated, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
RETURNING id
`, o.UserID, o.CustomerName, o.CustomerEmail, status, o.Rated, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}
	return s.GetOrder(ctx, id)
}

func (s *Storage) GetOrder(ctx context.Context, id uint64) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

// MarkOrderShipped переводит заказ в Shipped и запоминает данные трека.
// Доставленный или отменённый заказ не трогаем.
func (s *Storage) MarkOrderShipped(ctx context.Context, id uint64, courier, number string) (*models.Order, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE orders
SET status = CASE WHEN status IN ($2, $3) THEN status ELSE $4 END,
    tracking_courier = $5,
    tracking_number = $6,
    updated_at = now()
WHERE id = $1
`, id, models.OrderStatusDelivered, models.OrderStatusCancelled, models.OrderStatusShipped, courier, number)
	if err != nil {
		return nil, errors.Wrap(err, "mark order shipped")
	}
	if tag.RowsAffected() == 0 {
		return nil, models.ErrNotFound
	}
	return s.GetOrder(ctx, id)
}

// MarkOrderDelivered: условный апдейт: changed=true только у того вызова,
// который реально перевёл заказ в Delivered.
func (s *Storage) MarkOrderDelivered(ctx context.Context, id uint64) (bool, *models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `
UPDATE orders
SET status = $2, updated_at = now()
WHERE id = $1 AND status NOT IN ($2, $3)
RETURNING`+orderColumns,
		id, models.OrderStatusDelivered, models.OrderStatusCancelled))
	if err == nil {
		return true, o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, nil, errors.Wrap(err, "mark order delivered")
	}

	o, err = s.GetOrder(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return false, o, nil
}

// ListUnprojectedDeliveries: заказы, чей последний трек уже Delivered,
// а сам заказ ещё нет (проекция упала после записи доставки).
func (s *Storage) ListUnprojectedDeliveries(ctx context.Context, limit int) ([]uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
SELECT o.id
FROM orders o
JOIN LATERAL (
  SELECT t.status FROM trackings t
  WHERE t.order_id = o.id
  ORDER BY t.created_at DESC, t.id DESC
  LIMIT 1
) lt ON true
WHERE lt.status = $1
  AND o.status NOT IN ($2, $3)
ORDER BY o.updated_at ASC, o.id ASC
LIMIT $4
`, models.TrackingStatusDelivered, models.OrderStatusDelivered, models.OrderStatusCancelled, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select unprojected deliveries")
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan order id")
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return ids, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	if err := row.Scan(
		&o.ID, &o.UserID, &o.CustomerName, &o.CustomerEmail, &o.Status, &o.Rated,
		&o.TrackingCourier, &o.TrackingNumber, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

package projector

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/BearBump/ShipTrack/internal/broker/messages"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	MarkOrderDelivered(ctx context.Context, id uint64) (bool, *models.Order, error)
}

type TokenIssuer interface {
	Mint(orderID, userID uint64) (string, time.Time, error)
}

type Notifier interface {
	Send(ctx context.Context, n messages.Notification) error
}

// Projection: итог переноса статуса доставки на заказ.
type Projection struct {
	Changed     bool
	Order       *models.Order
	RatingToken string
}

// Projector переводит заказ в Delivered, когда его трек доставлен.
// Выпуск токена и уведомление происходят только у вызова, который реально
// поменял заказ, поэтому повторные вызовы ничего не дублируют.
type Projector struct {
	repo       Repository
	tokens     TokenIssuer
	notifier   Notifier
	ratingLink string
}

func New(repo Repository, tokens TokenIssuer, notifier Notifier, ratingLink string) *Projector {
	return &Projector{repo: repo, tokens: tokens, notifier: notifier, ratingLink: ratingLink}
}

func (p *Projector) Project(ctx context.Context, orderID uint64) (Projection, error) {
	changed, order, err := p.repo.MarkOrderDelivered(ctx, orderID)
	if err != nil {
		return Projection{}, errors.Wrap(err, "mark order delivered")
	}
	if !changed {
		// уже Delivered или Cancelled
		return Projection{Order: order}, nil
	}

	res := Projection{Changed: true, Order: order}
	params := map[string]string{
		"order_id":      strconv.FormatUint(order.ID, 10),
		"customer_name": order.CustomerName,
	}

	if p.tokens != nil {
		tok, exp, err := p.tokens.Mint(order.ID, order.UserID)
		if err != nil {
			slog.Error("mint rating token", "order_id", order.ID, "error", err.Error())
		} else {
			res.RatingToken = tok
			params["rating_link"] = p.link(tok)
			params["rating_expires_at"] = exp.UTC().Format(time.RFC3339)
		}
	}

	if p.notifier == nil {
		return res, nil
	}
	if order.CustomerEmail == "" {
		slog.Warn("order has no email, delivered notification skipped", "order_id", order.ID)
		return res, nil
	}
	err = p.notifier.Send(ctx, messages.Notification{
		Recipient: order.CustomerEmail,
		Template:  messages.TemplateOrderDelivered,
		Params:    params,
	})
	if err != nil {
		slog.Error("send delivered notification", "order_id", order.ID, "error", err.Error())
	}
	return res, nil
}

func (p *Projector) link(token string) string {
	if p.ratingLink == "" {
		return token
	}
	u, err := url.Parse(p.ratingLink)
	if err != nil {
		return p.ratingLink + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

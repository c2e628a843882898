package identity

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Claims выдаёт внешний провайдер авторизации, здесь они только проверяются.
type Claims struct {
	jwt.RegisteredClaims
	UserID  uint64 `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

type Viewer struct {
	UserID  uint64
	IsAdmin bool
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// FromAuthorization разбирает заголовок "Bearer <jwt>".
func (v *Verifier) FromAuthorization(header string) (Viewer, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return Viewer{}, ErrUnauthenticated
	}

	tok, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthenticated
		}
		return v.secret, nil
	})
	if err != nil {
		return Viewer{}, errors.Wrap(ErrUnauthenticated, err.Error())
	}
	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || c.UserID == 0 {
		return Viewer{}, ErrUnauthenticated
	}
	return Viewer{UserID: c.UserID, IsAdmin: c.IsAdmin}, nil
}

// Sign используется тестами и локальной отладкой.
func Sign(secret string, v Viewer, ttl time.Duration) (string, error) {
	now := time.Now()
	c := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:  v.UserID,
		IsAdmin: v.IsAdmin,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "sign identity token")
	}
	return s, nil
}

type ctxKey struct{}

func WithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, ctxKey{}, v)
}

func FromContext(ctx context.Context) (Viewer, bool) {
	v, ok := ctx.Value(ctxKey{}).(Viewer)
	return v, ok
}

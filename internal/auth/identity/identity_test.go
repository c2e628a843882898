package identity

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestVerifier_FromAuthorization(t *testing.T) {
	tok, err := Sign("s3cret", Viewer{UserID: 5, IsAdmin: true}, time.Minute)
	require.NoError(t, err)

	v, err := NewVerifier("s3cret").FromAuthorization("Bearer " + tok)
	require.NoError(t, err)
	require.Equal(t, Viewer{UserID: 5, IsAdmin: true}, v)
}

func TestVerifier_Rejects(t *testing.T) {
	good, err := Sign("s3cret", Viewer{UserID: 5}, time.Minute)
	require.NoError(t, err)
	expired, err := Sign("s3cret", Viewer{UserID: 5}, -time.Minute)
	require.NoError(t, err)
	noUser, err := Sign("s3cret", Viewer{}, time.Minute)
	require.NoError(t, err)

	ver := NewVerifier("s3cret")
	for name, h := range map[string]string{
		"empty":        "",
		"no bearer":    good,
		"bad secret":   "Bearer " + mustSign(t, "other"),
		"expired":      "Bearer " + expired,
		"missing user": "Bearer " + noUser,
		"garbage":      "Bearer abc.def.ghi",
	} {
		_, err := ver.FromAuthorization(h)
		require.Truef(t, errors.Is(err, ErrUnauthenticated), "case %s: %v", name, err)
	}
}

func TestViewerContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	ctx := WithViewer(context.Background(), Viewer{UserID: 3})
	v, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, uint64(3), v.UserID)
}

func mustSign(t *testing.T, secret string) string {
	t.Helper()
	s, err := Sign(secret, Viewer{UserID: 1}, time.Minute)
	require.NoError(t, err)
	return s
}

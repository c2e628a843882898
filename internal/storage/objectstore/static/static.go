// Package static resolves proof artifacts to files served by the backend
// itself under /proof/. Used when no S3-compatible store is configured.
package static

import (
	"context"
	"path"
	"strings"

	"github.com/pkg/errors"
)

type Store struct {
	backendURL string
}

func New(backendURL string) *Store {
	return &Store{backendURL: strings.TrimRight(backendURL, "/")}
}

// Upload does not copy anything: the artifact is expected to be served by
// the backend already. The returned URI is always absolute.
func (s *Store) Upload(ctx context.Context, source, folder string) (string, error) {
	_ = folder
	if s.backendURL == "" {
		return "", errors.New("backend url is not configured")
	}
	name := path.Base(strings.ReplaceAll(source, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "", errors.Errorf("invalid proof source %q", source)
	}
	return s.backendURL + "/proof/" + name, nil
}

// Absolute приводит сохранённую ссылку на доказательство к абсолютному URI.
// http(s)-ссылки возвращаются как есть.
func (s *Store) Absolute(raw string) string {
	if raw == "" || strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	u, err := s.Upload(context.Background(), raw, "")
	if err != nil {
		return raw
	}
	return u
}

package s3store

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func newTestStore(p putter) *Store {
	return &Store{
		client:        p,
		bucket:        "proofs",
		publicBaseURL: "https://cdn.example/proofs",
		httpc:         http.DefaultClient,
	}
}

func TestNew_Validate(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{Bucket: "b"})
	require.Error(t, err)

	s, err := New(Config{Bucket: "b", AccessKey: "a", SecretKey: "s", Endpoint: "minio:9000", UsePathStyle: true})
	require.NoError(t, err)
	require.Equal(t, "https://minio:9000/b", s.publicBaseURL)
}

func TestStore_Upload_RemoteSource(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer src.Close()

	p := &fakePutter{}
	s := newTestStore(p)

	u, err := s.Upload(context.Background(), src.URL+"/sample.jpg?x=1", "tracking_proofs/42")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/proofs/tracking_proofs/42/sample.jpg", u)
	require.Equal(t, "proofs", *p.in.Bucket)
	require.Equal(t, "tracking_proofs/42/sample.jpg", *p.in.Key)
	require.Equal(t, "image/jpeg", *p.in.ContentType)
	require.Equal(t, []byte("jpeg-bytes"), p.body)
}

func TestStore_Upload_LocalFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "proof.png")
	require.NoError(t, os.WriteFile(f, []byte("png"), 0o600))

	p := &fakePutter{}
	u, err := newTestStore(p).Upload(context.Background(), f, "tracking_proofs")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/proofs/tracking_proofs/proof.png", u)
	require.Equal(t, "image/png", *p.in.ContentType)
}

func TestStore_Upload_Errors(t *testing.T) {
	s := newTestStore(&fakePutter{})
	_, err := s.Upload(context.Background(), "", "x")
	require.Error(t, err)

	_, err = s.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"), "x")
	require.Error(t, err)

	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer src.Close()
	_, err = s.Upload(context.Background(), src.URL+"/a.jpg", "x")
	require.Error(t, err)

	dir := t.TempDir()
	f := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))
	_, err = newTestStore(&fakePutter{err: errors.New("denied")}).Upload(context.Background(), f, "x")
	require.Error(t, err)
}

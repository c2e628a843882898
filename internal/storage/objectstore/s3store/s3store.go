// Package s3store uploads proof-of-delivery artifacts to any S3-compatible
// object store (AWS S3, MinIO, RustFS) and returns their public URL.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
)

type Config struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	PublicBaseURL string
}

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Store struct {
	client        putter
	raw           *s3.Client
	bucket        string
	publicBaseURL string
	httpc         *http.Client
}

func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("storage credentials are required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:9000"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, errors.Wrap(err, "aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = endpoint + "/" + cfg.Bucket
	}

	return &Store{
		client:        client,
		raw:           client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(publicBase, "/"),
		httpc:         &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	_, err := s.raw.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return errors.Wrap(err, "head bucket")
	}

	slog.Info("creating proof bucket", "bucket", s.bucket)
	_, err = s.raw.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return errors.Wrap(err, "create bucket")
	}
	return nil
}

// Upload copies source (http(s) URL or local file path) into folder and
// returns the absolute public URL of the stored object.
func (s *Store) Upload(ctx context.Context, source, folder string) (string, error) {
	data, contentType, err := s.read(ctx, source)
	if err != nil {
		return "", err
	}

	name := path.Base(strings.SplitN(source, "?", 2)[0])
	key := strings.Trim(path.Join(folder, name), "/")

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errors.Wrap(err, "put object")
	}
	return s.publicBaseURL + "/" + key, nil
}

func (s *Store) read(ctx context.Context, source string) ([]byte, string, error) {
	if source == "" {
		return nil, "", errors.New("proof source is empty")
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, "", errors.Wrap(err, "new request")
		}
		resp, err := s.httpc.Do(req)
		if err != nil {
			return nil, "", errors.Wrap(err, "download proof source")
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return nil, "", fmt.Errorf("download proof source: http %d", resp.StatusCode)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", errors.Wrap(err, "read proof source")
		}
		ct := resp.Header.Get("Content-Type")
		if ct == "" {
			ct = contentTypeOf(source)
		}
		return b, ct, nil
	}

	b, err := os.ReadFile(source)
	if err != nil {
		return nil, "", errors.Wrap(err, "read proof file")
	}
	return b, contentTypeOf(source), nil
}

func contentTypeOf(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

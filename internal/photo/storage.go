package photo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/calderaware/refinery/internal/config"
)

// ObjectStore abstracts the bucket photos are uploaded to.
type ObjectStore interface {
	// Put uploads body under key and returns the public reference.
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	// Delete removes the object behind a reference. Best effort; the
	// record's photo list stays the source of truth either way.
	Delete(ctx context.Context, ref string) error
	// Trusted reports whether ref points inside this store. Untrusted
	// references are dropped before they reach a record.
	Trusted(ref string) bool
}

// NewStore initialises the configured object store (s3 or memory).
func NewStore(cfg config.Config, logger *zap.Logger) (ObjectStore, error) {
	switch cfg.Storage.Driver {
	case "memory":
		if logger != nil {
			logger.Info("object storage using in-memory store")
		}
		return NewMemoryStore(), nil
	case "s3":
		return newS3Store(cfg.Storage)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

// s3Store uploads to an S3-compatible bucket (AWS S3 or MinIO).
type s3Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

func newS3Store(cfg config.Storage) (*s3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &s3Store{client: client, bucket: cfg.Bucket, baseURL: cfg.BaseURL}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", err
	}
	return s.baseURL + "/" + key, nil
}

func (s *s3Store) Delete(ctx context.Context, ref string) error {
	key, ok := s.keyFor(ref)
	if !ok {
		return fmt.Errorf("reference %q is outside bucket %s", ref, s.bucket)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (s *s3Store) Trusted(ref string) bool {
	_, ok := s.keyFor(ref)
	return ok
}

func (s *s3Store) keyFor(ref string) (string, bool) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(ref, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(ref, prefix)
	if key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

// MemoryStore is an in-process ObjectStore for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// FailPuts and FailDeletes force errors for the next n calls.
	FailPuts    int
	FailDeletes int
}

const memoryBaseURL = "memory://photos"

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPuts > 0 {
		m.FailPuts--
		return "", fmt.Errorf("put %s: forced failure", key)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", err
	}
	m.objects[key] = buf.Bytes()
	return memoryBaseURL + "/" + key, nil
}

func (m *MemoryStore) Delete(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDeletes > 0 {
		m.FailDeletes--
		return fmt.Errorf("delete %s: forced failure", ref)
	}
	delete(m.objects, strings.TrimPrefix(ref, memoryBaseURL+"/"))
	return nil
}

func (m *MemoryStore) Trusted(ref string) bool {
	return strings.HasPrefix(ref, memoryBaseURL+"/")
}

// Len reports the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

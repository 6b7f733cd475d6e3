package feedarchive

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const (
	DriverS3     = "s3"
	DriverMemory = "memory"

	defaultMaxGetSize int64 = 16 << 20
)

var (
	ErrInvalidConfig = errors.New("feedarchive: invalid config")
	ErrInvalidInput  = errors.New("feedarchive: invalid input")
	ErrNotFound      = errors.New("feedarchive: not found")
	ErrTooLarge      = errors.New("feedarchive: payload too large")
)

// Archive keeps raw sports-feed response payloads for audit: when a
// settlement is disputed, the exact bytes the feed returned can be pulled and
// re-ingested. Payloads are immutable once written; retention is handled by
// bucket lifecycle rules, not by this package.
type Archive interface {
	// ArchiveBatch stores one raw batch response under a content-addressed,
	// date-sharded key and returns via error only; the key is derivable from
	// (kind, at, payload).
	ArchiveBatch(ctx context.Context, kind string, at time.Time, payload []byte) error

	// Get fetches a previously archived payload by its key.
	Get(ctx context.Context, key string) ([]byte, error)

	Exists(ctx context.Context, key string) (bool, error)
}

type Config struct {
	Driver string
	Prefix string

	// MaxGetSize bounds bytes returned by Get. Defaults to 16 MiB when <= 0.
	MaxGetSize int64

	// S3 fields.
	Bucket   string
	S3Client S3Client
}

type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

func New(cfg Config) (Archive, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case DriverMemory:
		return newMemoryArchive(cfg.Prefix), nil
	case DriverS3, "":
		return newS3Archive(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// BatchKey builds the archive key for one batch payload:
// <kind>/<yyyy>/<mm>/<dd>/<hhmmss>-<digest12>.json. The digest suffix keeps
// two batches in the same second from clobbering each other.
func BatchKey(kind string, at time.Time, payload []byte) (string, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" || strings.ContainsAny(kind, "/ ") {
		return "", fmt.Errorf("%w: bad batch kind %q", ErrInvalidInput, kind)
	}
	if at.IsZero() {
		return "", fmt.Errorf("%w: zero batch time", ErrInvalidInput)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}
	sum := md5.Sum(payload)
	at = at.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%02d%02d%02d-%s.json",
		kind, at.Year(), int(at.Month()), at.Day(),
		at.Hour(), at.Minute(), at.Second(),
		hex.EncodeToString(sum[:6])), nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	return strings.Trim(prefix, "/")
}

func joinPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

type memoryArchive struct {
	mu      sync.RWMutex
	prefix  string
	objects map[string][]byte
}

func newMemoryArchive(prefix string) *memoryArchive {
	return &memoryArchive{
		prefix:  normalizePrefix(prefix),
		objects: make(map[string][]byte),
	}
}

func (m *memoryArchive) ArchiveBatch(_ context.Context, kind string, at time.Time, payload []byte) error {
	key, err := BatchKey(kind, at, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.objects[joinPrefix(m.prefix, key)] = append([]byte(nil), payload...)
	m.mu.Unlock()
	return nil
}

func (m *memoryArchive) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidInput
	}

	m.mu.RLock()
	data, ok := m.objects[joinPrefix(m.prefix, key)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *memoryArchive) Exists(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrInvalidInput
	}

	m.mu.RLock()
	_, ok := m.objects[joinPrefix(m.prefix, key)]
	m.mu.RUnlock()
	return ok, nil
}

type s3Archive struct {
	client     S3Client
	bucket     string
	prefix     string
	maxGetSize int64
}

func newS3Archive(cfg Config) (*s3Archive, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
	}
	if cfg.S3Client == nil {
		return nil, fmt.Errorf("%w: s3 client is required", ErrInvalidConfig)
	}

	maxGet := cfg.MaxGetSize
	if maxGet <= 0 {
		maxGet = defaultMaxGetSize
	}

	return &s3Archive{
		client:     cfg.S3Client,
		bucket:     bucket,
		prefix:     normalizePrefix(cfg.Prefix),
		maxGetSize: maxGet,
	}, nil
}

func (s *s3Archive) ArchiveBatch(ctx context.Context, kind string, at time.Time, payload []byte) error {
	key, err := BatchKey(kind, at, payload)
	if err != nil {
		return err
	}
	fullKey := joinPrefix(s.prefix, key)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"batch-kind": kind,
		},
	})
	if err != nil {
		return fmt.Errorf("feedarchive/s3: put %q: %w", key, err)
	}
	return nil
}

func (s *s3Archive) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidInput
	}
	fullKey := joinPrefix(s.prefix, key)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("feedarchive/s3: get %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	limited := io.LimitReader(out.Body, s.maxGetSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("feedarchive/s3: read %q: %w", key, err)
	}
	if int64(len(data)) > s.maxGetSize {
		return nil, fmt.Errorf("%w: key %q exceeds max %d bytes", ErrTooLarge, key, s.maxGetSize)
	}
	return data, nil
}

func (s *s3Archive) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrInvalidInput
	}
	fullKey := joinPrefix(s.prefix, key)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("feedarchive/s3: head %q: %w", key, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	default:
		return false
	}
}

// Package casstore implements the public content-addressed file tier. The
// identifier of an object is derived from its bytes, so identical content
// always yields the same address and re-adding content is idempotent.
package casstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/altrentals/deedgate/internal/config"
)

const addressPrefix = "sha256:"

// Storage stores public file bytes in a MinIO bucket keyed by content
// address.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client for the public bucket from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		bucket: cfg.PublicBucket,
		region: cfg.S3Region,
	}, nil
}

// EnsureBucket makes sure the public bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// AddressBytes derives the content address for a byte payload.
func AddressBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return addressPrefix + hex.EncodeToString(sum[:])
}

// ValidAddress reports whether s looks like a content address this store
// could have produced.
func ValidAddress(s string) bool {
	if !strings.HasPrefix(s, addressPrefix) {
		return false
	}
	digest := strings.TrimPrefix(s, addressPrefix)
	if len(digest) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}

// Add hashes the reader's content, rewinds it, and uploads the bytes under
// the derived address. Returns the content address.
func (s *Storage) Add(ctx context.Context, reader io.ReadSeeker, size int64, contentType string) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	addr := addressPrefix + hex.EncodeToString(hasher.Sum(nil))
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind content: %w", err)
	}
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, objectKey(addr), reader, size, opts); err != nil {
		return "", fmt.Errorf("put public object: %w", err)
	}
	return addr, nil
}

// AddBytes uploads an in-memory payload under its content address.
func (s *Storage) AddBytes(ctx context.Context, data []byte, contentType string) (string, error) {
	return s.Add(ctx, bytes.NewReader(data), int64(len(data)), contentType)
}

// AddJSON marshals the document and stores it under its content address.
func (s *Storage) AddJSON(ctx context.Context, doc any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal json document: %w", err)
	}
	return s.AddBytes(ctx, data, "application/json")
}

// Get opens a public object by content address. The caller must close the
// returned stream.
func (s *Storage) Get(ctx context.Context, addr string) (io.ReadCloser, error) {
	if !ValidAddress(addr) {
		return nil, fmt.Errorf("malformed content address %q", addr)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(addr), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get public object: %w", err)
	}
	return obj, nil
}

// objectKey maps an address to a bucket key; the scheme prefix is stripped
// so keys stay plain hex.
func objectKey(addr string) string {
	return strings.TrimPrefix(addr, addressPrefix)
}

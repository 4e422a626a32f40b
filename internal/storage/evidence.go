package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// EvidenceStore keeps violation camera stills in a MinIO/S3 bucket.
type EvidenceStore struct {
	client *minio.Client
	bucket string
}

// NewEvidenceStore connects to MinIO. It does not touch the network until
// EnsureBucket or Put is called.
func NewEvidenceStore(cfg config.MinIOConfig) (*EvidenceStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &EvidenceStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the evidence bucket if it does not exist.
func (s *EvidenceStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Put uploads one still and returns its object key.
func (s *EvidenceStore) Put(ctx context.Context, studentID, testID string, data []byte, contentType string, at time.Time) (string, error) {
	key := ObjectKey(studentID, testID, contentType, at)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload evidence: %w", err)
	}
	return key, nil
}

// Get returns the bytes stored under key.
func (s *EvidenceStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download evidence: %w", err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, fmt.Errorf("read evidence: %w", err)
	}
	return buf.Bytes(), nil
}

// ObjectKey builds evidence/<student>/<test>/<unix-millis>.<ext>.
func ObjectKey(studentID, testID, contentType string, at time.Time) string {
	ext := "jpg"
	if sub, ok := strings.CutPrefix(contentType, "image/"); ok && sub != "" && sub != "jpeg" {
		ext = sub
	}
	return path.Join("evidence", safeSegment(studentID), safeSegment(testID),
		fmt.Sprintf("%d.%s", at.UnixMilli(), ext))
}

func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "_"
	}
	return s
}

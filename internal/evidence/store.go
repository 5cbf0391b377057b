package evidence

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store persists dispute evidence payloads and returns a stable URI recorded
// on the dispute.
type Store interface {
	Put(ctx context.Context, jobID int64, payload []byte) (string, error)
}

type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	if strings.TrimSpace(root) == "" {
		root = "/tmp/stakemarket-evidence"
	}
	return &LocalStore{root: root}
}

func (s *LocalStore) Put(_ context.Context, jobID int64, payload []byte) (string, error) {
	dir := filepath.Join(s.root, fmt.Sprintf("%d", jobID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "evidence.bin")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("evidence://%d/evidence.bin", jobID), nil
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MinIOStore struct {
	cfg MinIOConfig
}

func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("minio endpoint is required for the minio evidence backend")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		cfg.Bucket = "stakemarket-evidence"
	}
	return &MinIOStore{cfg: cfg}, nil
}

func (s *MinIOStore) Put(ctx context.Context, jobID int64, payload []byte) (string, error) {
	client, err := minio.New(s.cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s.cfg.AccessKey, s.cfg.SecretKey, ""),
		Secure: s.cfg.UseSSL,
	})
	if err != nil {
		return "", err
	}
	exists, err := client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return "", err
		}
	}
	objectName := fmt.Sprintf("%d/evidence.bin", jobID)
	_, err = client.PutObject(ctx, s.cfg.Bucket, objectName, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("evidence://s3/%s/%d/evidence.bin", s.cfg.Bucket, jobID), nil
}

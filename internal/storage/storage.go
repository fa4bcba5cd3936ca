package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/santekene/services/ledger/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Store abstracts document content storage. URLs returned by Upload are
// scheme-prefixed (minio:// or local://) so Download can route them back.
type Store interface {
	Upload(ctx context.Context, content []byte, filename, mimeType string, metadata map[string]string) (string, int64, error)
	Download(ctx context.Context, url string) ([]byte, error)
	Delete(ctx context.Context, url string) error
}

// New builds the configured store. With no MinIO endpoint the service
// falls back to local-disk storage.
func New(cfg config.StorageConfig, log *logrus.Logger) (Store, error) {
	if cfg.Endpoint == "" {
		log.WithField("path", cfg.LocalPath).Warn("No object storage endpoint configured, using local disk")
		return newLocalStore(cfg.LocalPath)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create object storage client")
	}

	log.WithFields(logrus.Fields{
		"endpoint": cfg.Endpoint,
		"bucket":   cfg.Bucket,
	}).Info("Object storage client initialized")
	return &minioStore{client: client, bucket: cfg.Bucket, log: log}, nil
}

// uniqueName derives a collision-free object name preserving the extension
func uniqueName(filename string) string {
	ext := filepath.Ext(filename)
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), hex.EncodeToString(buf), ext)
}

type minioStore struct {
	client *minio.Client
	bucket string
	log    *logrus.Logger
}

func (s *minioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrap(err, "failed to check bucket")
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return errors.Wrap(err, "failed to create bucket")
		}
	}
	return nil
}

func (s *minioStore) Upload(ctx context.Context, content []byte, filename, mimeType string, metadata map[string]string) (string, int64, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", 0, err
	}
	name := uniqueName(filename)
	info, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType:  mimeType,
		UserMetadata: metadata,
	})
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to upload object")
	}
	return fmt.Sprintf("minio://%s/%s", s.bucket, name), info.Size, nil
}

func (s *minioStore) Download(ctx context.Context, url string) ([]byte, error) {
	bucket, name, err := parseMinioURL(url)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get object")
	}
	defer obj.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, errors.Wrap(err, "failed to read object")
	}
	return buf.Bytes(), nil
}

func (s *minioStore) Delete(ctx context.Context, url string) error {
	bucket, name, err := parseMinioURL(url)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, "failed to remove object")
	}
	return nil
}

func parseMinioURL(url string) (string, string, error) {
	rest, ok := strings.CutPrefix(url, "minio://")
	if !ok {
		return "", "", errors.Errorf("unsupported storage url %q", url)
	}
	bucket, name, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || name == "" {
		return "", "", errors.Errorf("malformed storage url %q", url)
	}
	return bucket, name, nil
}

// localStore keeps objects on disk, used in development and as fallback
type localStore struct {
	root string
}

func newLocalStore(root string) (*localStore, error) {
	if root == "" {
		root = "./uploads"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create local storage directory")
	}
	return &localStore{root: root}, nil
}

func (s *localStore) Upload(_ context.Context, content []byte, filename, _ string, _ map[string]string) (string, int64, error) {
	name := uniqueName(filename)
	if err := os.WriteFile(filepath.Join(s.root, name), content, 0o644); err != nil {
		return "", 0, errors.Wrap(err, "failed to write local object")
	}
	return "local://" + name, int64(len(content)), nil
}

func (s *localStore) Download(_ context.Context, url string) ([]byte, error) {
	name, ok := strings.CutPrefix(url, "local://")
	if !ok {
		return nil, errors.Errorf("unsupported storage url %q", url)
	}
	content, err := os.ReadFile(filepath.Join(s.root, filepath.Base(name)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read local object")
	}
	return content, nil
}

func (s *localStore) Delete(_ context.Context, url string) error {
	name, ok := strings.CutPrefix(url, "local://")
	if !ok {
		return errors.Errorf("unsupported storage url %q", url)
	}
	if err := os.Remove(filepath.Join(s.root, filepath.Base(name))); err != nil {
		return errors.Wrap(err, "failed to remove local object")
	}
	return nil
}

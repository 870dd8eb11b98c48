package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"google.golang.org/api/option"
)

// Store persists rendered documents and returns the stored location.
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// GCSStore writes documents to a Cloud Storage bucket.
type GCSStore struct {
	Client *storage.Client
	Bucket string
}

// NewGCSStore prefers ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
// Set GCS_CREDENTIALS_JSON to provide explicit JSON (e.g. locally).
func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucket == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}

	var (
		client *storage.Client
		err    error
	)
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &GCSStore{Client: client, Bucket: bucket}, nil
}

func (s *GCSStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	wc := s.Client.Bucket(s.Bucket).Object(path).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("gcs write %s: %w", path, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("gcs close %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.Bucket, path), nil
}

func (s *GCSStore) Close() error {
	if s.Client == nil {
		return nil
	}
	return s.Client.Close()
}

// LocalStore writes documents under Dir. Used in development and tests.
type LocalStore struct {
	Dir string
}

func (s *LocalStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + path)
	full := filepath.Join(s.Dir, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", err
	}
	return full, nil
}

// NewStore picks the document store from STORAGE_PROVIDER.
func NewStore(ctx context.Context) (Store, error) {
	switch utils.GetStorageProvider() {
	case utils.StorageProviderGCS:
		return NewGCSStore(ctx)
	case utils.StorageProviderLocal:
		return &LocalStore{Dir: utils.GetDocumentDir()}, nil
	default:
		return nil, fmt.Errorf("unsupported STORAGE_PROVIDER %q", utils.GetStorageProvider())
	}
}

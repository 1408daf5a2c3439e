package storage

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSFileProvider reads objects from a Google Cloud Storage bucket, per
// spec.md 4.7.
type GCSFileProvider struct {
	Client *storage.Client
	Bucket string
}

func (p GCSFileProvider) Get(ctx context.Context, req FileRequest) (io.ReadCloser, int64, error) {
	key := NormalizeKey(req.Path)
	obj := p.Client.Bucket(p.Bucket).Object(key)
	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, 0, &ErrFileFetcher{Path: req.Path, Err: err}
	}
	return r, r.Attrs.Size, nil
}

func (p GCSFileProvider) ValidatePath(ctx context.Context, req FileRequest) error {
	key := NormalizeKey(req.Path)
	if _, err := p.Client.Bucket(p.Bucket).Object(key).Attrs(ctx); err != nil {
		return &ErrFileFetcher{Path: req.Path, Err: err}
	}
	return nil
}

// GCSReceivedFileStorage publishes assembled files to a Google Cloud
// Storage bucket, per spec.md 4.6 "Object store".
type GCSReceivedFileStorage struct {
	Client *storage.Client
	Bucket string
}

func (s GCSReceivedFileStorage) Store(ctx context.Context, localTempFile, originalName, destination string) (StoreResult, error) {
	defer DeleteLocalTempQuietly(localTempFile)

	key := ResolveKey(destination, originalName)

	f, err := openForUpload(localTempFile)
	if err != nil {
		return StoreResult{}, err
	}
	defer f.Close()

	w := s.Client.Bucket(s.Bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return StoreResult{}, fmt.Errorf("storage: gcs upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return StoreResult{}, fmt.Errorf("storage: gcs upload %s: %w", key, err)
	}

	return StoreResult{RemoteURI: fmt.Sprintf("gs://%s/%s", s.Bucket, key)}, nil
}

package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureFileProvider reads blobs from an Azure Storage container, per
// spec.md 4.7.
type AzureFileProvider struct {
	Client    *azblob.Client
	Container string
}

func (p AzureFileProvider) Get(ctx context.Context, req FileRequest) (io.ReadCloser, int64, error) {
	key := NormalizeKey(req.Path)
	resp, err := p.Client.DownloadStream(ctx, p.Container, key, nil)
	if err != nil {
		return nil, 0, &ErrFileFetcher{Path: req.Path, Err: err}
	}
	size := int64(0)
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}
	return resp.Body, size, nil
}

func (p AzureFileProvider) ValidatePath(ctx context.Context, req FileRequest) error {
	key := NormalizeKey(req.Path)
	_, err := p.Client.ServiceClient().NewContainerClient(p.Container).NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		return &ErrFileFetcher{Path: req.Path, Err: err}
	}
	return nil
}

// AzureReceivedFileStorage publishes assembled files to an Azure Storage
// container, per spec.md 4.6 "Object store".
type AzureReceivedFileStorage struct {
	Client    *azblob.Client
	Container string
}

func (s AzureReceivedFileStorage) Store(ctx context.Context, localTempFile, originalName, destination string) (StoreResult, error) {
	defer DeleteLocalTempQuietly(localTempFile)

	key := ResolveKey(destination, originalName)

	f, err := openForUpload(localTempFile)
	if err != nil {
		return StoreResult{}, err
	}
	defer f.Close()

	body, err := io.ReadAll(f)
	if err != nil {
		return StoreResult{}, fmt.Errorf("storage: azure read temp for %s: %w", key, err)
	}

	if _, err := s.Client.UploadBuffer(ctx, s.Container, key, body, nil); err != nil {
		return StoreResult{}, fmt.Errorf("storage: azure upload %s: %w", key, err)
	}

	return StoreResult{RemoteURI: fmt.Sprintf("azure://%s/%s", s.Container, key)}, nil
}

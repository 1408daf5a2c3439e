package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3FileProvider reads files from an S3 bucket, per spec.md 4.7.
type S3FileProvider struct {
	Client *s3.Client
	Bucket string
}

func (p S3FileProvider) Get(ctx context.Context, req FileRequest) (io.ReadCloser, int64, error) {
	key := NormalizeKey(req.Path)
	out, err := p.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, &ErrFileFetcher{Path: req.Path, Err: err}
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

func (p S3FileProvider) ValidatePath(ctx context.Context, req FileRequest) error {
	key := NormalizeKey(req.Path)
	_, err := p.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &ErrFileFetcher{Path: req.Path, Err: err}
	}
	return nil
}

// S3ReceivedFileStorage publishes assembled files to an S3 bucket, per
// spec.md 4.6 "Object store".
type S3ReceivedFileStorage struct {
	Client *s3.Client
	Bucket string
}

func (s S3ReceivedFileStorage) Store(ctx context.Context, localTempFile, originalName, destination string) (StoreResult, error) {
	defer DeleteLocalTempQuietly(localTempFile)

	key := ResolveKey(destination, originalName)

	f, err := openForUpload(localTempFile)
	if err != nil {
		return StoreResult{}, err
	}
	defer f.Close()

	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return StoreResult{}, fmt.Errorf("storage: s3 upload %s: %w", key, err)
	}

	return StoreResult{RemoteURI: fmt.Sprintf("s3://%s/%s", s.Bucket, key)}, nil
}

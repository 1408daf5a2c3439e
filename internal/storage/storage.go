// Package storage implements the Storage Adapters from spec.md 4.7: two
// stateless, injected interface families — FileProvider (read side) and
// ReceivedFileStorage (write side) — each with Local, S3, Azure, and GCS
// variants.
//
// Design Note "Polymorphism over variants" replaces the source's
// FileProvider/ReceivedFileStorage abstract-class hierarchies with plain
// Go interfaces; variant selection happens once at construction (wired in
// cmd/client from client.files.storage.provider, and in cmd/server by
// which storage settings are present), never by reflection.
package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileRequest identifies a file to read, per spec.md 4.5
// FileTransferRequest{source_type, storage_container, path}.
type FileRequest struct {
	SourceType       string
	StorageContainer string
	Path             string
}

// ErrFileFetcher is wrapped around any Get/ValidatePath failure, per
// spec.md 4.7 "FileFetcherException on 404 or backend failure".
type ErrFileFetcher struct {
	Path string
	Err  error
}

func (e *ErrFileFetcher) Error() string {
	return "storage: fetch " + e.Path + ": " + e.Err.Error()
}

func (e *ErrFileFetcher) Unwrap() error { return e.Err }

// FileProvider is the read-side capability contract (spec.md 4.7).
type FileProvider interface {
	// Get opens a stream for req after a metadata probe establishes size.
	Get(ctx context.Context, req FileRequest) (stream io.ReadCloser, size int64, err error)
	// ValidatePath performs a cheap existence check without opening a stream.
	ValidatePath(ctx context.Context, req FileRequest) error
}

// StoreResult is the outcome of ReceivedFileStorage.Store.
type StoreResult struct {
	LocalPath string
	RemoteURI string // empty for the Local variant
}

// ReceivedFileStorage is the write-side capability contract (spec.md 4.7,
// 4.6). localTempFile is deleted by the implementation on both success and
// failure, per spec.md 4.6 "on success delete the temp file ... on failure
// delete the temp file".
type ReceivedFileStorage interface {
	Store(ctx context.Context, localTempFile, originalName, destination string) (StoreResult, error)
}

// Sanitize returns the final path component of name, stripping any
// directory prefix or ".." segments, per spec.md 4.6 "file_name is
// sanitised by taking only the final path component".
func Sanitize(name string) string {
	clean := filepath.Base(filepath.Clean(name))
	if clean == "." || clean == "/" || clean == string(filepath.Separator) {
		return ""
	}
	return clean
}

// NormalizeKey strips leading slashes from an object-store key, per
// spec.md 6 "normalize strips leading slashes".
func NormalizeKey(key string) string {
	return strings.TrimLeft(key, "/")
}

// BuildKey joins a prefix and a sanitised name into an object-store key.
func BuildKey(prefix, name string) string {
	prefix = NormalizeKey(prefix)
	if prefix == "" {
		return Sanitize(name)
	}
	if strings.HasSuffix(prefix, "/") {
		return prefix + Sanitize(name)
	}
	return prefix + "/" + Sanitize(name)
}

// ResolveKey implements the object-store key resolution shared by S3,
// Azure, and GCS, per spec.md 6 "Object-store key resolution":
//   - destination ends with "/": normalize(destination) + sanitize(name)
//   - destination non-blank: normalize(destination), treated as full key
//   - otherwise: sanitize(name)
func ResolveKey(destination, name string) string {
	switch {
	case strings.HasSuffix(destination, "/"):
		return NormalizeKey(destination) + Sanitize(name)
	case destination != "":
		return NormalizeKey(destination)
	default:
		return Sanitize(name)
	}
}

// openForUpload opens localTempFile for reading by an object-store PUT/
// upload call, shared by the S3, Azure, and GCS ReceivedFileStorage
// variants.
func openForUpload(localTempFile string) (*os.File, error) {
	return os.Open(localTempFile)
}

// DeleteLocalTempQuietly removes path and swallows any error beyond
// logging being the caller's responsibility — assembly and upload failure
// paths must not themselves fail because cleanup failed.
func DeleteLocalTempQuietly(path string) {
	_ = os.Remove(path)
}

// ProviderKind selects a FileProvider/ReceivedFileStorage variant, per
// spec.md 6 "client.files.storage.provider".
type ProviderKind string

const (
	ProviderLocal ProviderKind = "LOCAL"
	ProviderS3    ProviderKind = "S3"
	ProviderAzure ProviderKind = "AZURE"
	ProviderGCS   ProviderKind = "GCS"
)

package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// LocalFileProvider reads files from a base directory on disk.
type LocalFileProvider struct {
	BaseDir string
}

func (p LocalFileProvider) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.BaseDir, path)
}

// Get opens the file after an existence probe establishes its size, per
// spec.md 4.7.
func (p LocalFileProvider) Get(ctx context.Context, req FileRequest) (io.ReadCloser, int64, error) {
	full := p.resolve(req.Path)
	info, err := os.Stat(full)
	if err != nil {
		return nil, 0, &ErrFileFetcher{Path: req.Path, Err: err}
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, &ErrFileFetcher{Path: req.Path, Err: err}
	}
	return f, info.Size(), nil
}

// ValidatePath performs a cheap existence check (spec.md 4.7).
func (p LocalFileProvider) ValidatePath(ctx context.Context, req FileRequest) error {
	full := p.resolve(req.Path)
	if _, err := os.Stat(full); err != nil {
		return &ErrFileFetcher{Path: req.Path, Err: err}
	}
	return nil
}

// LocalReceivedFileStorage publishes assembled files onto the local
// filesystem, per spec.md 4.6 "Local" rules.
type LocalReceivedFileStorage struct{}

// Store moves localTempFile to its final destination. If destination ends
// in "/", the sanitised originalName is appended; otherwise destination is
// treated as the full target path. Parent directories are created; an
// atomic rename is attempted first, falling back to a non-atomic rename
// (copy + remove) if the filesystem rejects atomic semantics
// (e.g. a cross-device move), per spec.md 4.6.
func (LocalReceivedFileStorage) Store(ctx context.Context, localTempFile, originalName, destination string) (StoreResult, error) {
	defer DeleteLocalTempQuietly(localTempFile)

	target := destination
	if target == "" || hasTrailingSlash(target) {
		target = filepath.Join(target, Sanitize(originalName))
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return StoreResult{}, err
	}

	if err := os.Rename(localTempFile, target); err != nil {
		if renameErr := nonAtomicRename(localTempFile, target); renameErr != nil {
			return StoreResult{}, renameErr
		}
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}
	return StoreResult{LocalPath: abs}, nil
}

func hasTrailingSlash(path string) bool {
	if path == "" {
		return false
	}
	last := path[len(path)-1]
	return last == filepath.Separator || last == '/'
}

// nonAtomicRename copies localTempFile's bytes to target and removes the
// source, for filesystems (e.g. across mount points) that reject os.Rename.
func nonAtomicRename(localTempFile, target string) error {
	src, err := os.Open(localTempFile)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(localTempFile)
}

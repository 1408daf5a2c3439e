// Package fileassembler implements the File Chunk Assembler from spec.md
// 4.6: the receiver side that turns a sequence of FileChunkFrame messages
// into exactly one published file, or fails loudly with the temp file
// removed and the offset left unadvanced.
package fileassembler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sync"

	"github.com/National-Digital-Twin/federator-sub003/internal/storage"
	"github.com/National-Digital-Twin/federator-sub003/internal/wire"
	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

// ErrSizeMismatch is returned when the bytes written to the temp file do
// not equal the frame's declared file_size (spec.md 4.6, 8 property 3).
var ErrSizeMismatch = errors.New("fileassembler: size mismatch")

// ErrChecksumMismatch is returned when the recomputed SHA-256 does not
// match the commit frame's file_checksum (spec.md 4.6, 8 property 2).
var ErrChecksumMismatch = errors.New("fileassembler: checksum mismatch")

// ErrNilChunk is raised when a caller passes a nil frame, per spec.md 4.6
// "A null or missing chunk raises NullPointer at the boundary".
var ErrNilChunk = errors.New("fileassembler: nil chunk")

type contextKey struct {
	fileName string
	sequence int64
}

type assemblyContext struct {
	file *os.File
	path string
	hash hash.Hash
	size uint64
}

// Assembler holds the per-stream assembly state for one call. It is not
// safe for concurrent use by multiple goroutines handling the same stream,
// matching the single-writer-per-stream model in spec.md 5.
type Assembler struct {
	tempDir string
	store   storage.ReceivedFileStorage

	mu       sync.Mutex
	contexts map[contextKey]*assemblyContext
}

// New builds an Assembler that stages temp files under
// <tempDir>/.parts/<sanitised_name>.<sequence>.part and publishes completed
// files through store.
func New(tempDir string, store storage.ReceivedFileStorage) *Assembler {
	return &Assembler{
		tempDir:  tempDir,
		store:    store,
		contexts: make(map[contextKey]*assemblyContext),
	}
}

// Handle processes one chunk. For a non-last chunk it returns a zero
// StoreResult and nil error once the bytes are appended. For the last
// chunk it validates size and checksum, publishes through the configured
// ReceivedFileStorage, and returns the publish result.
func (a *Assembler) Handle(ctx context.Context, chunk *wire.FileChunkFrame, destination string) (storage.StoreResult, error) {
	if chunk == nil {
		return storage.StoreResult{}, ErrNilChunk
	}

	key := contextKey{fileName: storage.Sanitize(chunk.FileName), sequence: chunk.FileSequenceID}

	a.mu.Lock()
	ac, ok := a.contexts[key]
	if !ok {
		var err error
		ac, err = a.open(key)
		if err != nil {
			a.mu.Unlock()
			return storage.StoreResult{}, err
		}
		a.contexts[key] = ac
	}
	a.mu.Unlock()

	if len(chunk.ChunkData) > 0 {
		if _, err := ac.file.Write(chunk.ChunkData); err != nil {
			a.abort(key, ac)
			return storage.StoreResult{}, fmt.Errorf("fileassembler: write chunk: %w", err)
		}
		ac.hash.Write(chunk.ChunkData)
		ac.size += uint64(len(chunk.ChunkData))
	}

	if !chunk.IsLastChunk {
		return storage.StoreResult{}, nil
	}

	return a.commit(ctx, key, ac, chunk, destination)
}

func (a *Assembler) open(key contextKey) (*assemblyContext, error) {
	partsDir := filepath.Join(a.tempDir, ".parts")
	if err := os.MkdirAll(partsDir, 0o755); err != nil {
		return nil, fmt.Errorf("fileassembler: create parts dir: %w", err)
	}
	path := filepath.Join(partsDir, fmt.Sprintf("%s.%d.part", key.fileName, key.sequence))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("fileassembler: create temp file: %w", err)
	}
	return &assemblyContext{file: f, path: path, hash: sha256.New()}, nil
}

func (a *Assembler) commit(ctx context.Context, key contextKey, ac *assemblyContext, chunk *wire.FileChunkFrame, destination string) (storage.StoreResult, error) {
	if err := ac.file.Close(); err != nil {
		a.drop(key)
		storage.DeleteLocalTempQuietly(ac.path)
		return storage.StoreResult{}, fmt.Errorf("fileassembler: close temp file: %w", err)
	}

	if ac.size != chunk.FileSize {
		a.drop(key)
		storage.DeleteLocalTempQuietly(ac.path)
		return storage.StoreResult{}, fmt.Errorf("%w: wrote %d bytes, expected %d", ErrSizeMismatch, ac.size, chunk.FileSize)
	}

	if chunk.FileChecksum != "" {
		if got := hex.EncodeToString(ac.hash.Sum(nil)); got != chunk.FileChecksum {
			a.drop(key)
			storage.DeleteLocalTempQuietly(ac.path)
			return storage.StoreResult{}, fmt.Errorf("%w: computed %s, expected %s", ErrChecksumMismatch, got, chunk.FileChecksum)
		}
	}

	result, err := a.store.Store(ctx, ac.path, chunk.FileName, destination)
	a.drop(key)
	if err != nil {
		return storage.StoreResult{}, fmt.Errorf("fileassembler: publish: %w", err)
	}
	return result, nil
}

// abort removes an in-progress context after a write failure, closing and
// deleting its temp file.
func (a *Assembler) abort(key contextKey, ac *assemblyContext) {
	_ = ac.file.Close()
	storage.DeleteLocalTempQuietly(ac.path)
	a.drop(key)
}

func (a *Assembler) drop(key contextKey) {
	a.mu.Lock()
	delete(a.contexts, key)
	a.mu.Unlock()
}

// CancelAll closes and deletes every temp file still open for this
// assembler, per spec.md 5 "Cancellation": "the assembler deletes any open
// temp file". Called when the owning call is cancelled.
func (a *Assembler) CancelAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, ac := range a.contexts {
		_ = ac.file.Close()
		storage.DeleteLocalTempQuietly(ac.path)
		delete(a.contexts, key)
	}
}

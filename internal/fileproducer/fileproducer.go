// Package fileproducer implements the File Chunk Producer from spec.md
// 4.5: opens a source file through a FileProvider and emits it as a
// sequence of FileStreamFrame chunks terminated by a checksummed commit
// marker, reporting provider failures as an in-band warning instead of
// aborting the stream.
package fileproducer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"

	"github.com/National-Digital-Twin/federator-sub003/internal/sender"
	"github.com/National-Digital-Twin/federator-sub003/internal/storage"
	"github.com/National-Digital-Twin/federator-sub003/internal/wire"
)

// DefaultChunkSize is the data chunk size used when none is configured,
// per spec.md 4.5 ("default 1 MiB").
const DefaultChunkSize = 1 << 20

// Request describes one file transfer to produce, per spec.md 4.5
// FileTransferRequest{source_type, storage_container, path}. FileSequenceID
// is the input Kafka offset of the request that triggered this transfer.
type Request struct {
	SourceType       string
	StorageContainer string
	Path             string
	FileSequenceID   int64
}

// Providers resolves a FileProvider by source type, injected rather than
// switched on by name at call sites, per Design Note "Polymorphism over
// variants".
type Providers map[string]storage.FileProvider

// Produce streams req through send. A provider lookup miss or any Get
// failure is reported as a WarningFrame and Produce returns nil — a single
// bad request must not drop the whole session (spec.md 4.5).
func Produce(ctx context.Context, providers Providers, req Request, send *sender.Sender[*wire.FileStreamFrame], chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	provider, ok := providers[req.SourceType]
	if !ok {
		return send.Send(warning("FileFetcherException", "unsupported source type: "+req.SourceType, req.FileSequenceID))
	}

	stream, size, err := provider.Get(ctx, storage.FileRequest{
		SourceType:       req.SourceType,
		StorageContainer: req.StorageContainer,
		Path:             req.Path,
	})
	if err != nil {
		return send.Send(warning("FileFetcherException", err.Error(), req.FileSequenceID))
	}
	defer stream.Close()

	fileName := filepath.Base(req.Path)
	totalChunks := uint32((size + int64(chunkSize) - 1) / int64(chunkSize))

	hash := sha256.New()
	buf := make([]byte, chunkSize)
	var chunkIndex uint32

	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			hash.Write(buf[:n])
			data := append([]byte(nil), buf[:n]...)
			frame := &wire.FileStreamFrame{Chunk: &wire.FileChunkFrame{
				FileName:       fileName,
				FileSequenceID: req.FileSequenceID,
				ChunkIndex:     chunkIndex,
				TotalChunks:    totalChunks,
				FileSize:       uint64(size),
				ChunkData:      data,
			}}
			if sendErr := send.Send(frame); sendErr != nil {
				return sendErr
			}
			chunkIndex++
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return send.Send(warning("FileFetcherException", readErr.Error(), req.FileSequenceID))
		}
	}

	commit := &wire.FileStreamFrame{Chunk: &wire.FileChunkFrame{
		FileName:       fileName,
		FileSequenceID: req.FileSequenceID,
		ChunkIndex:     chunkIndex,
		TotalChunks:    totalChunks,
		IsLastChunk:    true,
		FileSize:       uint64(size),
		FileChecksum:   hex.EncodeToString(hash.Sum(nil)),
	}}
	return send.Send(commit)
}

func warning(reason, details string, skippedSequenceID int64) *wire.FileStreamFrame {
	return &wire.FileStreamFrame{Warning: &wire.WarningFrame{
		Reason:            reason,
		Details:           details,
		SkippedSequenceID: skippedSequenceID,
	}}
}

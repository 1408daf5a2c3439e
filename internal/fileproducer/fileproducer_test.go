package fileproducer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/National-Digital-Twin/federator-sub003/internal/sender"
	"github.com/National-Digital-Twin/federator-sub003/internal/storage"
	"github.com/National-Digital-Twin/federator-sub003/internal/wire"
	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

type fakeProvider struct {
	data []byte
	err  error
}

func (p fakeProvider) Get(ctx context.Context, req storage.FileRequest) (io.ReadCloser, int64, error) {
	if p.err != nil {
		return nil, 0, p.err
	}
	return io.NopCloser(bytes.NewReader(p.data)), int64(len(p.data)), nil
}

func (p fakeProvider) ValidatePath(ctx context.Context, req storage.FileRequest) error {
	return p.err
}

func newCapturingSender() (*sender.Sender[*wire.FileStreamFrame], *[]*wire.FileStreamFrame) {
	var frames []*wire.FileStreamFrame
	s := sender.New[*wire.FileStreamFrame](context.Background(), func(f *wire.FileStreamFrame) error {
		frames = append(frames, f)
		return nil
	}, logger.New("fileproducer-test"))
	return s, &frames
}

func TestProduceSmallFileTwoChunks(t *testing.T) {
	send, frames := newCapturingSender()
	providers := Providers{"LOCAL": fakeProvider{data: []byte("Hello ")}}

	err := Produce(context.Background(), providers, Request{SourceType: "LOCAL", Path: "greeting.txt", FileSequenceID: 7}, send, 1<<20)
	require.NoError(t, err)
	require.Len(t, *frames, 2)

	data := (*frames)[0]
	require.NotNil(t, data.Chunk)
	require.False(t, data.Chunk.IsLastChunk)
	require.Equal(t, []byte("Hello "), data.Chunk.ChunkData)

	commit := (*frames)[1]
	require.True(t, commit.Chunk.IsLastChunk)
	require.Empty(t, commit.Chunk.ChunkData)
	sum := sha256.Sum256([]byte("Hello "))
	require.Equal(t, hex.EncodeToString(sum[:]), commit.Chunk.FileChecksum)
}

func TestProduceEmptyFileSingleLastChunk(t *testing.T) {
	send, frames := newCapturingSender()
	providers := Providers{"LOCAL": fakeProvider{data: []byte{}}}

	err := Produce(context.Background(), providers, Request{SourceType: "LOCAL", Path: "empty.bin"}, send, 1<<20)
	require.NoError(t, err)
	require.Len(t, *frames, 1)
	require.True(t, (*frames)[0].Chunk.IsLastChunk)
	require.Equal(t, uint64(0), (*frames)[0].Chunk.FileSize)

	sum := sha256.Sum256(nil)
	require.Equal(t, hex.EncodeToString(sum[:]), (*frames)[0].Chunk.FileChecksum)
}

func TestProduceUnknownSourceTypeEmitsWarning(t *testing.T) {
	send, frames := newCapturingSender()
	err := Produce(context.Background(), Providers{}, Request{SourceType: "S3", Path: "x", FileSequenceID: 3}, send, 0)
	require.NoError(t, err)
	require.Len(t, *frames, 1)
	require.NotNil(t, (*frames)[0].Warning)
	require.Equal(t, int64(3), (*frames)[0].Warning.SkippedSequenceID)
}

func TestProduceProviderFailureEmitsWarningNotError(t *testing.T) {
	send, frames := newCapturingSender()
	providers := Providers{"LOCAL": fakeProvider{err: errors.New("not found")}}

	err := Produce(context.Background(), providers, Request{SourceType: "LOCAL", Path: "missing", FileSequenceID: 11}, send, 0)
	require.NoError(t, err)
	require.Len(t, *frames, 1)
	require.Equal(t, "FileFetcherException", (*frames)[0].Warning.Reason)
}

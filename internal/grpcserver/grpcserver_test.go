package grpcserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/National-Digital-Twin/federator-sub003/internal/fileproducer"
	"github.com/National-Digital-Twin/federator-sub003/internal/interceptor"
	"github.com/National-Digital-Twin/federator-sub003/internal/kv"
	"github.com/National-Digital-Twin/federator-sub003/internal/model"
	"github.com/National-Digital-Twin/federator-sub003/internal/producerconfig"
	"github.com/National-Digital-Twin/federator-sub003/internal/storage"
	"github.com/National-Digital-Twin/federator-sub003/internal/wire"
	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

type fakeEventsServerStream struct {
	ctx  context.Context
	sent []*wire.EventFrame
}

func (f *fakeEventsServerStream) SetHeader(metadata.MD) error  { return nil }
func (f *fakeEventsServerStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeEventsServerStream) SetTrailer(metadata.MD)       {}
func (f *fakeEventsServerStream) Context() context.Context     { return f.ctx }
func (f *fakeEventsServerStream) SendMsg(m interface{}) error  { return nil }
func (f *fakeEventsServerStream) RecvMsg(m interface{}) error  { return nil }
func (f *fakeEventsServerStream) Send(e *wire.EventFrame) error {
	f.sent = append(f.sent, e)
	return nil
}

type fakeFilesServerStream struct {
	ctx  context.Context
	sent []*wire.FileStreamFrame
}

func (f *fakeFilesServerStream) SetHeader(metadata.MD) error  { return nil }
func (f *fakeFilesServerStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeFilesServerStream) SetTrailer(metadata.MD)       {}
func (f *fakeFilesServerStream) Context() context.Context     { return f.ctx }
func (f *fakeFilesServerStream) SendMsg(m interface{}) error  { return nil }
func (f *fakeFilesServerStream) RecvMsg(m interface{}) error  { return nil }
func (f *fakeFilesServerStream) Send(e *wire.FileStreamFrame) error {
	f.sent = append(f.sent, e)
	return nil
}

func newTestOffsets(t *testing.T) *kv.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := kv.DefaultConfig()
	cfg.Host = mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Port = port
	store, err := kv.New(context.Background(), cfg, logger.New("grpcserver-test"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestSnapshot(t *testing.T, doc model.ProducerConfig) *producerconfig.Store {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(server.Close)
	store := producerconfig.New(server.URL, 5*time.Second, logger.New("grpcserver-test"))
	require.NoError(t, store.Refresh(context.Background()))
	return store
}

func TestStreamEventsRejectsMissingClientID(t *testing.T) {
	s := New(Config{FilterName: "header-attribute"}, newTestSnapshot(t, model.ProducerConfig{}), newTestOffsets(t), nil, logger.New("grpcserver-test"))
	stream := &fakeEventsServerStream{ctx: context.Background()}
	err := s.StreamEvents(&wire.TopicRequest{Topic: "orders"}, stream)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.Unauthenticated, st.Code())
}

func TestStreamEventsRejectsUnauthorisedTopic(t *testing.T) {
	s := New(Config{FilterName: "header-attribute"}, newTestSnapshot(t, model.ProducerConfig{}), newTestOffsets(t), nil, logger.New("grpcserver-test"))
	ctx := interceptor.ContextWithClientID(context.Background(), "consumer-1")
	stream := &fakeEventsServerStream{ctx: ctx}
	err := s.StreamEvents(&wire.TopicRequest{Topic: "orders"}, stream)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.PermissionDenied, st.Code())
}

func TestStreamFilesReportsWarningWhenTopicHasNoFileSource(t *testing.T) {
	doc := model.ProducerConfig{Producers: []model.Producer{{
		Name: "org-a",
		Products: []model.Product{{
			Name: "orders-feed", Topic: "orders",
			Consumers: []model.Consumer{{IDPClientID: "consumer-1"}},
		}},
	}}}
	s := New(Config{ChunkSize: fileproducer.DefaultChunkSize}, newTestSnapshot(t, doc), newTestOffsets(t), fileproducer.Providers{}, logger.New("grpcserver-test"))
	ctx := interceptor.ContextWithClientID(context.Background(), "consumer-1")
	stream := &fakeFilesServerStream{ctx: ctx}

	err := s.StreamFiles(&wire.TopicRequest{Topic: "orders"}, stream)

	require.NoError(t, err)
	require.Len(t, stream.sent, 1)
	require.NotNil(t, stream.sent[0].Warning)
	require.Equal(t, "FileFetcherException", stream.sent[0].Warning.Reason)
}

func TestStreamFilesProducesChunksForConfiguredSource(t *testing.T) {
	doc := model.ProducerConfig{Producers: []model.Producer{{
		Name: "org-a",
		Products: []model.Product{{
			Name: "orders-files", Topic: "orders",
			Consumers:        []model.Consumer{{IDPClientID: "consumer-1"}},
			SourceType:       "LOCAL",
			StorageContainer: "",
			Path:             "report.csv",
		}},
	}}}
	baseDir := t.TempDir()
	providers := fileproducer.Providers{"LOCAL": storage.LocalFileProvider{BaseDir: baseDir}}
	require.NoError(t, os.WriteFile(baseDir+"/report.csv", []byte("a,b,c"), 0o644))

	offsets := newTestOffsets(t)
	s := New(Config{ChunkSize: fileproducer.DefaultChunkSize}, newTestSnapshot(t, doc), offsets, providers, logger.New("grpcserver-test"))
	ctx := interceptor.ContextWithClientID(context.Background(), "consumer-1")
	stream := &fakeFilesServerStream{ctx: ctx}

	err := s.StreamFiles(&wire.TopicRequest{Topic: "orders", Offset: 5}, stream)

	require.NoError(t, err)
	require.True(t, len(stream.sent) >= 2)
	last := stream.sent[len(stream.sent)-1]
	require.NotNil(t, last.Chunk)
	require.True(t, last.Chunk.IsLastChunk)

	next, ok := offsets.GetOffset(context.Background(), "consumer-1", "orders")
	require.True(t, ok)
	require.Equal(t, int64(6), next)
}

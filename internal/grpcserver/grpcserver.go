// Package grpcserver implements rpc.FederationServiceServer (spec.md 4.1):
// the two server-streaming RPCs bind an authorised caller's request to a
// Message Conductor or a File Chunk Producer and run it to completion.
//
// The interceptor has already verified the bearer token and the caller's
// product authorisation before either handler runs (internal/interceptor);
// this package only has to resolve the caller's entitlements and source
// location from the current Producer Config snapshot and wire the request
// into the conductor/fileproducer packages, mirroring the thin RPC-handler
// layer the teacher's own service implementations use to delegate
// immediately into a domain package.
package grpcserver

import (
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/National-Digital-Twin/federator-sub003/internal/conductor"
	"github.com/National-Digital-Twin/federator-sub003/internal/fileproducer"
	"github.com/National-Digital-Twin/federator-sub003/internal/filter"
	"github.com/National-Digital-Twin/federator-sub003/internal/interceptor"
	"github.com/National-Digital-Twin/federator-sub003/internal/kafkaio"
	"github.com/National-Digital-Twin/federator-sub003/internal/kv"
	"github.com/National-Digital-Twin/federator-sub003/internal/producerconfig"
	"github.com/National-Digital-Twin/federator-sub003/internal/rpc"
	"github.com/National-Digital-Twin/federator-sub003/internal/sender"
	"github.com/National-Digital-Twin/federator-sub003/internal/wire"
	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

// Config parameterises the server's per-call defaults (spec.md 6).
type Config struct {
	KafkaBrokers      []string
	FilterName        string
	PollTimeout       time.Duration
	InactivityTimeout int
	ChunkSize         int

	// SharedHeaderAllowlist is the configured set of header names (spec.md
	// 3 "Event Frame") eligible to be copied into an EventFrame's
	// SharedHeaders; any header not in this set, including
	// filter.SecurityLabelHeader, is never forwarded to a consumer.
	SharedHeaderAllowlist []string
}

// Server implements rpc.FederationServiceServer.
type Server struct {
	rpc.UnimplementedFederationServiceServer

	cfg       Config
	snapshots *producerconfig.Store
	offsets   *kv.Store
	providers fileproducer.Providers
	log       *logger.Logger
}

// New builds a Server. snapshots supplies the current Producer Config for
// consumer-attribute and file-source lookups; providers resolves a
// FileProvider by source type for StreamFiles.
func New(cfg Config, snapshots *producerconfig.Store, offsets *kv.Store, providers fileproducer.Providers, log *logger.Logger) *Server {
	return &Server{
		cfg:       cfg,
		snapshots: snapshots,
		offsets:   offsets,
		providers: providers,
		log:       log,
	}
}

// StreamEvents runs a Message Conductor for the requested topic, bound to
// the authenticated caller's client id and entitlements (spec.md 4.1, 4.3).
func (s *Server) StreamEvents(req *wire.TopicRequest, stream rpc.FederationService_StreamEventsServer) error {
	clientID, ok := interceptor.ClientIDFromContext(stream.Context())
	if !ok {
		return status.Error(codes.Unauthenticated, "grpcserver: missing client id in call context")
	}

	consumer, ok := s.snapshots.Snapshot().FindConsumer(clientID, req.Topic)
	if !ok {
		return status.Errorf(codes.PermissionDenied, "grpcserver: %s is not authorised on topic %s", clientID, req.Topic)
	}

	f, err := filter.Get(s.cfg.FilterName)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}

	send := sender.New[*wire.EventFrame](stream.Context(), stream.Send, s.log)

	offset := req.Offset
	if offset == 0 {
		if persisted, ok := s.offsets.GetOffset(stream.Context(), clientID, req.Topic); ok {
			offset = persisted
		}
	}

	cond, err := conductor.New(conductor.Config{
		ClientID:          clientID,
		Topic:             req.Topic,
		StartOffset:       offset,
		Attrs:             consumer.Attributes,
		FilterName:        s.cfg.FilterName,
		InactivityTimeout: s.cfg.InactivityTimeout,
		PollTimeout:       s.cfg.PollTimeout,
		HeaderAllowlist:   s.cfg.SharedHeaderAllowlist,
	}, kafkaio.DefaultConfig(s.cfg.KafkaBrokers), f, send, s.offsets, s.log)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}

	if err := cond.Run(stream.Context()); err != nil {
		s.log.Error("grpcserver: StreamEvents for %s/%s: %v", clientID, req.Topic, err)
		return status.Error(codes.Internal, err.Error())
	}
	return nil
}

// StreamFiles resolves the Product declared for the requested topic into a
// FileTransferRequest and runs the File Chunk Producer against it
// (spec.md 4.1, 4.5). A topic with no file source (SourceType unset)
// reports a warning rather than failing the call, consistent with
// fileproducer.Produce's "a single bad request must not drop the whole
// session".
func (s *Server) StreamFiles(req *wire.TopicRequest, stream rpc.FederationService_StreamFilesServer) error {
	clientID, ok := interceptor.ClientIDFromContext(stream.Context())
	if !ok {
		return status.Error(codes.Unauthenticated, "grpcserver: missing client id in call context")
	}

	snapshot := s.snapshots.Snapshot()
	if !snapshot.Authorized(clientID, req.Topic) {
		return status.Errorf(codes.PermissionDenied, "grpcserver: %s is not authorised on topic %s", clientID, req.Topic)
	}

	send := sender.New[*wire.FileStreamFrame](stream.Context(), stream.Send, s.log)

	product, ok := snapshot.FindProduct(req.Topic)
	if !ok || product.SourceType == "" {
		return send.Send(&wire.FileStreamFrame{Warning: &wire.WarningFrame{
			Reason:            "FileFetcherException",
			Details:           "no file source configured for topic " + req.Topic,
			SkippedSequenceID: req.Offset,
		}})
	}

	transferReq := fileproducer.Request{
		SourceType:       product.SourceType,
		StorageContainer: product.StorageContainer,
		Path:             product.Path,
		FileSequenceID:   req.Offset,
	}

	if err := fileproducer.Produce(stream.Context(), s.providers, transferReq, send, s.cfg.ChunkSize); err != nil {
		s.log.Error("grpcserver: StreamFiles for %s/%s: %v", clientID, req.Topic, err)
		return status.Error(codes.Internal, err.Error())
	}

	if err := s.offsets.SetOffset(stream.Context(), clientID, req.Topic, req.Offset+1); err != nil {
		s.log.Warn("grpcserver: advance offset for %s/%s: %v", clientID, req.Topic, err)
	}
	return nil
}

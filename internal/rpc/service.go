// Package rpc hand-authors the gRPC client/server bindings that a
// protoc-gen-go-grpc run would normally generate from proto/federation.proto.
// No protoc toolchain is invoked by this repository; the bindings below
// follow the exact shape protoc-gen-go-grpc emits (ServiceDesc, typed
// stream wrappers, Register/New functions) so that the rest of the codebase
// consumes them the same way it would consume generated code.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/National-Digital-Twin/federator-sub003/internal/wire"
)

const (
	serviceName        = "federation.v1.FederationService"
	streamEventsMethod = "/" + serviceName + "/StreamEvents"
	streamFilesMethod  = "/" + serviceName + "/StreamFiles"
)

// FederationServiceServer is the contract the server-side RPC transport
// (spec.md 4.1) implements.
type FederationServiceServer interface {
	StreamEvents(*wire.TopicRequest, FederationService_StreamEventsServer) error
	StreamFiles(*wire.TopicRequest, FederationService_StreamFilesServer) error
}

// UnimplementedFederationServiceServer may be embedded to satisfy the
// interface while a concrete server is still under construction, mirroring
// generated code's forward-compatibility embed.
type UnimplementedFederationServiceServer struct{}

func (UnimplementedFederationServiceServer) StreamEvents(*wire.TopicRequest, FederationService_StreamEventsServer) error {
	return grpcUnimplemented("StreamEvents")
}

func (UnimplementedFederationServiceServer) StreamFiles(*wire.TopicRequest, FederationService_StreamFilesServer) error {
	return grpcUnimplemented("StreamFiles")
}

// FederationService_StreamEventsServer is the server-side handle to the
// outbound half of a StreamEvents call.
type FederationService_StreamEventsServer interface {
	Send(*wire.EventFrame) error
	grpc.ServerStream
}

// FederationService_StreamFilesServer is the server-side handle to the
// outbound half of a StreamFiles call. Each message is a FileStreamFrame
// union of a data/commit chunk or a WarningFrame (spec.md 4.5), so a single
// bad source request can be reported without a distinct RPC method or
// aborting the stream — see internal/fileproducer.
type FederationService_StreamFilesServer interface {
	Send(*wire.FileStreamFrame) error
	grpc.ServerStream
}

type federationServiceStreamEventsServer struct {
	grpc.ServerStream
}

func (x *federationServiceStreamEventsServer) Send(m *wire.EventFrame) error {
	return x.ServerStream.SendMsg(m)
}

type federationServiceStreamFilesServer struct {
	grpc.ServerStream
}

func (x *federationServiceStreamFilesServer) Send(m *wire.FileStreamFrame) error {
	return x.ServerStream.SendMsg(m)
}

func streamEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(wire.TopicRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FederationServiceServer).StreamEvents(m, &federationServiceStreamEventsServer{stream})
}

func streamFilesHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(wire.TopicRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FederationServiceServer).StreamFiles(m, &federationServiceStreamFilesServer{stream})
}

// ServiceDesc mirrors the generated grpc.ServiceDesc for FederationService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FederationServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "StreamFiles",
			Handler:       streamFilesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "federation.proto",
}

// RegisterFederationServiceServer registers srv on s, matching the generated
// Register<Service>Server signature.
func RegisterFederationServiceServer(s grpc.ServiceRegistrar, srv FederationServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FederationServiceClient is the contract the client-side RPC transport
// (spec.md 4.1, client control flow) uses to open streams.
type FederationServiceClient interface {
	StreamEvents(ctx context.Context, in *wire.TopicRequest, opts ...grpc.CallOption) (FederationService_StreamEventsClient, error)
	StreamFiles(ctx context.Context, in *wire.TopicRequest, opts ...grpc.CallOption) (FederationService_StreamFilesClient, error)
}

type federationServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewFederationServiceClient builds a client bound to cc, matching the
// generated New<Service>Client signature.
func NewFederationServiceClient(cc grpc.ClientConnInterface) FederationServiceClient {
	return &federationServiceClient{cc}
}

func (c *federationServiceClient) StreamEvents(ctx context.Context, in *wire.TopicRequest, opts ...grpc.CallOption) (FederationService_StreamEventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], streamEventsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &federationServiceStreamEventsClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *federationServiceClient) StreamFiles(ctx context.Context, in *wire.TopicRequest, opts ...grpc.CallOption) (FederationService_StreamFilesClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[1], streamFilesMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &federationServiceStreamFilesClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// FederationService_StreamEventsClient is the client-side handle to the
// inbound half of a StreamEvents call.
type FederationService_StreamEventsClient interface {
	Recv() (*wire.EventFrame, error)
	grpc.ClientStream
}

type federationServiceStreamEventsClient struct {
	grpc.ClientStream
}

func (x *federationServiceStreamEventsClient) Recv() (*wire.EventFrame, error) {
	m := new(wire.EventFrame)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// FederationService_StreamFilesClient is the client-side handle to the
// inbound half of a StreamFiles call.
type FederationService_StreamFilesClient interface {
	Recv() (*wire.FileStreamFrame, error)
	grpc.ClientStream
}

type federationServiceStreamFilesClient struct {
	grpc.ClientStream
}

func (x *federationServiceStreamFilesClient) Recv() (*wire.FileStreamFrame, error) {
	m := new(wire.FileStreamFrame)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func grpcUnimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

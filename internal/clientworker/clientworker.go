// Package clientworker implements the recurring-job bodies the Job
// Scheduler triggers on the consuming tenant's side (spec.md 4.8 "Control
// flow (client side)"): open an RPC stream to the declared producer,
// receive frames, and either republish events to the local Kafka sink or
// assemble file chunks to configured storage, persisting the next sequence
// offset only after a frame is fully handled.
package clientworker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/National-Digital-Twin/federator-sub003/internal/fileassembler"
	"github.com/National-Digital-Twin/federator-sub003/internal/kafkaio"
	"github.com/National-Digital-Twin/federator-sub003/internal/kv"
	"github.com/National-Digital-Twin/federator-sub003/internal/model"
	"github.com/National-Digital-Twin/federator-sub003/internal/rpc"
	"github.com/National-Digital-Twin/federator-sub003/internal/wire"
	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

// Job name constants distinguish the two recurring-job bodies a (producer,
// topic) pair can register, per spec.md 4.8's job_id = (job_name, topic).
const (
	JobNameEvents = "stream-events"
	JobNameFiles  = "stream-files"
)

// ClientFactory opens the RPC client for one producer endpoint, along with
// a Closer to release the underlying connection. Separated from a raw
// *grpc.ClientConn so tests can inject a fake FederationServiceClient
// without a live network connection.
type ClientFactory func(ctx context.Context, endpoint string) (rpc.FederationServiceClient, io.Closer, error)

// EventPublisher republishes one event to a local sink. *kafkaio.Producer
// satisfies this; it is an interface here so tests can substitute a fake
// without a live broker.
type EventPublisher interface {
	Publish(ctx context.Context, e kafkaio.Event) error
}

// Sink resolves the local Kafka producer a topic's events should be
// republished to.
type Sink func(topic string) (EventPublisher, error)

// Destination resolves the storage destination path/prefix assembled files
// for a topic should be published to.
type Destination func(topic string) string

// Worker is the scheduler.Worker bound to one client tenant's dependencies.
type Worker struct {
	NewClient   ClientFactory
	Offsets     *kv.Store
	Sink        Sink
	Assembler   *fileassembler.Assembler
	Destination Destination
	Log         *logger.Logger
}

// Run dispatches job to the events or files body by job.JobName.
func (w *Worker) Run(ctx context.Context, job model.RecurringJob) {
	switch job.JobName {
	case JobNameEvents:
		w.runEvents(ctx, job)
	case JobNameFiles:
		w.runFiles(ctx, job)
	default:
		w.Log.Warn("clientworker: job %s has unrecognised job name %q", job.JobID, job.JobName)
	}
}

func (w *Worker) runEvents(ctx context.Context, job model.RecurringJob) {
	client, closer, err := w.NewClient(ctx, job.ConnectionEndpoint)
	if err != nil {
		w.Log.Error("clientworker: dial %s for job %s: %v", job.ConnectionEndpoint, job.JobID, err)
		return
	}
	defer closer.Close()

	offset, _ := w.Offsets.GetOffset(ctx, job.ManagementNodeID, job.Topic)
	stream, err := client.StreamEvents(ctx, &wire.TopicRequest{ClientID: job.ManagementNodeID, Topic: job.Topic, Offset: offset})
	if err != nil {
		w.Log.Error("clientworker: open StreamEvents for job %s: %v", job.JobID, err)
		return
	}

	producer, err := w.Sink(job.Topic)
	if err != nil {
		w.Log.Error("clientworker: resolve sink for topic %s: %v", job.Topic, err)
		return
	}

	for {
		frame, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.Log.Warn("clientworker: StreamEvents recv for job %s: %v", job.JobID, err)
			}
			return
		}

		event := kafkaio.Event{
			Topic:   frame.Topic,
			Offset:  frame.Offset,
			Key:     frame.Key,
			Value:   frame.Value,
			Headers: toAttributes(frame.SharedHeaders),
		}
		if err := producer.Publish(ctx, event); err != nil {
			w.Log.Error("clientworker: republish event for job %s: %v", job.JobID, err)
			return
		}
		if err := w.Offsets.SetOffset(ctx, job.ManagementNodeID, job.Topic, frame.Offset+1); err != nil {
			w.Log.Warn("clientworker: advance offset for job %s: %v", job.JobID, err)
		}
	}
}

func (w *Worker) runFiles(ctx context.Context, job model.RecurringJob) {
	client, closer, err := w.NewClient(ctx, job.ConnectionEndpoint)
	if err != nil {
		w.Log.Error("clientworker: dial %s for job %s: %v", job.ConnectionEndpoint, job.JobID, err)
		return
	}
	defer closer.Close()

	offset, _ := w.Offsets.GetOffset(ctx, job.ManagementNodeID, job.Topic)
	stream, err := client.StreamFiles(ctx, &wire.TopicRequest{ClientID: job.ManagementNodeID, Topic: job.Topic, Offset: offset})
	if err != nil {
		w.Log.Error("clientworker: open StreamFiles for job %s: %v", job.JobID, err)
		return
	}

	destination := w.Destination(job.Topic)

	for {
		frame, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.Log.Warn("clientworker: StreamFiles recv for job %s: %v", job.JobID, err)
			}
			return
		}

		if frame.Warning != nil {
			w.Log.Warn("clientworker: job %s received warning: %s: %s (sequence %d)",
				job.JobID, frame.Warning.Reason, frame.Warning.Details, frame.Warning.SkippedSequenceID)
			continue
		}
		if frame.Chunk == nil {
			continue
		}

		if _, err := w.Assembler.Handle(ctx, frame.Chunk, destination); err != nil {
			w.Log.Error("clientworker: assemble chunk for job %s: %v", job.JobID, err)
			continue
		}
		if frame.Chunk.IsLastChunk {
			if err := w.Offsets.SetOffset(ctx, job.ManagementNodeID, job.Topic, frame.Chunk.FileSequenceID+1); err != nil {
				w.Log.Warn("clientworker: advance offset for job %s: %v", job.JobID, err)
			}
		}
	}
}

func toAttributes(headers []wire.HeaderEntry) []model.Attribute {
	attrs := make([]model.Attribute, 0, len(headers))
	for _, h := range headers {
		attrs = append(attrs, model.Attribute{Name: h.Name, Value: h.Value})
	}
	return attrs
}

// DesiredJobs derives the recurring-job set a tenant identified by
// clientID should have registered from the management node's declared
// producer/consumer graph (spec.md 4.8 "Control flow (client side)"): one
// stream-events and one stream-files job per (producer, topic) where
// clientID appears as an authorised consumer. schedule and retries apply
// uniformly; callers needing per-topic overrides should post-process the
// result before calling scheduler.ReloadRecurrentJobs.
func DesiredJobs(cfg model.ProducerConfig, clientID string, schedule model.JobSchedule, retries int) []model.RecurringJob {
	var jobs []model.RecurringJob
	for _, producer := range cfg.Producers {
		endpoint := fmt.Sprintf("%s:%d", producer.Host, producer.Port)
		for _, product := range producer.Products {
			subscribed := false
			for _, consumer := range product.Consumers {
				if consumer.IDPClientID == clientID {
					subscribed = true
					break
				}
			}
			if !subscribed {
				continue
			}

			jobs = append(jobs,
				model.RecurringJob{
					JobID:              model.JobID(JobNameEvents, product.Topic),
					JobName:            JobNameEvents,
					ManagementNodeID:   producer.Name,
					Topic:              product.Topic,
					Schedule:           schedule,
					Retries:            retries,
					ConnectionEndpoint: endpoint,
				},
				model.RecurringJob{
					JobID:              model.JobID(JobNameFiles, product.Topic),
					JobName:            JobNameFiles,
					ManagementNodeID:   producer.Name,
					Topic:              product.Topic,
					Schedule:           schedule,
					Retries:            retries,
					ConnectionEndpoint: endpoint,
					RequireImmediate:   product.SourceType != "",
				},
			)
		}
	}
	return jobs
}

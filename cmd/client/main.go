// Command federator-client runs the consuming tenant's side of the data
// federation gateway (spec.md 4.8 "Control flow (client side)"): it
// derives the recurring-job set from the management node's declared
// producer/consumer graph, registers it with the Job Scheduler, and on
// each trigger opens a stream to the producer and republishes events or
// assembles files locally.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/National-Digital-Twin/federator-sub003/internal/auth"
	"github.com/National-Digital-Twin/federator-sub003/internal/clientworker"
	"github.com/National-Digital-Twin/federator-sub003/internal/fileassembler"
	"github.com/National-Digital-Twin/federator-sub003/internal/interceptor"
	"github.com/National-Digital-Twin/federator-sub003/internal/kafkaio"
	"github.com/National-Digital-Twin/federator-sub003/internal/kv"
	"github.com/National-Digital-Twin/federator-sub003/internal/model"
	"github.com/National-Digital-Twin/federator-sub003/internal/producerconfig"
	"github.com/National-Digital-Twin/federator-sub003/internal/rpc"
	"github.com/National-Digital-Twin/federator-sub003/internal/scheduler"
	"github.com/National-Digital-Twin/federator-sub003/internal/storage"
	"github.com/National-Digital-Twin/federator-sub003/internal/wire"
	"github.com/National-Digital-Twin/federator-sub003/pkg/config"
	"github.com/National-Digital-Twin/federator-sub003/pkg/grpcutil"
	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

func main() {
	log := logger.New("federator-client")
	cfg := loadConfigFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	offsets, err := kv.New(ctx, kvConfigFrom(cfg), log)
	if err != nil {
		log.Fatal("connect to redis: %v", err)
	}
	defer offsets.Close()

	snapshots := producerconfig.New(cfg.Get(config.ManagementNodeBaseURL), durationOr(cfg.Get(config.ManagementNodeRequestTimeout), 10*time.Second), log)
	if err := snapshots.Refresh(ctx); err != nil {
		log.Fatal("initial producer config fetch failed: %v", err)
	}

	authSvc, err := auth.New(auth.Config{
		TokenURL:       cfg.Get(config.IDPTokenURL),
		JWKSURL:        cfg.Get(config.IDPJWKSURL),
		ClientID:       cfg.Get(config.IDPClientID),
		ClientSecret:   cfg.Get(config.IDPClientSecret),
		MTLSEnabled:    cfg.Get(config.IDPMTLSEnabled) == "true",
		KeystorePath:   cfg.Get(config.IDPKeystorePath),
		TruststorePath: cfg.Get(config.IDPTruststorePath),
		RequestTimeout: durationOr(cfg.Get(config.ManagementNodeRequestTimeout), 10*time.Second),
	}, nil, offsets, log)
	if err != nil {
		log.Fatal("build auth service: %v", err)
	}

	assembler := fileassembler.New(cfg.GetOr(config.LocalFilesBaseDir, os.TempDir()), receivedFileStorageFor(cfg))
	sinkBrokers := splitCSV(cfg.Get(config.ClientSinkBrokers))
	destinationDir := cfg.GetOr(config.ClientFilesDestination, ".")

	nodes := newNodeByEndpoint()

	worker := &clientworker.Worker{
		NewClient: dialFederationService(cfg, authSvc, nodes),
		Offsets:   offsets,
		Sink: func(topic string) (clientworker.EventPublisher, error) {
			if len(sinkBrokers) == 0 {
				return nil, fmt.Errorf("client.sink.kafka.brokers is not configured")
			}
			return kafkaio.NewProducer(sinkBrokers, topic), nil
		},
		Assembler:   assembler,
		Destination: func(topic string) string { return destinationDir },
		Log:         log,
	}

	sched := scheduler.New(worker.Run, log)
	sched.EnsureStarted()

	clientID := cfg.Get(config.ClientTenantID)
	pollInterval := durationOr(cfg.Get(config.ClientJobPollInterval), 60*time.Second)
	retries := intOr(cfg.Get(config.ClientJobRetries), 3)
	schedule := model.JobSchedule{Interval: pollInterval}

	reconcile := func() {
		if err := snapshots.Refresh(ctx); err != nil {
			log.Warn("producer config refresh failed, reconciling against last known snapshot: %v", err)
		}
		snapshot := snapshots.Snapshot()
		jobs := clientworker.DesiredJobs(snapshot, clientID, schedule, retries)
		for _, producer := range snapshot.Producers {
			nodes.set(fmt.Sprintf("%s:%d", producer.Host, producer.Port), producer.Name)
			sched.ReloadRecurrentJobs(producer.Name, jobsFor(jobs, producer.Name))
		}
	}
	reconcile()

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reconcile()
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("received shutdown signal")
	case <-ctx.Done():
	}

	cancel()
	sched.Stop()
	log.Info("federator client stopped")
}

func jobsFor(jobs []model.RecurringJob, managementNodeID string) []model.RecurringJob {
	out := make([]model.RecurringJob, 0, len(jobs))
	for _, j := range jobs {
		if j.ManagementNodeID == managementNodeID {
			out = append(out, j)
		}
	}
	return out
}

// dialFederationService returns the clientworker.ClientFactory that opens a
// fresh gRPC connection per job trigger, with the wire codec and the
// client-side auth interceptor installed (spec.md 4.1, 4.10: "every
// outbound call attaches Authorization: Bearer <token>, refreshed through
// the Token Service on demand"). nodes resolves the connection endpoint
// back to the management node id the interceptor caches tokens under,
// since ClientFactory is only handed the dial target.
func dialFederationService(cfg *config.Config, authSvc *auth.Service, nodes *nodeByEndpoint) clientworker.ClientFactory {
	tls := cfg.Get(config.IDPMTLSEnabled) == "true"
	return func(ctx context.Context, endpoint string) (rpc.FederationServiceClient, io.Closer, error) {
		opts := grpcutil.DefaultClientOptions()
		opts.TLS = tls
		opts.DialOptions = append(opts.DialOptions,
			grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec{})),
			grpc.WithStreamInterceptor(interceptor.AuthStreamClientInterceptor(authSvc, nodes.get(endpoint))),
		)

		conn, err := grpcutil.NewClient(ctx, endpoint, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", endpoint, err)
		}
		return rpc.NewFederationServiceClient(conn), conn, nil
	}
}

// nodeByEndpoint maps a dial target back to the management node id it
// belongs to, refreshed each time the producer config is reconciled.
type nodeByEndpoint struct {
	mu   sync.RWMutex
	byID map[string]string
}

func newNodeByEndpoint() *nodeByEndpoint {
	return &nodeByEndpoint{byID: make(map[string]string)}
}

func (n *nodeByEndpoint) set(endpoint, managementNodeID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byID[endpoint] = managementNodeID
}

func (n *nodeByEndpoint) get(endpoint string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.byID[endpoint]
}

func receivedFileStorageFor(cfg *config.Config) storage.ReceivedFileStorage {
	switch cfg.Get(config.ClientFilesStorageProvider) {
	case string(storage.ProviderAzure):
		return storage.AzureReceivedFileStorage{}
	case string(storage.ProviderGCS):
		return storage.GCSReceivedFileStorage{}
	case string(storage.ProviderS3):
		return storage.S3ReceivedFileStorage{}
	default:
		return storage.LocalReceivedFileStorage{}
	}
}

func loadConfigFromEnv() *config.Config {
	cfg := config.New()
	for _, key := range []string{
		config.IDPTokenURL, config.IDPJWKSURL, config.IDPClientID, config.IDPClientSecret,
		config.IDPMTLSEnabled, config.IDPKeystorePath, config.IDPTruststorePath,
		config.ManagementNodeBaseURL, config.ManagementNodeRequestTimeout,
		config.RedisHost, config.RedisPort, config.RedisDB,
		config.LocalFilesBaseDir, config.ClientTenantID,
		config.ClientSinkBrokers, config.ClientFilesDestination,
		config.ClientJobPollInterval, config.ClientJobRetries,
		config.ClientFilesStorageProvider,
	} {
		if v, ok := os.LookupEnv(envName(key)); ok {
			cfg.Set(key, v)
		}
	}
	return cfg
}

func envName(key string) string {
	var b strings.Builder
	b.WriteString("FEDERATOR_")
	for _, r := range key {
		switch {
		case r == '.':
			b.WriteByte('_')
		case r >= 'A' && r <= 'Z':
			b.WriteByte('_')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

func kvConfigFrom(cfg *config.Config) kv.Config {
	kvCfg := kv.DefaultConfig()
	if host := cfg.Get(config.RedisHost); host != "" {
		kvCfg.Host = host
	}
	if port := cfg.Get(config.RedisPort); port != "" {
		kvCfg.Port = intOr(port, kvCfg.Port)
	}
	if db := cfg.Get(config.RedisDB); db != "" {
		kvCfg.DB = intOr(db, 0)
	}
	return kvCfg
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func durationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Command federator-server runs the producer side of the data federation
// gateway (spec.md 2 "Control flow (server side)"): it exposes
// StreamEvents/StreamFiles over a long-lived gRPC channel, authorising each
// call against the current Producer Config snapshot.
//
// Configuration is read from environment variables mapped onto the
// pkg/config key surface (spec.md 6) rather than from a properties file —
// the properties-file loader is explicitly out of scope (spec.md 1
// Non-goals); this command is the "populated *Config" caller the core
// expects.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	azblob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	gcs "cloud.google.com/go/storage"

	"github.com/National-Digital-Twin/federator-sub003/internal/auth"
	"github.com/National-Digital-Twin/federator-sub003/internal/fileproducer"
	"github.com/National-Digital-Twin/federator-sub003/internal/grpcserver"
	"github.com/National-Digital-Twin/federator-sub003/internal/interceptor"
	"github.com/National-Digital-Twin/federator-sub003/internal/kv"
	"github.com/National-Digital-Twin/federator-sub003/internal/producerconfig"
	"github.com/National-Digital-Twin/federator-sub003/internal/rpc"
	"github.com/National-Digital-Twin/federator-sub003/internal/storage"
	"github.com/National-Digital-Twin/federator-sub003/internal/wire"
	"github.com/National-Digital-Twin/federator-sub003/pkg/config"
	"github.com/National-Digital-Twin/federator-sub003/pkg/grpcutil"
	"github.com/National-Digital-Twin/federator-sub003/pkg/health"
	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

func main() {
	log := logger.New("federator-server")
	cfg := loadConfigFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	offsets, err := kv.New(ctx, kvConfigFrom(cfg), log)
	if err != nil {
		log.Fatal("connect to redis: %v", err)
	}
	defer offsets.Close()

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

	snapshots := producerconfig.New(cfg.Get(config.ManagementNodeBaseURL), durationOr(cfg.Get(config.ManagementNodeRequestTimeout), 10*time.Second), log)
	if err := snapshots.Refresh(ctx); err != nil {
		log.Warn("initial producer config refresh failed, starting with an empty snapshot: %v", err)
	}
	go snapshots.RefreshLoop(ctx, 30*time.Second)

	providers, err := buildFileProviders(ctx, cfg)
	if err != nil {
		log.Fatal("build file providers: %v", err)
	}

	handler := grpcserver.New(grpcserver.Config{
		KafkaBrokers:          splitCSV(cfg.Get(config.KafkaBrokers)),
		FilterName:            cfg.GetOr(config.FilterName, "header-attribute"),
		PollTimeout:           durationOr(cfg.Get(config.PollDuration), 500*time.Millisecond),
		InactivityTimeout:     intOr(cfg.Get(config.InactivityTimeout), 0),
		ChunkSize:             intOr(cfg.Get(config.FileChunkSize), fileproducer.DefaultChunkSize),
		SharedHeaderAllowlist: splitCSV(cfg.Get(config.SharedHeaderAllowlist)),
	}, snapshots, offsets, providers, log)

	checker := health.NewChecker()
	go runHealthLoop(ctx, checker, offsets, log)

	grpcServer, err := grpcutil.NewServer(grpcutil.ServerOptions{
		KeepaliveTime:    durationOr(cfg.Get(config.ServerKeepAliveTime), 5*time.Second),
		KeepaliveTimeout: durationOr(cfg.Get(config.ServerKeepAliveTimeout), 1*time.Second),
		MTLSEnabled:      cfg.Get(config.ServerMTLSEnabled) == "true",
		CertChainFile:    cfg.Get(config.ServerCertChainFile),
		PrivateKeyFile:   cfg.Get(config.ServerPrivateKeyFile),
	},
		grpc.ForceServerCodec(wire.Codec{}),
		grpc.StreamInterceptor(interceptor.AuthStreamServerInterceptor(authSvc, snapshots, cfg.Get(config.IDPClientID))),
	)
	if err != nil {
		log.Fatal("build grpc server: %v", err)
	}
	rpc.RegisterFederationServiceServer(grpcServer, handler)

	port := intOr(cfg.Get(config.ServerPort), 9443)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		log.Fatal("listen on port %d: %v", port, err)
	}

	go func() {
		log.Info("federation gRPC server listening on :%d", port)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("grpc serve: %v", err)
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
	grpcServer.GracefulStop()
	log.Info("federation gRPC server stopped")
}

// runHealthLoop periodically exercises the redis connection and logs any
// degradation. There is no management-plane HTTP surface to publish this
// to (spec.md 1 Non-goals), so observability here is log-based, matching
// the rest of this command's ambient stack.
func runHealthLoop(ctx context.Context, checker *health.Checker, offsets *kv.Store, log *logger.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checker.RunCheck("redis", func() error {
				return offsets.Set(ctx, "healthcheck:ping", "1", 10*time.Second)
			})
			if status := checker.GetOverallStatus(); status != health.StatusHealthy {
				log.Warn("health check degraded: %s", status)
			}
		}
	}
}

func loadConfigFromEnv() *config.Config {
	cfg := config.New()
	for _, key := range []string{
		config.ServerPort, config.ServerKeepAliveTime, config.ServerKeepAliveTimeout,
		config.ServerMTLSEnabled, config.ServerCertChainFile, config.ServerPrivateKeyFile,
		config.ClientFilesStorageProvider, config.FilesS3Bucket, config.FilesAzureContainer,
		config.IDPTokenURL, config.IDPJWKSURL, config.IDPClientID, config.IDPClientSecret,
		config.IDPMTLSEnabled, config.IDPKeystorePath, config.IDPTruststorePath,
		config.ManagementNodeBaseURL, config.ManagementNodeRequestTimeout,
		config.RedisHost, config.RedisPort, config.RedisDB,
		config.InactivityTimeout, config.PollDuration, config.CacheTTLSeconds,
		config.FilterName, config.FileChunkSize, config.KafkaBrokers,
		config.SharedHeaderAllowlist,
		config.LocalFilesBaseDir, config.GCSBucket,
	} {
		if v, ok := os.LookupEnv(envName(key)); ok {
			cfg.Set(key, v)
		}
	}
	return cfg
}

// envName maps a dotted config key ("server.keepAliveTime") to the
// SCREAMING_SNAKE_CASE environment variable this command reads
// ("FEDERATOR_SERVER_KEEP_ALIVE_TIME").
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

// buildFileProviders wires one FileProvider per source type that has
// credentials configured (spec.md 4.7): LOCAL is always available, the
// object-store variants are wired only when their bucket/container is set.
func buildFileProviders(ctx context.Context, cfg *config.Config) (fileproducer.Providers, error) {
	providers := fileproducer.Providers{
		string(storage.ProviderLocal): storage.LocalFileProvider{BaseDir: cfg.GetOr(config.LocalFilesBaseDir, ".")},
	}

	if bucket := cfg.Get(config.FilesS3Bucket); bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		providers[string(storage.ProviderS3)] = storage.S3FileProvider{Client: s3.NewFromConfig(awsCfg), Bucket: bucket}
	}

	if container := cfg.Get(config.FilesAzureContainer); container != "" {
		client, err := azblob.NewClientFromConnectionString(os.Getenv("AZURE_STORAGE_CONNECTION_STRING"), nil)
		if err != nil {
			return nil, fmt.Errorf("build azure blob client: %w", err)
		}
		providers[string(storage.ProviderAzure)] = storage.AzureFileProvider{Client: client, Container: container}
	}

	if bucket := cfg.Get(config.GCSBucket); bucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build gcs client: %w", err)
		}
		providers[string(storage.ProviderGCS)] = storage.GCSFileProvider{Client: client, Bucket: bucket}
	}

	return providers, nil
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

// Package config provides a thread-safe, map-backed configuration surface,
// adapted from the reference services' shared pkg/config.Config. The
// properties-file loader that populates it is out of scope for this repo
// (spec.md 1 Non-goals); callers hand the core a populated *Config.
package config

import "sync"

// Known configuration keys (spec.md 6). Consumers should prefer these
// constants over hand-typed strings.
const (
	ServerPort             = "server.port"
	ServerKeepAliveTime    = "server.keepAliveTime"
	ServerKeepAliveTimeout = "server.keepAliveTimeout"
	ServerMTLSEnabled      = "server.mtlsEnabled"
	ServerCertChainFile    = "server.certChainFile"
	ServerPrivateKeyFile   = "server.privateKeyFile"

	ClientFilesStorageProvider = "client.files.storage.provider"
	FilesS3Bucket              = "files.s3.bucket"
	FilesAzureContainer        = "files.azure.container"
	GCPStoragePrefix           = "gcp.storage."

	IDPTokenURL       = "idp.token.url"
	IDPJWKSURL        = "idp.jwks.url"
	IDPClientID       = "idp.client.id"
	IDPClientSecret   = "idp.client.secret"
	IDPMTLSEnabled    = "idp.mtls.enabled"
	IDPKeystorePath   = "idp.keystore.path"
	IDPTruststorePath = "idp.truststore.path"

	ManagementNodeBaseURL        = "management.node.base.url"
	ManagementNodeRequestTimeout = "management.node.request.timeout"

	RedisHost = "redis.host"
	RedisPort = "redis.port"
	RedisDB   = "redis.db"

	InactivityTimeout = "inactivity.timeout"
	PollDuration      = "poll.duration"
	CacheTTLSeconds   = "cache.ttl.seconds"

	FilterName             = "filter.name"
	FileChunkSize          = "file.chunk.size"
	KafkaBrokers           = "kafka.brokers"
	SharedHeaderAllowlist  = "shared.header.allowlist"
	LocalFilesBaseDir      = "files.local.baseDir"
	GCSBucket              = "gcp.storage.bucket"
	ClientTenantID         = "client.tenant.id"
	ClientSinkBrokers      = "client.sink.kafka.brokers"
	ClientFilesDestination = "client.files.destination"
	ClientJobPollInterval  = "client.job.pollInterval"
	ClientJobRetries       = "client.job.retries"
)

// Config manages configuration values shared across the core's components.
type Config struct {
	mu     sync.RWMutex
	values map[string]string
}

// New creates an empty configuration manager.
func New() *Config {
	return &Config{values: make(map[string]string)}
}

// Get retrieves a configuration value, returning "" if unset.
func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// GetOr retrieves a configuration value, returning fallback if unset.
func (c *Config) GetOr(key, fallback string) string {
	if v := c.Get(key); v != "" {
		return v
	}
	return fallback
}

// GetAll returns a copy of all configuration values.
func (c *Config) GetAll() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	copied := make(map[string]string, len(c.values))
	for k, v := range c.values {
		copied[k] = v
	}
	return copied
}

// Update merges values into the configuration.
func (c *Config) Update(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range values {
		c.values[k] = v
	}
}

// Set sets a single configuration value.
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

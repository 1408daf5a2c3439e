// Package model holds the data-model entities from spec.md 3, shared across
// the conductor, scheduler, storage, and auth packages.
package model

import (
	"fmt"
	"time"
)

// Attribute is a single (name, value) entitlement a consumer holds for a
// topic, matched against an event's security-label header by the filter.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Consumer describes one authorised consumer of a Product.
type Consumer struct {
	IDPClientID string      `json:"idp_client_id"`
	Attributes  []Attribute `json:"attributes"`
}

// Product is a named topic-plus-policy a Producer exposes. SourceType,
// StorageContainer, and Path are populated only for products served by the
// File Chunk Producer (spec.md 4.5 FileTransferRequest); an event-only
// product leaves them empty, and StreamFiles must report a FileFetcher
// warning rather than guess a source for such a topic.
type Product struct {
	Name             string     `json:"name"`
	Topic            string     `json:"topic"`
	Consumers        []Consumer `json:"consumers"`
	SourceType       string     `json:"source_type,omitempty"`
	StorageContainer string     `json:"storage_container,omitempty"`
	Path             string     `json:"path,omitempty"`
}

// Producer is one producing organisation's connection details plus the
// products (topics) it exposes.
type Producer struct {
	Name        string    `json:"name"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	TLS         bool      `json:"tls"`
	IDPClientID string    `json:"idp_client_id"`
	Products    []Product `json:"products"`
}

// ProducerConfig is the immutable snapshot of the full producer/consumer
// graph, refreshed only via Refresh against the management collaborator.
type ProducerConfig struct {
	Producers []Producer `json:"producers"`
}

// FindConsumer returns the Consumer authorised for idpClientID on topic,
// and whether it was found. Used by the server-side auth interceptor
// (spec.md 4.1 step 3) and by the StreamEvents handler to fetch the
// consumer's attribute list it hands the conductor for filtering
// (spec.md 4.4).
func (c ProducerConfig) FindConsumer(idpClientID, topic string) (Consumer, bool) {
	for _, p := range c.Producers {
		for _, product := range p.Products {
			if product.Topic != topic {
				continue
			}
			for _, consumer := range product.Consumers {
				if consumer.IDPClientID == idpClientID {
					return consumer, true
				}
			}
		}
	}
	return Consumer{}, false
}

// Authorized reports whether idpClientID has authority over topic at all,
// i.e. whether the (producer, topic, consumer) tuple exists.
func (c ProducerConfig) Authorized(idpClientID, topic string) bool {
	_, ok := c.FindConsumer(idpClientID, topic)
	return ok
}

// FindProduct returns the Product declared for topic, and whether one was
// found. Used by the server-side StreamFiles handler to resolve the
// FileTransferRequest{source_type, storage_container, path} a topic maps
// to (spec.md 4.5).
func (c ProducerConfig) FindProduct(topic string) (Product, bool) {
	for _, p := range c.Producers {
		for _, product := range p.Products {
			if product.Topic == topic {
				return product, true
			}
		}
	}
	return Product{}, false
}

// ClientTopicOffset is the persisted resumption point for one (consumer,
// topic) pair.
type ClientTopicOffset struct {
	ConsumerID string
	Topic      string
	NextOffset int64
}

// JobSchedule is either an interval or a cron expression; exactly one should
// be set.
type JobSchedule struct {
	Interval time.Duration
	Cron     string
}

// RecurringJob is the durable record the scheduler reconciles (spec.md 4.8).
type RecurringJob struct {
	JobID              string
	JobName            string
	ManagementNodeID   string
	Topic              string
	Schedule           JobSchedule
	Retries            int
	RequireImmediate   bool
	ConnectionEndpoint string
}

// JobID computes the deterministic recurring-job id for a (job name, topic)
// pair, per spec.md 3 ("job_id is deterministic in (job_name, topic)").
func JobID(jobName, topic string) string {
	return fmt.Sprintf("%s:%s", jobName, topic)
}

// Equal reports whether two RecurringJob values are structurally identical
// for the purposes of scheduler reconciliation (spec.md 4.8 step 5): same
// schedule, retries, connection endpoint, and immediate-trigger flag.
func (j RecurringJob) Equal(other RecurringJob) bool {
	return j.Schedule == other.Schedule &&
		j.Retries == other.Retries &&
		j.ConnectionEndpoint == other.ConnectionEndpoint &&
		j.RequireImmediate == other.RequireImmediate
}

// CachedToken is an IDP access token cached under
// "management_node_{id}_access_token".
type CachedToken struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the cached token is no longer usable as of now.
func (t CachedToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Package producerconfig holds the current Producer Config snapshot the
// auth interceptor and the RPC handlers consult to authorise callers and
// locate topics (spec.md 4.1 step 3, spec.md 3 "Entities"). The snapshot is
// refreshed from the management node collaborator on an interval; readers
// never block on a refresh in flight.
//
// Grounded on the teacher's lazily-initialised, lock-guarded client
// pattern (pkg/database connection holder) generalised from a DB handle to
// an in-memory, swap-on-refresh configuration document — the source's
// process-wide mutable singleton is replaced per Design Note
// "Process-wide singletons" with an explicit struct passed through
// construction.
package producerconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/National-Digital-Twin/federator-sub003/internal/model"
	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

// Store holds the latest Producer Config snapshot and refreshes it from a
// management node base URL.
type Store struct {
	baseURL string
	httpc   *http.Client
	log     *logger.Logger

	current atomic.Pointer[model.ProducerConfig]
}

// New builds a Store with an empty initial snapshot; call Refresh before
// relying on Authorized/Consumer lookups.
func New(baseURL string, timeout time.Duration, log *logger.Logger) *Store {
	s := &Store{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		log:     log,
	}
	s.current.Store(&model.ProducerConfig{})
	return s
}

// Snapshot returns the current Producer Config. Safe for concurrent use
// with Refresh: readers always see a complete, consistent document, never
// a partially-updated one (spec.md 5 "Shared resources").
func (s *Store) Snapshot() model.ProducerConfig {
	return *s.current.Load()
}

// Authorized reports whether idpClientID may consume topic under the
// current snapshot (spec.md 4.1 step 3).
func (s *Store) Authorized(idpClientID, topic string) bool {
	return s.current.Load().Authorized(idpClientID, topic)
}

// FindConsumer returns the consumer entry for idpClientID on topic, per
// spec.md 3 "Entities".
func (s *Store) FindConsumer(idpClientID, topic string) (model.Consumer, bool) {
	return s.current.Load().FindConsumer(idpClientID, topic)
}

// Refresh pulls the latest config document from the management node and
// swaps it in atomically. A failed refresh logs and leaves the previous
// snapshot in place — callers keep authorising against stale-but-known-good
// data rather than failing every call during a transient outage.
func (s *Store) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/producer-config", nil)
	if err != nil {
		return fmt.Errorf("producerconfig: build request: %w", err)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		s.log.Warn("producerconfig: refresh failed, keeping previous snapshot: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("producerconfig: management node returned %d: %s", resp.StatusCode, string(body))
		s.log.Warn("producerconfig: refresh failed, keeping previous snapshot: %v", err)
		return err
	}

	var cfg model.ProducerConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		s.log.Warn("producerconfig: decode failed, keeping previous snapshot: %v", err)
		return fmt.Errorf("producerconfig: decode: %w", err)
	}

	s.current.Store(&cfg)
	return nil
}

// RefreshLoop runs Refresh on interval until ctx is cancelled. Intended to
// run as a background goroutine from cmd/server's lifecycle.
func (s *Store) RefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Refresh(ctx)
		}
	}
}

// Package rediscache adds a Redis write-through cache in front of
// relay/health.Store: every mutation is JSON-marshaled and SET with a TTL,
// so a secondary process (or a restarted one, ahead of gormstore.LoadAll
// finishing a slower SQL replay) can read an approximately-current health
// view without touching the primary store's mutex.
//
// Grounded on the teacher's llm/cache.MultiLevelCache — a redis.Client
// wrapped with JSON-blob Get/Set/Delete and a logger, local cache
// optional — retargeted from prompt-response caching onto per-provider
// health snapshots with no local tier (relay/health.Store already serves
// that role in-process).
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relaycore/relay/relay/breaker"
	"github.com/relaycore/relay/relay/errors"
	"github.com/relaycore/relay/relay/external"
	"github.com/relaycore/relay/relay/health"
)

// DefaultTTL is how long a cached snapshot survives without being
// refreshed by another UpdateHealth/UpdateCircuitState call.
const DefaultTTL = 10 * time.Minute

type snapshot struct {
	ProviderID      string          `json:"provider_id"`
	Score           float64         `json:"score"`
	LatencyEWMAMs   float64         `json:"latency_ewma_ms"`
	SuccessCount    int64           `json:"success_count"`
	FailureCount    int64           `json:"failure_count"`
	LastSuccessAt   *time.Time      `json:"last_success_at,omitempty"`
	LastFailureAt   *time.Time      `json:"last_failure_at,omitempty"`
	LastErrorKind   *string         `json:"last_error_kind,omitempty"`
	CircuitState    breaker.State   `json:"circuit_state"`
	CircuitOpenedAt *time.Time      `json:"circuit_opened_at,omitempty"`
	CooldownUntil   *time.Time      `json:"cooldown_until,omitempty"`
}

// Store wraps a relay/health.Store with a Redis write-through cache. It
// satisfies relay/external.HealthPersistence.
type Store struct {
	inner  *health.Store
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New wraps inner with a Redis cache. A zero ttl defaults to DefaultTTL.
func New(inner *health.Store, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{inner: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func (s *Store) key(providerID string) string {
	return "relay:health:" + providerID
}

func (s *Store) cache(ctx context.Context, providerID string) {
	h, ok := s.inner.GetHealth(providerID)
	if !ok {
		return
	}
	snap := snapshot{
		ProviderID:      h.ProviderID,
		Score:           h.Score,
		LatencyEWMAMs:   h.LatencyEWMAMs,
		SuccessCount:    h.SuccessCount,
		FailureCount:    h.FailureCount,
		LastSuccessAt:   h.LastSuccessAt,
		LastFailureAt:   h.LastFailureAt,
		CircuitState:    h.CircuitState,
		CircuitOpenedAt: h.CircuitOpenedAt,
		CooldownUntil:   h.CooldownUntil,
	}
	if h.LastErrorKind != nil {
		kind := string(*h.LastErrorKind)
		snap.LastErrorKind = &kind
	}
	data, err := json.Marshal(snap)
	if err != nil {
		s.logger.Warn("failed to marshal health snapshot", zap.String("provider_id", providerID), zap.Error(err))
		return
	}
	if err := s.rdb.Set(ctx, s.key(providerID), data, s.ttl).Err(); err != nil {
		s.logger.Warn("failed to cache health snapshot", zap.String("provider_id", providerID), zap.Error(err))
	}
}

// ReadCached returns the last Redis-cached snapshot for providerID,
// independent of the in-process store — useful for a sibling process that
// wants a best-effort view without sharing the primary Store.
func (s *Store) ReadCached(ctx context.Context, providerID string) (external.ProviderHealthView, bool) {
	data, err := s.rdb.Get(ctx, s.key(providerID)).Bytes()
	if err != nil {
		return external.ProviderHealthView{}, false
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return external.ProviderHealthView{}, false
	}
	return external.ProviderHealthView{
		ProviderID:      snap.ProviderID,
		Score:           snap.Score,
		LatencyEWMAMs:   snap.LatencyEWMAMs,
		SuccessCount:    snap.SuccessCount,
		FailureCount:    snap.FailureCount,
		LastSuccessAt:   snap.LastSuccessAt,
		LastFailureAt:   snap.LastFailureAt,
		LastErrorKind:   snap.LastErrorKind,
		CircuitState:    snap.CircuitState,
		CircuitOpenedAt: snap.CircuitOpenedAt,
		CooldownUntil:   snap.CooldownUntil,
	}, true
}

func toView(h health.ProviderHealth) external.ProviderHealthView {
	v := external.ProviderHealthView{
		ProviderID:      h.ProviderID,
		Score:           h.Score,
		LatencyEWMAMs:   h.LatencyEWMAMs,
		SuccessCount:    h.SuccessCount,
		FailureCount:    h.FailureCount,
		LastSuccessAt:   h.LastSuccessAt,
		LastFailureAt:   h.LastFailureAt,
		CircuitState:    h.CircuitState,
		CircuitOpenedAt: h.CircuitOpenedAt,
		CooldownUntil:   h.CooldownUntil,
	}
	if h.LastErrorKind != nil {
		kind := string(*h.LastErrorKind)
		v.LastErrorKind = &kind
	}
	return v
}

func (s *Store) GetHealth(providerID string) (external.ProviderHealthView, bool) {
	h, ok := s.inner.GetHealth(providerID)
	if !ok {
		return external.ProviderHealthView{}, false
	}
	return toView(h), true
}

func (s *Store) GetAllHealth() []external.ProviderHealthView {
	all := s.inner.GetAllHealth()
	out := make([]external.ProviderHealthView, 0, len(all))
	for _, h := range all {
		out = append(out, toView(h))
	}
	return out
}

func (s *Store) UpdateHealth(providerID string, success bool, latencyMs float64, errorKind *string) {
	var kind *errors.Kind
	if errorKind != nil {
		k := errors.Kind(*errorKind)
		kind = &k
	}
	s.inner.UpdateHealth(providerID, success, latencyMs, kind)
	s.cache(context.Background(), providerID)
}

func (s *Store) UpdateCircuitState(providerID string, state breaker.State, cooldownUntil *time.Time) {
	s.inner.UpdateCircuitState(providerID, state, cooldownUntil)
	s.cache(context.Background(), providerID)
}

func (s *Store) SetCooldown(providerID string, until time.Time) {
	s.inner.SetCooldown(providerID, until)
	s.cache(context.Background(), providerID)
}

func (s *Store) ClearCooldown(providerID string) {
	s.inner.ClearCooldown(providerID)
	s.cache(context.Background(), providerID)
}

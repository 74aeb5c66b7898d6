// Package gormstore adds durable, SQL-backed persistence around
// relay/health.Store: every mutation write-throughs to a table via gorm,
// and LoadAll replays a table's rows back into the in-memory store at
// startup so health survives a process restart.
//
// Grounded on the teacher's llm.HealthMonitor, which keeps its score map
// in memory but drives recomputation from gorm table queries
// (db.Table("sc_llm_providers")/db.Table("sc_llm_usage_logs")) — reshaped
// here from periodic recompute-from-logs into synchronous write-through of
// the exact record relay/health.Store already maintains.
package gormstore

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relaycore/relay/relay/breaker"
	"github.com/relaycore/relay/relay/errors"
	"github.com/relaycore/relay/relay/external"
	"github.com/relaycore/relay/relay/health"
)

// providerHealthRow is the durable row shape for one provider's health
// record.
type providerHealthRow struct {
	ProviderID      string `gorm:"primaryKey;column:provider_id"`
	Score           float64
	LatencyEWMAMs   float64
	SuccessCount    int64
	FailureCount    int64
	LastSuccessAt   *time.Time
	LastFailureAt   *time.Time
	LastErrorKind   *string
	CircuitState    string
	CircuitOpenedAt *time.Time
	CooldownUntil   *time.Time
	UpdatedAt       time.Time
}

func (providerHealthRow) TableName() string { return "relay_provider_health" }

// Store wraps a relay/health.Store with gorm-backed write-through
// persistence. It satisfies relay/external.HealthPersistence.
type Store struct {
	inner  *health.Store
	db     *gorm.DB
	logger *zap.Logger
}

// New wraps inner with a gorm-backed Store, applying the health table's
// golang-migrate migrations if they have not already run.
func New(inner *health.Store, db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := migrateSchema(db); err != nil {
		return nil, err
	}
	return &Store{inner: inner, db: db, logger: logger}, nil
}

// LoadAll replays every persisted row into the wrapped in-memory store,
// for use once at process startup before the router begins routing.
func (s *Store) LoadAll(ctx context.Context) error {
	var rows []providerHealthRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return err
	}
	for _, r := range rows {
		var kind *errors.Kind
		if r.LastErrorKind != nil {
			k := errors.Kind(*r.LastErrorKind)
			kind = &k
		}
		s.inner.LoadRecord(health.ProviderHealth{
			ProviderID:      r.ProviderID,
			Score:           r.Score,
			LatencyEWMAMs:   r.LatencyEWMAMs,
			SuccessCount:    r.SuccessCount,
			FailureCount:    r.FailureCount,
			LastSuccessAt:   r.LastSuccessAt,
			LastFailureAt:   r.LastFailureAt,
			LastErrorKind:   kind,
			CircuitState:    breaker.State(r.CircuitState),
			CircuitOpenedAt: r.CircuitOpenedAt,
			CooldownUntil:   r.CooldownUntil,
		})
		s.logger.Debug("loaded persisted health", zap.String("provider_id", r.ProviderID), zap.Float64("score", r.Score))
	}
	return nil
}

func (s *Store) persist(providerID string) {
	h, ok := s.inner.GetHealth(providerID)
	if !ok {
		return
	}
	row := providerHealthRow{
		ProviderID:      h.ProviderID,
		Score:           h.Score,
		LatencyEWMAMs:   h.LatencyEWMAMs,
		SuccessCount:    h.SuccessCount,
		FailureCount:    h.FailureCount,
		LastSuccessAt:   h.LastSuccessAt,
		LastFailureAt:   h.LastFailureAt,
		CircuitState:    string(h.CircuitState),
		CircuitOpenedAt: h.CircuitOpenedAt,
		CooldownUntil:   h.CooldownUntil,
		UpdatedAt:       health.Now(),
	}
	if h.LastErrorKind != nil {
		kind := string(*h.LastErrorKind)
		row.LastErrorKind = &kind
	}
	if err := s.db.Save(&row).Error; err != nil {
		s.logger.Warn("failed to persist provider health", zap.String("provider_id", providerID), zap.Error(err))
	}
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
	s.persist(providerID)
}

func (s *Store) UpdateCircuitState(providerID string, state breaker.State, cooldownUntil *time.Time) {
	s.inner.UpdateCircuitState(providerID, state, cooldownUntil)
	s.persist(providerID)
}

func (s *Store) SetCooldown(providerID string, until time.Time) {
	s.inner.SetCooldown(providerID, until)
	s.persist(providerID)
}

func (s *Store) ClearCooldown(providerID string) {
	s.inner.ClearCooldown(providerID)
	s.persist(providerID)
}

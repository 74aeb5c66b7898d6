// Package pool implements the candidate provider pool: eligibility
// filtering, weight assignment from health + priority + randomness + an
// anti-repeat penalty, and weighted-random selection.
//
// Grounded on the teacher's llm/router.WeightedRouter — specifically its
// scoreCandidates/weightedSelect cumulative-weight sampling idiom (a
// mutex-guarded *rand.Rand, sum the scores, draw a uniform target, walk
// the cumulative sum) — retargeted from cost/latency/quality scoring onto
// the exact health/priority/randomness/anti-repeat weight formula below.
package pool

import (
	"math/rand"
	"sync"
	"time"

	"github.com/relaycore/relay/relay/breaker"
	"github.com/relaycore/relay/relay/health"
)

// Descriptor is the static, configuration-level view of a registered
// provider the pool needs to judge eligibility and weight.
type Descriptor struct {
	ID         string
	Priority   int // 0-100
	Enabled    bool
	HasKey     bool
	DisplayName string
}

// Candidate is the transient, per-selection-round view of an eligible
// provider, with its weight already computed.
type Candidate struct {
	ID          string
	DisplayName string
	Priority    int
	HealthScore float64
	Weight      float64
}

// Request carries the inputs to one selection round.
type Request struct {
	ExcludeProviders map[string]bool
	RecentProviders  []string // ordered, most-recent last
}

// Pool filters and weighs candidates. It is stateless across rounds except
// for its shared RNG; all inputs (descriptors, health, breaker) are
// supplied by reference and read fresh on every call.
type Pool struct {
	descriptors func() []Descriptor
	health      *health.Store
	breaker     *breaker.Breaker

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a Pool. descriptors is called on every Get to obtain the
// current set of registered provider descriptors (configuration may
// change at runtime via hot-reload).
func New(descriptors func() []Descriptor, healthStore *health.Store, circuitBreaker *breaker.Breaker) *Pool {
	return NewWithSeed(descriptors, healthStore, circuitBreaker, time.Now().UnixNano())
}

// NewWithSeed creates a Pool with a deterministic RNG seed, for
// reproducible candidate selection in tests.
func NewWithSeed(descriptors func() []Descriptor, healthStore *health.Store, circuitBreaker *breaker.Breaker, seed int64) *Pool {
	return &Pool{
		descriptors: descriptors,
		health:      healthStore,
		breaker:     circuitBreaker,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Get returns every eligible candidate for req, with weights computed.
// Eligibility: registered+enabled+has a credential, not excluded,
// circuit breaker admits it, no active cooldown, and a health record
// exists.
func (p *Pool) Get(req Request) []Candidate {
	out := make([]Candidate, 0)
	for _, d := range p.descriptors() {
		if !d.Enabled || !d.HasKey {
			continue
		}
		if req.ExcludeProviders != nil && req.ExcludeProviders[d.ID] {
			continue
		}
		if !p.breaker.CanAttempt(d.ID) {
			continue
		}
		h, ok := p.health.GetHealth(d.ID)
		if !ok {
			continue
		}

		weight := computeWeight(d, h.Score, req.RecentProviders, p.drawRandomWeight())
		out = append(out, Candidate{
			ID:          d.ID,
			DisplayName: d.DisplayName,
			Priority:    d.Priority,
			HealthScore: h.Score,
			Weight:      weight,
		})
	}
	return out
}

func (p *Pool) drawRandomWeight() float64 {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return 0.5 + p.rng.Float64()*0.5
}

// computeWeight implements the canonical candidate weight formula.
func computeWeight(d Descriptor, healthScore float64, recent []string, randomW float64) float64 {
	priorityW := float64(d.Priority) / 100
	base := 0.30*healthScore + 0.20*priorityW + 0.50*randomW
	return base * antiRepeatMultiplier(d.ID, recent)
}

// antiRepeatMultiplier penalizes a provider by how recently it served this
// conversation, over a window of the last 3: most recent -> 0.2, second ->
// 0.5, third -> 0.7, otherwise (or not present) -> 1.0.
func antiRepeatMultiplier(providerID string, recent []string) float64 {
	n := len(recent)
	for offset, mult := range []float64{0.2, 0.5, 0.7} {
		idx := n - 1 - offset
		if idx < 0 {
			break
		}
		if recent[idx] == providerID {
			return mult
		}
	}
	return 1.0
}

// Select performs weighted-random selection over candidates. Returns
// (Candidate{}, false) only when candidates is empty; a zero sum of
// weights selects uniformly at random, and a single candidate is returned
// directly.
func (p *Pool) Select(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}

	var total float64
	for _, c := range candidates {
		total += c.Weight
	}

	p.rngMu.Lock()
	defer p.rngMu.Unlock()

	if total <= 0 {
		idx := p.rng.Intn(len(candidates))
		return candidates[idx], true
	}

	target := p.rng.Float64() * total
	var cumulative float64
	for _, c := range candidates {
		cumulative += c.Weight
		if cumulative >= target {
			return c, true
		}
	}
	return candidates[len(candidates)-1], true
}

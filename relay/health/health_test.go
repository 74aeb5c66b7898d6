package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/relaycore/relay/relay/breaker"
)

func TestStore_RegisterDefaultsToFullyHealthy(t *testing.T) {
	s := NewStore()
	s.Register("p1")

	h, ok := s.GetHealth("p1")
	require.True(t, ok)
	assert.Equal(t, 1.0, h.Score)
	assert.Equal(t, breaker.StateClosed, h.CircuitState)
	assert.Equal(t, StatusExcellent, h.Status())
}

func TestStore_UpdateHealth_SuccessRaisesScore(t *testing.T) {
	s := NewStore()
	s.Register("p1")

	s.UpdateHealth("p1", true, 100, nil)
	h, _ := s.GetHealth("p1")
	assert.Equal(t, int64(1), h.SuccessCount)
	assert.NotNil(t, h.LastSuccessAt)
	assert.InDelta(t, 20.0, h.LatencyEWMAMs, 0.001) // 0.2*100 + 0.8*0
	assert.InDelta(t, 0.998, h.Score, 1e-9)         // rate=1, penalty = 20/10_000 = 0.002
}

func TestStore_UpdateHealth_OnlyFailuresScoreZero(t *testing.T) {
	s := NewStore()
	s.Register("p1")

	s.UpdateHealth("p1", false, 50, nil)
	h, _ := s.GetHealth("p1")
	assert.Equal(t, int64(1), h.FailureCount)
	assert.Equal(t, 0.0, h.Score)
	assert.NotNil(t, h.LastFailureAt)
}

func TestStore_UpdateCircuitState_OpenSetsOpenedAtAndCooldown(t *testing.T) {
	s := NewStore()
	s.Register("p1")

	until := Now().Add(2 * time.Minute)
	s.UpdateCircuitState("p1", breaker.StateOpen, &until)

	h, _ := s.GetHealth("p1")
	assert.Equal(t, breaker.StateOpen, h.CircuitState)
	require.NotNil(t, h.CircuitOpenedAt)
	require.NotNil(t, h.CooldownUntil)
	assert.Equal(t, until, *h.CooldownUntil)
}

func TestStore_UpdateCircuitState_ClosedClearsOpenedAtAndCooldown(t *testing.T) {
	s := NewStore()
	s.Register("p1")
	until := Now().Add(time.Minute)
	s.UpdateCircuitState("p1", breaker.StateOpen, &until)

	s.UpdateCircuitState("p1", breaker.StateClosed, nil)
	h, _ := s.GetHealth("p1")
	assert.Nil(t, h.CircuitOpenedAt)
	assert.Nil(t, h.CooldownUntil)
}

func TestStore_Reset(t *testing.T) {
	s := NewStore()
	s.Register("p1")
	s.UpdateHealth("p1", false, 9000, nil)
	until := Now().Add(time.Minute)
	s.UpdateCircuitState("p1", breaker.StateOpen, &until)

	s.Reset("p1")
	h, _ := s.GetHealth("p1")
	assert.Equal(t, 1.0, h.Score)
	assert.Equal(t, breaker.StateClosed, h.CircuitState)
	assert.Nil(t, h.CooldownUntil)
	assert.Equal(t, int64(0), h.SuccessCount)
}

func TestStore_GetAllHealth(t *testing.T) {
	s := NewStore()
	s.Register("p1")
	s.Register("p2")
	all := s.GetAllHealth()
	assert.Len(t, all, 2)
}

// Property 1: health score bounds.
func TestProperty_ScoreBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		successCount := rapid.Int64Range(0, 1_000_000).Draw(t, "successCount")
		failureCount := rapid.Int64Range(0, 1_000_000).Draw(t, "failureCount")
		latency := rapid.Float64Range(0, 1_000_000).Draw(t, "latencyEWMAMs")

		score := computeScore(successCount, failureCount, latency)
		if score < 0 || score > 1 {
			t.Fatalf("score out of [0,1]: %v", score)
		}

		if successCount == 0 && failureCount == 0 && latency == 0 {
			if score != 1.0 {
				t.Fatalf("zero requests and zero latency should score 1.0, got %v", score)
			}
		}
		if failureCount == 0 && successCount > 0 && latency == 0 {
			if score != 1.0 {
				t.Fatalf("only successes with zero latency should score 1.0, got %v", score)
			}
		}
		if successCount == 0 && failureCount > 0 {
			if score != 0.0 {
				t.Fatalf("only failures should score 0.0, got %v", score)
			}
		}
	})
}

// Property 2: EWMA convergence — repeatedly applying the same latency
// sample converges to that latency within epsilon after O(1/epsilon)
// updates.
func TestProperty_EWMAConvergence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		target := rapid.Float64Range(1, 10_000).Draw(t, "target")

		ewma := 0.0
		const epsilon = 0.5
		maxIterations := int(10/EWMAAlpha) + 100 // generous O(1/epsilon) bound

		converged := false
		for i := 0; i < maxIterations; i++ {
			ewma = EWMAAlpha*target + (1-EWMAAlpha)*ewma
			if diff := target - ewma; diff >= -epsilon && diff <= epsilon {
				converged = true
				break
			}
		}
		if !converged {
			t.Fatalf("EWMA did not converge to %v within %d iterations, got %v", target, maxIterations, ewma)
		}
	})
}

func TestClassifyStatus_Bands(t *testing.T) {
	cases := []struct {
		score float64
		want  Status
	}{
		{1.0, StatusExcellent},
		{0.9, StatusExcellent},
		{0.89, StatusGood},
		{0.7, StatusGood},
		{0.69, StatusDegraded},
		{0.5, StatusDegraded},
		{0.49, StatusPoor},
		{0.3, StatusPoor},
		{0.29, StatusUnavailable},
		{0.0, StatusUnavailable},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyStatus(c.score), "score=%v", c.score)
	}
}

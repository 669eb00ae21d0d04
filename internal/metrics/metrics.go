package metrics

import (
	"sort"
	"sync"
	"time"
)

const latencySampleCap = 1024

// Registry collects operational counters for the ingest path. One
// instance is constructed at startup and shared by the compression
// pipeline and the dedup engine.
type Registry struct {
	mu sync.Mutex

	tierCounts    map[string]int64
	outcomeCounts map[string]int64

	gatePassed int64
	gateFailed int64

	cacheHits   int64
	cacheMisses int64

	embedAttempts  int64
	embedFallbacks int64

	// Fixed-size ring of recent ingest latencies.
	latencies    []time.Duration
	latencyIndex int
	latencyFull  bool
}

type Snapshot struct {
	TierCounts    map[string]int64 `json:"compression_tier_counts"`
	OutcomeCounts map[string]int64 `json:"ingest_outcome_counts"`
	GatePassRate  float64          `json:"gate_pass_rate"`
	CacheHitRate  float64          `json:"cache_hit_rate"`
	FallbackRate  float64          `json:"fallback_rate"`
	P50LatencyMS  float64          `json:"p50_latency_ms"`
	P95LatencyMS  float64          `json:"p95_latency_ms"`
}

func NewRegistry() *Registry {
	return &Registry{
		tierCounts:    make(map[string]int64),
		outcomeCounts: make(map[string]int64),
		latencies:     make([]time.Duration, latencySampleCap),
	}
}

func (r *Registry) ObserveTier(tier string, gatePassed bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tierCounts[tier]++
	if gatePassed {
		r.gatePassed++
	} else {
		r.gateFailed++
	}
}

func (r *Registry) ObserveOutcome(outcome string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomeCounts[outcome]++
}

func (r *Registry) ObserveCache(hit bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.cacheHits++
	} else {
		r.cacheMisses++
	}
}

// ObserveEmbedAttempt marks one attempt to obtain embeddings, whether
// it is a compression-tier selection or a standalone vector lookup. It
// is the denominator of the fallback rate.
func (r *Registry) ObserveEmbedAttempt() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedAttempts++
}

func (r *Registry) ObserveEmbedFallback() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedFallbacks++
}

func (r *Registry) ObserveLatency(d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies[r.latencyIndex] = d
	r.latencyIndex++
	if r.latencyIndex >= len(r.latencies) {
		r.latencyIndex = 0
		r.latencyFull = true
	}
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		TierCounts:    make(map[string]int64, len(r.tierCounts)),
		OutcomeCounts: make(map[string]int64, len(r.outcomeCounts)),
	}
	for tier, count := range r.tierCounts {
		snap.TierCounts[tier] = count
	}
	for outcome, count := range r.outcomeCounts {
		snap.OutcomeCounts[outcome] = count
	}

	snap.GatePassRate = ratio(r.gatePassed, r.gatePassed+r.gateFailed)
	snap.CacheHitRate = ratio(r.cacheHits, r.cacheHits+r.cacheMisses)
	snap.FallbackRate = ratio(r.embedFallbacks, r.embedAttempts)

	samples := r.latencySamples()
	if len(samples) > 0 {
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		snap.P50LatencyMS = millis(percentile(samples, 0.50))
		snap.P95LatencyMS = millis(percentile(samples, 0.95))
	}
	return snap
}

func (r *Registry) latencySamples() []time.Duration {
	count := r.latencyIndex
	if r.latencyFull {
		count = len(r.latencies)
	}
	samples := make([]time.Duration, count)
	copy(samples, r.latencies[:count])
	return samples
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	index := int(q * float64(len(sorted)-1))
	return sorted[index]
}

func ratio(numerator, denominator int64) float64 {
	if denominator <= 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

package compress

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"horse.fit/insights/internal/fingerprint"
	"horse.fit/insights/internal/metrics"
	"horse.fit/insights/internal/retry"
)

// Tier labels, in cascade order from cheapest to most expensive.
const (
	TierShortCircuit = "short_circuit"
	TierPreSplit     = "pre_split"
	TierRuleBased    = "rule_based"
	TierEmbedding    = "embedding"
)

const (
	DefaultMaxSummaryLen  = 260
	DefaultShortThreshold = 120
	DefaultTopN           = 2
	DefaultCacheTTL       = 6 * time.Hour
	DefaultInflightWait   = 10 * time.Second

	// A pool sentence below this length counts as "short" for the
	// well-segmented check.
	perSentenceMaxLen = 160

	// Topic vector reference length when no hint sentence is given.
	topicReferenceLen = 200

	gateRatioCeiling      = 0.60
	effectiveRatioCeiling = 0.85
	gateShortInputFactor  = 2

	// Gate ceilings as fractions of the hard budget. Both sit below
	// MaxSummaryLen: an output can fit the hard budget and still fail
	// its gate, which is what makes the stricter sentence-boundary
	// attempt reachable.
	gateSmallCeilingPct = 70
	gateLenCeilingPct   = 85
)

// Embedder produces vectors for text; the model identity tags cache
// keys so entries invalidate across model upgrades.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	ModelName() string
	ModelVersion() string
}

type Options struct {
	MaxSummaryLen  int
	ShortThreshold int
	TopN           int
	CacheTTL       time.Duration
	InflightWait   time.Duration
	RetryPolicy    retry.Policy
}

// Result reports one compression call. Degradation shows up here and
// in metrics, never as an error: Compress cannot fail the ingestion.
type Result struct {
	Text       string
	Tier       string
	Ratio      float64
	GatePassed bool
	Effective  bool
	CacheHit   bool
}

// Pipeline is the process-wide compression service: built once at
// startup, shared by all ingest workers. The vector cache and the
// in-flight group are the only shared state and both are safe for
// concurrent use.
type Pipeline struct {
	opts     Options
	embedder Embedder
	cache    *gocache.Cache
	inflight singleflight.Group
	metrics  *metrics.Registry
	logger   zerolog.Logger
}

func NewPipeline(embedder Embedder, registry *metrics.Registry, logger zerolog.Logger, opts Options) *Pipeline {
	normalized := normalizeOptions(opts)
	return &Pipeline{
		opts:     normalized,
		embedder: embedder,
		cache:    gocache.New(normalized.CacheTTL, normalized.CacheTTL/2),
		metrics:  registry,
		logger:   logger,
	}
}

// Compress reduces raw text to at most MaxSummaryLen runes through the
// tier cascade. It never returns an error for non-empty input; every
// failure path degrades to rule-based truncation.
func (p *Pipeline) Compress(ctx context.Context, raw, hint string) Result {
	raw = strings.TrimSpace(raw)
	hint = strings.TrimSpace(hint)
	inputLen := utf8.RuneCountInString(raw)

	if inputLen == 0 {
		return p.finish(raw, "", TierShortCircuit, false)
	}

	// Tier 1: inputs too small to benefit pass through untouched.
	if inputLen < p.opts.ShortThreshold {
		return p.finish(raw, raw, TierShortCircuit, false)
	}

	pool := splitSentencePool(raw)

	// Tier 2: an already well-segmented pool skips the embedding tier.
	if isWellSegmented(pool, perSentenceMaxLen) {
		text := p.ruleBasedSelect(pool)
		return p.finish(raw, text, TierPreSplit, false)
	}

	// Tier 4 runs before the final rule-based fallback: it is the only
	// tier that can pick non-leading sentences.
	if p.embedder != nil && len(pool) > 1 {
		p.metrics.ObserveEmbedAttempt()
		if text, cacheHit, ok := p.embeddingSelect(ctx, raw, hint, pool); ok {
			return p.finish(raw, text, TierEmbedding, cacheHit)
		}
		p.metrics.ObserveEmbedFallback()
	}

	// Tier 3: the default fallback for every failure path.
	text := p.ruleBasedSelect(pool)
	return p.finish(raw, text, TierRuleBased, false)
}

// ruleBasedSelect keeps the first sentence and, when it adds
// information and still fits, the last one; the result is truncated on
// a word boundary.
func (p *Pipeline) ruleBasedSelect(pool []string) string {
	if len(pool) == 0 {
		return ""
	}

	first := pool[0]
	if len(pool) > 1 {
		last := pool[len(pool)-1]
		combined := joinSentences([]string{first, last})
		if last != first &&
			utf8.RuneCountInString(combined) <= p.opts.MaxSummaryLen &&
			addsInformation(first, last) {
			return combined
		}
	}
	return truncateAtWordBoundary(first, p.opts.MaxSummaryLen)
}

// embeddingSelect ranks pool sentences by cosine similarity against a
// topic vector and concatenates the top-N. Returns ok=false on any
// failure; the caller falls back to the rule-based tier.
func (p *Pipeline) embeddingSelect(ctx context.Context, raw, hint string, pool []string) (string, bool, bool) {
	reference := hint
	if reference == "" {
		reference = headRunes(raw, topicReferenceLen)
	}

	topic, cacheHit, err := p.vector(ctx, reference)
	if err != nil {
		p.logger.Debug().Err(err).Msg("topic vector unavailable; falling back to rule-based tier")
		return "", false, false
	}

	type scored struct {
		index    int
		sentence string
		cosine   float64
	}
	ranked := make([]scored, 0, len(pool))
	for i, sentence := range pool {
		vec, hit, err := p.vector(ctx, sentence)
		if err != nil {
			p.logger.Debug().Err(err).Msg("sentence vector unavailable; falling back to rule-based tier")
			return "", false, false
		}
		cacheHit = cacheHit && hit
		ranked = append(ranked, scored{index: i, sentence: sentence, cosine: cosineSimilarity(topic, vec)})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].cosine > ranked[j].cosine })

	topN := p.opts.TopN
	if topN > len(ranked) {
		topN = len(ranked)
	}
	selected := ranked[:topN]

	// The hint sentence is always part of the output when provided.
	if hint != "" {
		hasHint := false
		for _, s := range selected {
			if s.sentence == hint {
				hasHint = true
				break
			}
		}
		if !hasHint {
			selected = append([]scored{{index: -1, sentence: hint, cosine: 1}}, selected...)
			if len(selected) > topN+1 {
				selected = selected[:topN+1]
			}
		}
	}

	// Restore document order so the summary reads naturally.
	sort.SliceStable(selected, func(i, j int) bool { return selected[i].index < selected[j].index })

	sentences := make([]string, 0, len(selected))
	for _, s := range selected {
		sentences = append(sentences, s.sentence)
	}
	text := truncateAtWordBoundary(joinSentences(sentences), p.opts.MaxSummaryLen)
	return text, cacheHit, true
}

// Vector returns the embedding for text through the same cache,
// in-flight group, and retry policy as the compression tiers. ok is
// false when no embedder is configured or the service is unavailable;
// callers degrade to non-semantic signals.
func (p *Pipeline) Vector(ctx context.Context, text string) ([]float64, bool) {
	if p == nil || p.embedder == nil || strings.TrimSpace(text) == "" {
		return nil, false
	}
	p.metrics.ObserveEmbedAttempt()
	vec, _, err := p.vector(ctx, text)
	if err != nil {
		p.metrics.ObserveEmbedFallback()
		return nil, false
	}
	return vec, true
}

// vector resolves an embedding through cache, in-flight group, and the
// retry policy, in that order. Concurrent requests for the same input
// share one network call; a request that cannot join promptly gives up
// rather than blocking.
func (p *Pipeline) vector(ctx context.Context, text string) ([]float64, bool, error) {
	key := p.cacheKey(text)
	if cached, found := p.cache.Get(key); found {
		p.metrics.ObserveCache(true)
		return cached.([]float64), true, nil
	}
	p.metrics.ObserveCache(false)

	resultCh := p.inflight.DoChan(key, func() (any, error) {
		var vec []float64
		err := p.opts.RetryPolicy.Do(ctx, func(ctx context.Context) error {
			got, embedErr := p.embedder.Embed(ctx, text)
			if embedErr != nil {
				return embedErr
			}
			vec = got
			return nil
		})
		if err != nil {
			return nil, err
		}
		p.cache.Set(key, vec, gocache.DefaultExpiration)
		return vec, nil
	})

	wait := time.NewTimer(p.opts.InflightWait)
	defer wait.Stop()

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]float64), false, nil
	case <-wait.C:
		return nil, false, fmt.Errorf("in-flight embedding wait exceeded %s", p.opts.InflightWait)
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// cacheKey binds the vector to the exact normalized-text fingerprint
// and every parameter that could change the result. The fuzzy variant
// folds numbers and proper nouns, so it would alias distinct sentences
// onto one entry; the cache must only ever serve a text its own vector.
func (p *Pipeline) cacheKey(text string) string {
	return fmt.Sprintf("%s:%s:%s:%d:%d",
		fingerprint.Exact(text).Hex(),
		p.embedder.ModelName(),
		p.embedder.ModelVersion(),
		p.opts.MaxSummaryLen,
		p.opts.TopN,
	)
}

// finish applies the quality gates and the post-gate stricter fallback,
// then records metrics. Gates observe, they do not block.
func (p *Pipeline) finish(raw, text, tier string, cacheHit bool) Result {
	inputLen := utf8.RuneCountInString(raw)
	outputLen := utf8.RuneCountInString(text)

	ratio := 1.0
	if inputLen > 0 {
		ratio = float64(outputLen) / float64(inputLen)
	}

	gatePassed := p.gatePassed(inputLen, outputLen, ratio)
	if !gatePassed {
		// Stricter attempt before returning: whole sentences only,
		// cut to the ceiling the output missed.
		if strict := truncateAtSentenceBoundary(text, p.gateCeiling(inputLen)); strict != "" {
			text = strict
			outputLen = utf8.RuneCountInString(text)
			if inputLen > 0 {
				ratio = float64(outputLen) / float64(inputLen)
			}
		}
	}

	result := Result{
		Text:       text,
		Tier:       tier,
		Ratio:      ratio,
		GatePassed: gatePassed,
		Effective:  ratio <= effectiveRatioCeiling || outputLen <= p.opts.MaxSummaryLen,
		CacheHit:   cacheHit,
	}
	p.metrics.ObserveTier(tier, gatePassed)
	return result
}

func (p *Pipeline) gatePassed(inputLen, outputLen int, ratio float64) bool {
	if inputLen < p.opts.ShortThreshold*gateShortInputFactor {
		return outputLen <= p.smallLenCeiling()
	}
	return ratio <= gateRatioCeiling || outputLen <= p.lenCeiling()
}

func (p *Pipeline) smallLenCeiling() int { return p.opts.MaxSummaryLen * gateSmallCeilingPct / 100 }

func (p *Pipeline) lenCeiling() int { return p.opts.MaxSummaryLen * gateLenCeilingPct / 100 }

func (p *Pipeline) gateCeiling(inputLen int) int {
	if inputLen < p.opts.ShortThreshold*gateShortInputFactor {
		return p.smallLenCeiling()
	}
	return p.lenCeiling()
}

// addsInformation reports whether the last sentence contributes tokens
// the first sentence does not already carry.
func addsInformation(first, last string) bool {
	firstTokens := make(map[string]struct{})
	for _, token := range strings.Fields(strings.ToLower(first)) {
		firstTokens[token] = struct{}{}
	}
	novel := 0
	for _, token := range strings.Fields(strings.ToLower(last)) {
		if _, seen := firstTokens[token]; !seen {
			novel++
		}
	}
	return novel >= 3
}

func cosineSimilarity(left, right []float64) float64 {
	if len(left) == 0 || len(left) != len(right) {
		return 0
	}
	var dot, leftNorm, rightNorm float64
	for i := range left {
		dot += left[i] * right[i]
		leftNorm += left[i] * left[i]
		rightNorm += right[i] * right[i]
	}
	if leftNorm == 0 || rightNorm == 0 {
		return 0
	}
	return dot / (math.Sqrt(leftNorm) * math.Sqrt(rightNorm))
}

func headRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	if normalized.MaxSummaryLen <= 0 {
		normalized.MaxSummaryLen = DefaultMaxSummaryLen
	}
	if normalized.ShortThreshold <= 0 {
		normalized.ShortThreshold = DefaultShortThreshold
	}
	if normalized.TopN <= 0 {
		normalized.TopN = DefaultTopN
	}
	if normalized.CacheTTL <= 0 {
		normalized.CacheTTL = DefaultCacheTTL
	}
	if normalized.InflightWait <= 0 {
		normalized.InflightWait = DefaultInflightWait
	}
	if normalized.RetryPolicy.MaxAttempts == 0 {
		normalized.RetryPolicy = retry.DefaultPolicy()
	}
	return normalized
}

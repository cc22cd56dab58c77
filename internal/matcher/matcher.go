// Package matcher maps probe face embeddings to enrolled students using an in-memory,
// periodically refreshed cache of reference embeddings.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/gate-attendance/internal/database"
	"github.com/kozaktomas/gate-attendance/internal/logger"
	"github.com/kozaktomas/gate-attendance/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Matching defaults.
const (
	DefaultThreshold    = 0.75
	DefaultCacheTTL     = 5 * time.Minute
	DefaultBatchWorkers = 8
)

var (
	// ErrMalformedProbe is returned for probes with zero norm or the wrong dimensionality.
	ErrMalformedProbe = errors.New("malformed probe embedding")
	// ErrEmptyCache is returned when no cache generation has been loaded yet.
	ErrEmptyCache = errors.New("embedding cache not loaded")
)

// Result is the outcome of matching one probe. A no-match is not an error: Matched is false and
// Score carries the best similarity observed.
type Result struct {
	StudentID string  `json:"identity,omitempty"`
	Name      string  `json:"name,omitempty"`
	Score     float64 `json:"confidence"`
	Matched   bool    `json:"matched"`
	Err       error   `json:"-"`
}

// Options configures a Matcher.
type Options struct {
	Threshold    float64
	TTL          time.Duration
	BatchWorkers int
	Loader       EmbeddingLoader
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Stats describes the active cache generation.
type Stats struct {
	Loaded      bool          `json:"loaded"`
	GeneratedAt time.Time     `json:"generated_at"`
	Age         time.Duration `json:"age_ns"`
	Identities  int           `json:"identities"`
	References  int           `json:"references"`
	Dim         int           `json:"dim"`
	Stale       bool          `json:"stale"`
}

// Matcher holds the active cache generation behind an atomic pointer. Readers never block;
// refreshes build a new generation aside and publish it with a single swap.
type Matcher struct {
	source  database.IdentityReader
	opts    Options
	log     *logger.Logger
	current atomic.Pointer[Generation]

	refreshMu sync.Mutex // serializes refreshes only
}

// New creates a matcher. Nothing is loaded until Refresh or Run is called.
func New(source database.IdentityReader, log *logger.Logger, opts Options) *Matcher {
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultThreshold
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.BatchWorkers <= 0 {
		opts.BatchWorkers = DefaultBatchWorkers
	}
	if opts.Loader == nil {
		opts.Loader = LoadEmbeddingFile
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Matcher{source: source, opts: opts, log: log.With("component", "matcher")}
}

// Threshold returns the default similarity threshold.
func (m *Matcher) Threshold() float64 {
	return m.opts.Threshold
}

// Generation returns the active generation, or nil before the first successful refresh.
func (m *Matcher) Generation() *Generation {
	return m.current.Load()
}

// Refresh reloads every enrolled identity into a new generation and swaps it in. On failure
// the previous generation stays active and the error is returned.
func (m *Matcher) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	started := m.opts.Now()
	records, err := m.source.ListEnrolledIdentities(ctx)
	if err != nil {
		m.opts.Metrics.ObserveRefresh(err, 0, 0, time.Time{})
		m.log.Warn("embedding cache refresh failed, keeping previous generation", "error", err)
		return fmt.Errorf("list enrolled identities: %w", err)
	}

	gen, skipped := buildGeneration(records, m.opts.Loader, started, m.log)
	m.current.Store(gen)

	m.opts.Metrics.ObserveRefresh(nil, gen.Identities(), gen.References(), gen.GeneratedAt)
	m.log.Info("embedding cache refreshed",
		"identities", gen.Identities(),
		"references", gen.References(),
		"dim", gen.Dim,
		"skipped", len(skipped),
		"elapsed", m.opts.Now().Sub(started).String())
	for _, s := range skipped {
		m.log.Warn("identity skipped", "student_id", s.ID, "reason", s.Reason)
	}
	return nil
}

// Run refreshes the cache immediately and then every TTL until ctx is cancelled.
func (m *Matcher) Run(ctx context.Context) {
	_ = m.Refresh(ctx)

	ticker := time.NewTicker(m.opts.TTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.Refresh(ctx)
		}
	}
}

// Stats describes the active generation. Stale is set when no generation is loaded or the
// active one is older than the TTL, which means background refreshes are failing.
func (m *Matcher) Stats() Stats {
	gen := m.current.Load()
	if gen == nil {
		return Stats{Stale: true}
	}
	age := m.opts.Now().Sub(gen.GeneratedAt)
	return Stats{
		Loaded:      true,
		GeneratedAt: gen.GeneratedAt,
		Age:         age,
		Identities:  gen.Identities(),
		References:  gen.References(),
		Dim:         gen.Dim,
		Stale:       age >= m.opts.TTL,
	}
}

// Match finds the enrolled identity most similar to probe. threshold <= 0 selects the
// configured default. Returns ErrMalformedProbe for zero or wrongly sized probes and
// ErrEmptyCache before the first refresh.
func (m *Matcher) Match(probe []float32, threshold float64) (Result, error) {
	gen := m.current.Load()
	if gen == nil {
		return Result{}, ErrEmptyCache
	}
	return m.matchIn(gen, probe, m.threshold(threshold))
}

// MatchBatch matches probes concurrently against one generation, preserving input order.
// Malformed probes are reported in their Result.Err without aborting the rest of the batch.
func (m *Matcher) MatchBatch(ctx context.Context, probes [][]float32, threshold float64) ([]Result, error) {
	gen := m.current.Load()
	if gen == nil {
		return nil, ErrEmptyCache
	}
	threshold = m.threshold(threshold)

	results := make([]Result, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.BatchWorkers)
	for i := range probes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := m.matchIn(gen, probes[i], threshold)
			if err != nil {
				res.Err = err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("match batch: %w", err)
	}
	return results, nil
}

func (m *Matcher) threshold(t float64) float64 {
	if t <= 0 || t > 1 {
		return m.opts.Threshold
	}
	return t
}

func (m *Matcher) matchIn(gen *Generation, probe []float32, threshold float64) (Result, error) {
	started := time.Now()

	if gen.Dim > 0 && len(probe) != gen.Dim {
		m.opts.Metrics.ObserveMatch("malformed", time.Since(started))
		return Result{}, fmt.Errorf("%w: got %d dimensions, expected %d", ErrMalformedProbe, len(probe), gen.Dim)
	}
	unit := normalize(probe)
	if unit == nil {
		m.opts.Metrics.ObserveMatch("malformed", time.Since(started))
		return Result{}, fmt.Errorf("%w: zero or non-finite vector", ErrMalformedProbe)
	}

	bestIdx, bestScore := -1, math.Inf(-1)
	for i := range gen.identities {
		for _, ref := range gen.identities[i].refs {
			// Strict comparison keeps the first identity encountered on ties.
			if s := dot(unit, ref); s > bestScore {
				bestIdx, bestScore = i, s
			}
		}
	}

	if bestIdx < 0 {
		m.opts.Metrics.ObserveMatch("no_match", time.Since(started))
		return Result{}, nil
	}

	best := gen.identities[bestIdx]
	if bestScore < threshold {
		m.opts.Metrics.ObserveMatch("no_match", time.Since(started))
		return Result{Score: bestScore}, nil
	}
	m.opts.Metrics.ObserveMatch("matched", time.Since(started))
	return Result{StudentID: best.id, Name: best.name, Score: bestScore, Matched: true}, nil
}

// Package recommend serves ranked product recommendations from the current
// artifact set, falling back to popularity for users the model has not seen.
package recommend

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/affinity/internal/artifact"
	"github.com/Veraticus/affinity/internal/codec"
	"github.com/Veraticus/affinity/internal/config"
	"github.com/Veraticus/affinity/internal/metrics"
	"github.com/Veraticus/affinity/internal/model"
	"github.com/Veraticus/affinity/internal/ncf"
	"github.com/Veraticus/affinity/internal/service"
)

// Source identifies which path produced a result.
type Source string

// Result sources.
const (
	SourceModel    Source = "model"
	SourcePopular  Source = "popular"
	SourceDegraded Source = "degraded"
)

// Item is one recommended product. Score is the model score for model
// results and the summed event weight for popularity results.
type Item struct {
	ProductID string
	Score     float64
}

// Result is the outcome of a recommendation request. It is never an error:
// internal failures surface as an empty item list.
type Result struct {
	Version string
	Source  Source
	Items   []Item
}

// ProductIDs returns the recommended product identifiers in rank order.
func (r Result) ProductIDs() []string {
	ids := make([]string, len(r.Items))
	for i, it := range r.Items {
		ids[i] = it.ProductID
	}
	return ids
}

// Count returns the number of recommended products.
func (r Result) Count() int {
	return len(r.Items)
}

// ArtifactLoader returns the current artifact set.
type ArtifactLoader interface {
	Load(ctx context.Context) (*artifact.Set, error)
}

// Scorer scores one user against a batch of product indices.
type Scorer interface {
	PredictBatch(user int, products []int) ([]float64, error)
}

// Config controls serving behavior.
type Config struct {
	FallbackEventTypes []model.EventType
	TopNDefault        int
	BatchSize          int
	Concurrency        int
	BreakerTimeout     time.Duration
}

// ConfigFrom derives the serving configuration from the application config.
func ConfigFrom(cfg config.RecommenderConfig) Config {
	fallback := []model.EventType{model.EventPurchase}
	if cfg.FallbackPolicy == config.FallbackEngaged {
		fallback = []model.EventType{model.EventPurchase, model.EventCart, model.EventView}
	}
	return Config{
		FallbackEventTypes: fallback,
		TopNDefault:        cfg.TopNDefault,
		BatchSize:          cfg.InferenceBatchSize,
	}
}

func (c Config) withDefaults() Config {
	if len(c.FallbackEventTypes) == 0 {
		c.FallbackEventTypes = []model.EventType{model.EventPurchase}
	}
	if c.TopNDefault <= 0 {
		c.TopNDefault = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.GOMAXPROCS(0)
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// Option configures a Service.
type Option func(*Service)

// WithScorer replaces how a loaded model is turned into a Scorer.
func WithScorer(wrap func(*ncf.Model) Scorer) Option {
	return func(s *Service) {
		s.scorerFor = wrap
	}
}

// loaded is an immutable snapshot of one artifact set.
type loaded struct {
	codec   *codec.Codec
	scorer  Scorer
	version string
}

// Service answers recommendation requests. It is safe for concurrent use;
// Reload swaps the loaded artifacts atomically.
type Service struct {
	popularity *popularityBreaker
	loader     ArtifactLoader
	scorerFor  func(*ncf.Model) Scorer
	state      atomic.Pointer[loaded]
	cfg        Config
}

// NewService creates a service with no artifacts loaded. Until Load succeeds,
// every request returns an empty degraded result.
func NewService(cfg Config, popularity service.PopularitySource, loader ArtifactLoader, opts ...Option) (*Service, error) {
	if popularity == nil {
		return nil, errors.New("popularity source is required")
	}
	if loader == nil {
		return nil, errors.New("artifact loader is required")
	}

	cfg = cfg.withDefaults()
	s := &Service{
		cfg:        cfg,
		loader:     loader,
		popularity: newPopularityBreaker(popularity, cfg.BreakerTimeout),
		scorerFor:  func(m *ncf.Model) Scorer { return m },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load reads the current artifact set. On failure the service keeps whatever
// it served before, which is nothing on the first call.
func (s *Service) Load(ctx context.Context) error {
	set, err := s.loader.Load(ctx)
	if err != nil {
		metrics.ArtifactLoads.WithLabelValues("failure").Inc()
		return err
	}

	s.state.Store(&loaded{
		codec:   set.Codec,
		scorer:  s.scorerFor(set.Model),
		version: set.Manifest.Version,
	})
	metrics.ArtifactLoads.WithLabelValues("success").Inc()
	slog.Info("loaded recommendation artifacts",
		"version", set.Manifest.Version,
		"users", set.Codec.Users.Len(),
		"products", set.Codec.Products.Len())
	return nil
}

// Reload replaces the loaded artifacts with the current set on disk.
func (s *Service) Reload(ctx context.Context) error {
	return s.Load(ctx)
}

// Version returns the loaded artifact version, or "" when degraded.
func (s *Service) Version() string {
	if st := s.state.Load(); st != nil {
		return st.version
	}
	return ""
}

// Recommend returns up to topN products for userID. A non-positive topN uses
// the configured default.
func (s *Service) Recommend(ctx context.Context, userID string, topN int) Result {
	start := time.Now()
	if topN <= 0 {
		topN = s.cfg.TopNDefault
	}

	var res Result
	st := s.state.Load()
	if st == nil {
		res = Result{Source: SourceDegraded, Items: []Item{}}
	} else if user, known := st.codec.Users.TryEncode(userID); known {
		res = s.fromModel(ctx, st, userID, user, topN)
		res.Version = st.version
	} else {
		res = s.fromPopularity(ctx, userID, topN)
		res.Version = st.version
	}

	metrics.RecordRecommendation(string(res.Source), time.Since(start))
	return res
}

func (s *Service) fromPopularity(ctx context.Context, userID string, topN int) Result {
	res := Result{Source: SourcePopular, Items: []Item{}}

	popular, err := s.popularity.PopularProducts(ctx, s.cfg.FallbackEventTypes, topN)
	if err != nil {
		s.fail(ctx, "popularity", userID, err)
		return res
	}

	for _, p := range popular {
		res.Items = append(res.Items, Item{ProductID: p.ProductID, Score: p.TotalWeight})
	}
	return res
}

func (s *Service) fromModel(ctx context.Context, st *loaded, userID string, user, topN int) Result {
	res := Result{Source: SourceModel, Items: []Item{}}

	scores, err := s.scoreAll(ctx, st, user)
	if err != nil {
		s.fail(ctx, "score", userID, err)
		return res
	}

	for _, idx := range topIndices(scores, topN) {
		id, err := st.codec.Products.Decode(idx)
		if err != nil {
			s.fail(ctx, "decode", userID, err)
			return Result{Source: SourceModel, Items: []Item{}}
		}
		res.Items = append(res.Items, Item{ProductID: id, Score: scores[idx]})
	}
	return res
}

// scoreAll scores every product index, fanning fixed-size chunks out over a
// bounded number of goroutines.
func (s *Service) scoreAll(ctx context.Context, st *loaded, user int) ([]float64, error) {
	n := st.codec.Products.Len()
	scores := make([]float64, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for lo := 0; lo < n; lo += s.cfg.BatchSize {
		hi := min(lo+s.cfg.BatchSize, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunk := make([]int, hi-lo)
			for i := range chunk {
				chunk[i] = lo + i
			}
			out, err := st.scorer.PredictBatch(user, chunk)
			if err != nil {
				return err
			}
			if len(out) != len(chunk) {
				return fmt.Errorf("scorer returned %d scores for %d products", len(out), len(chunk))
			}
			copy(scores[lo:hi], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// topIndices returns the indices of the n highest scores. Equal scores are
// ordered by ascending index; NaN ranks last.
func topIndices(scores []float64, n int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	key := func(i int) float64 {
		if math.IsNaN(scores[i]) {
			return math.Inf(-1)
		}
		return scores[i]
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(key(b), key(a))
	})
	return idx[:min(n, len(idx))]
}

func (s *Service) fail(ctx context.Context, stage, userID string, err error) {
	metrics.RecommendationFailures.WithLabelValues(stage).Inc()
	slog.ErrorContext(ctx, "recommendation failed; returning empty result",
		"stage", stage,
		"user_id", userID,
		"error", err)
}

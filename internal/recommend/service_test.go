package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/affinity/internal/artifact"
	"github.com/Veraticus/affinity/internal/codec"
	"github.com/Veraticus/affinity/internal/common"
	"github.com/Veraticus/affinity/internal/config"
	"github.com/Veraticus/affinity/internal/model"
	"github.com/Veraticus/affinity/internal/ncf"
)

type fakeLoader struct {
	set *artifact.Set
	err error
}

func (f *fakeLoader) Load(_ context.Context) (*artifact.Set, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.set, nil
}

type fakePopularity struct {
	mu       sync.Mutex
	products []model.PopularProduct
	err      error
	calls    int
	types    []model.EventType
}

func (f *fakePopularity) PopularProducts(_ context.Context, eventTypes []model.EventType, limit int) ([]model.PopularProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.types = eventTypes
	if f.err != nil {
		return nil, f.err
	}
	return f.products[:min(limit, len(f.products))], nil
}

type countingScorer struct {
	inner Scorer
	calls atomic.Int64
}

func (c *countingScorer) PredictBatch(user int, products []int) ([]float64, error) {
	c.calls.Add(1)
	return c.inner.PredictBatch(user, products)
}

type constantScorer struct{}

func (constantScorer) PredictBatch(_ int, products []int) ([]float64, error) {
	out := make([]float64, len(products))
	for i := range out {
		out[i] = 0.5
	}
	return out, nil
}

type failingScorer struct{}

func (failingScorer) PredictBatch(int, []int) ([]float64, error) {
	return nil, errors.New("scoring exploded")
}

func createTestSet(t *testing.T, users, products []string) *artifact.Set {
	t.Helper()
	c := &codec.Codec{Users: codec.NewEncoder(users), Products: codec.NewEncoder(products)}
	m, err := ncf.New(ncf.Config{
		Users:        c.Users.Len(),
		Products:     c.Products.Len(),
		EmbeddingDim: 4,
		Hidden:       []int{8},
		Seed:         ncf.DefaultSeed,
	})
	require.NoError(t, err)
	return &artifact.Set{Manifest: artifact.Manifest{Version: uuid.NewString()}, Codec: c, Model: m}
}

func popularProducts(n int) []model.PopularProduct {
	out := make([]model.PopularProduct, n)
	for i := range out {
		out[i] = model.PopularProduct{ProductID: fmt.Sprintf("p%d", i+1), TotalWeight: float64(10 * (n - i))}
	}
	return out
}

func newTestService(t *testing.T, cfg Config, pop *fakePopularity, loader *fakeLoader, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(cfg, pop, loader, opts...)
	require.NoError(t, err)
	return svc
}

func TestRecommend_KnownUserUsesModel(t *testing.T) {
	ctx := context.Background()
	set := createTestSet(t, []string{"u1", "u2"}, []string{"p1", "p2", "p3", "p4", "p5"})
	pop := &fakePopularity{products: popularProducts(5)}
	var scorer *countingScorer
	svc := newTestService(t, Config{BatchSize: 2}, pop, &fakeLoader{set: set},
		WithScorer(func(m *ncf.Model) Scorer {
			scorer = &countingScorer{inner: m}
			return scorer
		}))
	require.NoError(t, svc.Load(ctx))

	res := svc.Recommend(ctx, "u1", 3)
	assert.Equal(t, SourceModel, res.Source)
	assert.Equal(t, set.Manifest.Version, res.Version)
	require.Equal(t, 3, res.Count())
	for i := 1; i < len(res.Items); i++ {
		assert.GreaterOrEqual(t, res.Items[i-1].Score, res.Items[i].Score)
	}

	// 5 products in chunks of 2
	assert.Equal(t, int64(3), scorer.calls.Load())
	assert.Zero(t, pop.calls)

	// scores match direct model evaluation
	user, _ := set.Codec.Users.TryEncode("u1")
	for _, it := range res.Items {
		p, err := set.Codec.Products.Encode(it.ProductID)
		require.NoError(t, err)
		want, err := set.Model.Predict(user, p)
		require.NoError(t, err)
		assert.InDelta(t, want, it.Score, 1e-12)
	}
}

func TestRecommend_ColdStartSkipsModel(t *testing.T) {
	ctx := context.Background()
	set := createTestSet(t, []string{"u1"}, []string{"p1", "p2"})
	pop := &fakePopularity{products: popularProducts(8)}
	var scorer *countingScorer
	svc := newTestService(t, Config{}, pop, &fakeLoader{set: set},
		WithScorer(func(m *ncf.Model) Scorer {
			scorer = &countingScorer{inner: m}
			return scorer
		}))
	require.NoError(t, svc.Load(ctx))

	res := svc.Recommend(ctx, "stranger", 0)
	assert.Equal(t, SourcePopular, res.Source)
	assert.LessOrEqual(t, res.Count(), 5)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, res.ProductIDs())
	assert.Zero(t, scorer.calls.Load())
	assert.Equal(t, []model.EventType{model.EventPurchase}, pop.types)
}

func TestRecommend_EngagedFallbackPolicy(t *testing.T) {
	ctx := context.Background()
	cfg := ConfigFrom(config.RecommenderConfig{
		FallbackPolicy:     config.FallbackEngaged,
		TopNDefault:        2,
		InferenceBatchSize: 16,
	})
	pop := &fakePopularity{products: popularProducts(4)}
	svc := newTestService(t, cfg, pop, &fakeLoader{set: createTestSet(t, []string{"u1"}, []string{"p1"})})
	require.NoError(t, svc.Load(ctx))

	res := svc.Recommend(ctx, "new-user", 0)
	assert.Equal(t, []string{"p1", "p2"}, res.ProductIDs())
	assert.Equal(t, []model.EventType{model.EventPurchase, model.EventCart, model.EventView}, pop.types)
}

func TestRecommend_NoArtifactsIsDegraded(t *testing.T) {
	ctx := context.Background()
	pop := &fakePopularity{products: popularProducts(3)}
	svc := newTestService(t, Config{}, pop, &fakeLoader{err: common.ErrArtifactsUnavailable})

	require.ErrorIs(t, svc.Load(ctx), common.ErrArtifactsUnavailable)
	assert.Empty(t, svc.Version())

	for _, user := range []string{"u1", "anyone", ""} {
		res := svc.Recommend(ctx, user, 3)
		assert.Equal(t, SourceDegraded, res.Source)
		assert.NotNil(t, res.Items)
		assert.Zero(t, res.Count())
	}
	assert.Zero(t, pop.calls)
}

func TestRecommend_TiesFavorLowestIndex(t *testing.T) {
	ctx := context.Background()
	set := createTestSet(t, []string{"u1"}, []string{"d", "b", "a", "c"})
	svc := newTestService(t, Config{BatchSize: 3}, &fakePopularity{}, &fakeLoader{set: set},
		WithScorer(func(*ncf.Model) Scorer { return constantScorer{} }))
	require.NoError(t, svc.Load(ctx))

	res := svc.Recommend(ctx, "u1", 3)
	assert.Equal(t, []string{"a", "b", "c"}, res.ProductIDs())
}

func TestRecommend_TopNBeyondCatalog(t *testing.T) {
	ctx := context.Background()
	set := createTestSet(t, []string{"u1"}, []string{"p1", "p2"})
	svc := newTestService(t, Config{}, &fakePopularity{}, &fakeLoader{set: set})
	require.NoError(t, svc.Load(ctx))

	res := svc.Recommend(ctx, "u1", 10)
	assert.ElementsMatch(t, []string{"p1", "p2"}, res.ProductIDs())
}

func TestRecommend_FailuresReturnEmpty(t *testing.T) {
	ctx := context.Background()
	set := createTestSet(t, []string{"u1"}, []string{"p1", "p2"})

	t.Run("scorer error", func(t *testing.T) {
		svc := newTestService(t, Config{}, &fakePopularity{}, &fakeLoader{set: set},
			WithScorer(func(*ncf.Model) Scorer { return failingScorer{} }))
		require.NoError(t, svc.Load(ctx))

		res := svc.Recommend(ctx, "u1", 3)
		assert.Equal(t, SourceModel, res.Source)
		assert.Zero(t, res.Count())
	})

	t.Run("popularity error trips breaker", func(t *testing.T) {
		pop := &fakePopularity{err: errors.New("database is locked")}
		svc := newTestService(t, Config{}, pop, &fakeLoader{set: set})
		require.NoError(t, svc.Load(ctx))
		assert.Equal(t, gobreaker.StateClosed, svc.popularity.State())

		for range 10 {
			res := svc.Recommend(ctx, "stranger", 3)
			assert.Equal(t, SourcePopular, res.Source)
			assert.Zero(t, res.Count())
		}
		// the breaker opens after five consecutive failures
		assert.Equal(t, 5, pop.calls)
		assert.Equal(t, gobreaker.StateOpen, svc.popularity.State())
	})
}

func TestReload_KeepsPreviousOnFailure(t *testing.T) {
	ctx := context.Background()
	first := createTestSet(t, []string{"u1"}, []string{"p1"})
	loader := &fakeLoader{set: first}
	svc := newTestService(t, Config{}, &fakePopularity{}, loader)
	require.NoError(t, svc.Load(ctx))

	loader.set, loader.err = nil, common.ErrArtifactsUnavailable
	require.Error(t, svc.Reload(ctx))
	assert.Equal(t, first.Manifest.Version, svc.Version())

	second := createTestSet(t, []string{"u1", "u2"}, []string{"p1", "p2"})
	loader.set, loader.err = second, nil
	require.NoError(t, svc.Reload(ctx))
	assert.Equal(t, second.Manifest.Version, svc.Version())
	assert.Equal(t, SourceModel, svc.Recommend(ctx, "u2", 1).Source)
}

func TestRecommend_ConcurrentWithReload(t *testing.T) {
	ctx := context.Background()
	set := createTestSet(t, []string{"u1", "u2"}, []string{"p1", "p2", "p3"})
	loader := &fakeLoader{set: set}
	svc := newTestService(t, Config{BatchSize: 1}, &fakePopularity{products: popularProducts(3)}, loader)
	require.NoError(t, svc.Load(ctx))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				res := svc.Recommend(ctx, fmt.Sprintf("u%d", i%3+1), 2)
				assert.Equal(t, 2, res.Count())
			}
		}()
	}
	for range 5 {
		require.NoError(t, svc.Reload(ctx))
	}
	wg.Wait()
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(Config{}, nil, &fakeLoader{})
	assert.Error(t, err)
	_, err = NewService(Config{}, &fakePopularity{}, nil)
	assert.Error(t, err)
}

func TestTopIndices(t *testing.T) {
	scores := []float64{0.2, math.NaN(), 0.9, 0.2, 0.9, 0.1}
	assert.Equal(t, []int{2, 4, 0, 3}, topIndices(scores, 4))
	assert.Equal(t, []int{2, 4, 0, 3, 5, 1}, topIndices(scores, 10))
	assert.Empty(t, topIndices(nil, 3))
}

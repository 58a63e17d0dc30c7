// Package ncf implements a neural collaborative filtering ranking model:
// user and product embeddings, concatenated and passed through a stack of
// ReLU dense layers into a single sigmoid output.
package ncf

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// Default hyperparameters.
const (
	DefaultEmbeddingDim = 50
	DefaultSeed         = 42
)

// DefaultHidden is the width of each hidden dense layer.
var DefaultHidden = []int{128, 64}

var (
	// ErrInvalidConfig is returned for an unusable model shape.
	ErrInvalidConfig = errors.New("invalid model configuration")
	// ErrIndexOutOfRange is returned when a user or product index is outside
	// the embedding tables.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Config describes the shape of a model.
type Config struct {
	Hidden       []int
	Users        int
	Products     int
	EmbeddingDim int
	Seed         uint64
}

func (c Config) validate() error {
	if c.Users < 1 || c.Products < 1 {
		return fmt.Errorf("%w: need at least one user and one product, got %d and %d",
			ErrInvalidConfig, c.Users, c.Products)
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("%w: embedding dim %d", ErrInvalidConfig, c.EmbeddingDim)
	}
	for _, h := range c.Hidden {
		if h < 1 {
			return fmt.Errorf("%w: hidden layer width %d", ErrInvalidConfig, h)
		}
	}
	return nil
}

// Dense is a fully connected layer. W is stored row-major as Out rows of In
// weights, so W[j*In+k] connects input k to neuron j.
type Dense struct {
	W   []float64
	B   []float64
	In  int
	Out int
}

func (d *Dense) weights(j int) []float64 {
	return d.W[j*d.In : (j+1)*d.In]
}

// Model holds the embedding tables and dense stack. After training it is
// read-only and safe for concurrent use.
type Model struct {
	UserEmb    []float64
	ProductEmb []float64
	Layers     []Dense
	Users      int
	Products   int
	Dim        int
}

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// New allocates a model with embeddings drawn from U(-0.05, 0.05), Glorot
// uniform dense weights and zero biases.
func New(cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rng := newRNG(cfg.Seed)
	uniform := func(n int, limit float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = (rng.Float64()*2 - 1) * limit
		}
		return out
	}

	m := &Model{
		Users:      cfg.Users,
		Products:   cfg.Products,
		Dim:        cfg.EmbeddingDim,
		UserEmb:    uniform(cfg.Users*cfg.EmbeddingDim, 0.05),
		ProductEmb: uniform(cfg.Products*cfg.EmbeddingDim, 0.05),
	}

	widths := append(slices.Clone(cfg.Hidden), 1)
	in := 2 * cfg.EmbeddingDim
	for _, out := range widths {
		limit := math.Sqrt(6 / float64(in+out))
		m.Layers = append(m.Layers, Dense{
			In:  in,
			Out: out,
			W:   uniform(in*out, limit),
			B:   make([]float64, out),
		})
		in = out
	}
	return m, nil
}

// Hidden returns the widths of the hidden layers.
func (m *Model) Hidden() []int {
	hidden := make([]int, 0, len(m.Layers)-1)
	for _, l := range m.Layers[:len(m.Layers)-1] {
		hidden = append(hidden, l.Out)
	}
	return hidden
}

func (m *Model) userRow(u int) []float64 {
	return m.UserEmb[u*m.Dim : (u+1)*m.Dim]
}

func (m *Model) productRow(p int) []float64 {
	return m.ProductEmb[p*m.Dim : (p+1)*m.Dim]
}

func (m *Model) checkUser(u int) error {
	if u < 0 || u >= m.Users {
		return fmt.Errorf("%w: user %d of %d", ErrIndexOutOfRange, u, m.Users)
	}
	return nil
}

func (m *Model) checkProduct(p int) error {
	if p < 0 || p >= m.Products {
		return fmt.Errorf("%w: product %d of %d", ErrIndexOutOfRange, p, m.Products)
	}
	return nil
}

// Predict scores a single (user, product) pair in [0, 1].
func (m *Model) Predict(user, product int) (float64, error) {
	scores, err := m.PredictBatch(user, []int{product})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// PredictBatch scores one user against many products. The user's
// contribution to the first layer is computed once for the whole batch.
func (m *Model) PredictBatch(user int, products []int) ([]float64, error) {
	if err := m.checkUser(user); err != nil {
		return nil, err
	}
	for _, p := range products {
		if err := m.checkProduct(p); err != nil {
			return nil, err
		}
	}

	first := &m.Layers[0]
	urow := m.userRow(user)
	base := make([]float64, first.Out)
	for j := range base {
		base[j] = first.B[j] + dot(first.weights(j)[:m.Dim], urow)
	}

	widest := 0
	for _, l := range m.Layers {
		widest = max(widest, l.Out)
	}
	cur := make([]float64, widest)
	next := make([]float64, widest)

	scores := make([]float64, len(products))
	for i, p := range products {
		prow := m.productRow(p)
		act := cur[:first.Out]
		for j := range act {
			act[j] = base[j] + dot(first.weights(j)[m.Dim:], prow)
		}

		for li := range m.Layers {
			l := &m.Layers[li]
			if li > 0 {
				out := next[:l.Out]
				for j := range out {
					out[j] = l.B[j] + dot(l.weights(j), act)
				}
				act = out
				cur, next = next, cur
			}
			if li < len(m.Layers)-1 {
				relu(act)
			}
		}
		scores[i] = sigmoid(act[0])
	}
	return scores, nil
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func relu(xs []float64) {
	for i, x := range xs {
		if x < 0 {
			xs[i] = 0
		}
	}
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

package ncf

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Training defaults.
const (
	DefaultEpochs       = 10
	DefaultBatchSize    = 64
	DefaultLearningRate = 0.001
	DefaultTestFraction = 0.2
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

// ErrDiverged is returned when the training loss stops being finite.
var ErrDiverged = errors.New("training diverged")

// Sample is one encoded training pair.
type Sample struct {
	User    int
	Product int
	Target  float64
}

// EpochStats summarizes one pass over the training split.
type EpochStats struct {
	Epoch         int
	Loss          float64
	ValLoss       float64
	ValMAE        float64
	HasValidation bool
	Duration      time.Duration
}

// History is the outcome of a training run.
type History struct {
	Epochs    []EpochStats
	TrainSize int
	TestSize  int
}

// FinalLoss returns the training loss of the last epoch.
func (h History) FinalLoss() float64 {
	if len(h.Epochs) == 0 {
		return math.NaN()
	}
	return h.Epochs[len(h.Epochs)-1].Loss
}

// TrainConfig controls a training run. Zero values fall back to defaults,
// except TestFraction which is used as given.
type TrainConfig struct {
	OnEpoch      func(EpochStats)
	Epochs       int
	BatchSize    int
	LearningRate float64
	TestFraction float64
	Seed         uint64
}

func (c TrainConfig) withDefaults() TrainConfig {
	if c.Epochs <= 0 {
		c.Epochs = DefaultEpochs
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.LearningRate <= 0 {
		c.LearningRate = DefaultLearningRate
	}
	return c
}

// Train fits m to samples by minimizing mean squared error with Adam.
// Samples are split into train and validation sets with the configured seed
// and the training order is reshuffled every epoch.
func Train(ctx context.Context, m *Model, samples []Sample, cfg TrainConfig) (History, error) {
	if ctx == nil {
		return History{}, errors.New("context cannot be nil")
	}
	if len(samples) == 0 {
		return History{}, fmt.Errorf("%w: no training samples", ErrInvalidConfig)
	}
	for _, s := range samples {
		if err := m.checkUser(s.User); err != nil {
			return History{}, err
		}
		if err := m.checkProduct(s.Product); err != nil {
			return History{}, err
		}
	}
	cfg = cfg.withDefaults()

	trainIdx, testIdx, err := Split(len(samples), cfg.TestFraction, cfg.Seed)
	if err != nil {
		return History{}, err
	}
	history := History{TrainSize: len(trainIdx), TestSize: len(testIdx)}

	rng := newRNG(cfg.Seed + 1)
	opt := newAdam(m, cfg.LearningRate)
	ws := newWorkspace(m)

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		rng.Shuffle(len(trainIdx), func(i, j int) {
			trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i]
		})

		var sum float64
		for lo := 0; lo < len(trainIdx); lo += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			hi := min(lo+cfg.BatchSize, len(trainIdx))

			ws.reset()
			scale := 2 / float64(hi-lo)
			for _, idx := range trainIdx[lo:hi] {
				s := samples[idx]
				pred := ws.forward(m, s.User, s.Product)
				diff := pred - s.Target
				sum += diff * diff
				ws.backward(m, s.User, s.Product, scale*diff*pred*(1-pred))
			}
			opt.step(m, ws)
		}

		stats := EpochStats{
			Epoch:    epoch,
			Loss:     sum / float64(len(trainIdx)),
			Duration: time.Since(start),
		}
		if math.IsNaN(stats.Loss) || math.IsInf(stats.Loss, 0) {
			return history, fmt.Errorf("%w: epoch %d loss %v", ErrDiverged, epoch, stats.Loss)
		}
		if len(testIdx) > 0 {
			stats.HasValidation = true
			stats.ValLoss, stats.ValMAE = evaluate(m, ws, samples, testIdx)
		}

		history.Epochs = append(history.Epochs, stats)
		if cfg.OnEpoch != nil {
			cfg.OnEpoch(stats)
		}
	}
	return history, nil
}

func evaluate(m *Model, ws *workspace, samples []Sample, idx []int) (mse, mae float64) {
	for _, i := range idx {
		s := samples[i]
		diff := ws.forward(m, s.User, s.Product) - s.Target
		mse += diff * diff
		mae += math.Abs(diff)
	}
	n := float64(len(idx))
	return mse / n, mae / n
}

// workspace holds per-sample activations and per-batch gradients.
type workspace struct {
	input []float64
	acts  [][]float64 // post-activation output of each layer
	delta [][]float64

	gradW [][]float64
	gradB [][]float64
	gradU map[int][]float64
	gradP map[int][]float64
}

func newWorkspace(m *Model) *workspace {
	ws := &workspace{
		input: make([]float64, 2*m.Dim),
		gradU: make(map[int][]float64),
		gradP: make(map[int][]float64),
	}
	for _, l := range m.Layers {
		ws.acts = append(ws.acts, make([]float64, l.Out))
		ws.delta = append(ws.delta, make([]float64, l.Out))
		ws.gradW = append(ws.gradW, make([]float64, len(l.W)))
		ws.gradB = append(ws.gradB, make([]float64, len(l.B)))
	}
	return ws
}

func (ws *workspace) reset() {
	for i := range ws.gradW {
		clear(ws.gradW[i])
		clear(ws.gradB[i])
	}
	clear(ws.gradU)
	clear(ws.gradP)
}

func (ws *workspace) forward(m *Model, u, p int) float64 {
	copy(ws.input[:m.Dim], m.userRow(u))
	copy(ws.input[m.Dim:], m.productRow(p))

	in := ws.input
	last := len(m.Layers) - 1
	for li := range m.Layers {
		l := &m.Layers[li]
		out := ws.acts[li]
		for j := range out {
			out[j] = l.B[j] + dot(l.weights(j), in)
		}
		if li < last {
			relu(out)
		}
		in = out
	}
	out := ws.acts[last]
	out[0] = sigmoid(out[0])
	return out[0]
}

// backward accumulates gradients for one sample given dLoss/dz at the output.
func (ws *workspace) backward(m *Model, u, p int, outDelta float64) {
	last := len(m.Layers) - 1
	ws.delta[last][0] = outDelta

	for li := last; li >= 0; li-- {
		l := &m.Layers[li]
		in := ws.input
		if li > 0 {
			in = ws.acts[li-1]
		}
		delta := ws.delta[li]
		gw := ws.gradW[li]
		for j, d := range delta {
			if d == 0 {
				continue
			}
			ws.gradB[li][j] += d
			row := gw[j*l.In : (j+1)*l.In]
			for k, x := range in {
				row[k] += d * x
			}
		}

		if li > 0 {
			prev := ws.delta[li-1]
			prevAct := ws.acts[li-1]
			for k := range prev {
				if prevAct[k] <= 0 {
					prev[k] = 0
					continue
				}
				var g float64
				for j, d := range delta {
					g += l.W[j*l.In+k] * d
				}
				prev[k] = g
			}
			continue
		}

		gu := ws.row(ws.gradU, u, m.Dim)
		gp := ws.row(ws.gradP, p, m.Dim)
		for j, d := range delta {
			if d == 0 {
				continue
			}
			w := l.weights(j)
			for k := range m.Dim {
				gu[k] += w[k] * d
				gp[k] += w[m.Dim+k] * d
			}
		}
	}
}

func (ws *workspace) row(grads map[int][]float64, idx, dim int) []float64 {
	g, ok := grads[idx]
	if !ok {
		g = make([]float64, dim)
		grads[idx] = g
	}
	return g
}

// adam keeps first and second moment estimates for every parameter.
// Embedding rows are updated only when they received a gradient.
type adam struct {
	mW, vW [][]float64
	mB, vB [][]float64
	mU, vU []float64
	mP, vP []float64
	lr     float64
	t      int
}

func newAdam(m *Model, lr float64) *adam {
	a := &adam{
		lr: lr,
		mU: make([]float64, len(m.UserEmb)),
		vU: make([]float64, len(m.UserEmb)),
		mP: make([]float64, len(m.ProductEmb)),
		vP: make([]float64, len(m.ProductEmb)),
	}
	for _, l := range m.Layers {
		a.mW = append(a.mW, make([]float64, len(l.W)))
		a.vW = append(a.vW, make([]float64, len(l.W)))
		a.mB = append(a.mB, make([]float64, len(l.B)))
		a.vB = append(a.vB, make([]float64, len(l.B)))
	}
	return a
}

func (a *adam) step(m *Model, ws *workspace) {
	a.t++
	lrT := a.lr * math.Sqrt(1-math.Pow(adamBeta2, float64(a.t))) / (1 - math.Pow(adamBeta1, float64(a.t)))

	for li := range m.Layers {
		update(m.Layers[li].W, ws.gradW[li], a.mW[li], a.vW[li], lrT)
		update(m.Layers[li].B, ws.gradB[li], a.mB[li], a.vB[li], lrT)
	}
	for u, g := range ws.gradU {
		lo, hi := u*m.Dim, (u+1)*m.Dim
		update(m.UserEmb[lo:hi], g, a.mU[lo:hi], a.vU[lo:hi], lrT)
	}
	for p, g := range ws.gradP {
		lo, hi := p*m.Dim, (p+1)*m.Dim
		update(m.ProductEmb[lo:hi], g, a.mP[lo:hi], a.vP[lo:hi], lrT)
	}
}

func update(param, grad, m, v []float64, lr float64) {
	for i, g := range grad {
		m[i] = adamBeta1*m[i] + (1-adamBeta1)*g
		v[i] = adamBeta2*v[i] + (1-adamBeta2)*g*g
		param[i] -= lr * m[i] / (math.Sqrt(v[i]) + adamEpsilon)
	}
}

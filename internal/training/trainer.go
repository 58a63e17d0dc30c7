// Package training runs the end-to-end training pipeline: aggregate the
// interaction log, fit the identifier codec, train the ranking model and
// publish the resulting artifact set.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/affinity/internal/aggregate"
	"github.com/Veraticus/affinity/internal/artifact"
	"github.com/Veraticus/affinity/internal/codec"
	"github.com/Veraticus/affinity/internal/common"
	"github.com/Veraticus/affinity/internal/config"
	"github.com/Veraticus/affinity/internal/metrics"
	"github.com/Veraticus/affinity/internal/model"
	"github.com/Veraticus/affinity/internal/ncf"
	"github.com/Veraticus/affinity/internal/service"
)

// Phase names a pipeline step.
type Phase string

// Pipeline phases, in execution order.
const (
	PhaseAggregate Phase = "aggregate"
	PhaseEncode    Phase = "encode"
	PhaseTrain     Phase = "train"
	PhasePublish   Phase = "publish"
)

// Source supplies the interaction log and catalog snapshot.
type Source interface {
	ListEvents(ctx context.Context, filter service.EventFilter) ([]model.InteractionEvent, error)
	ProductIDs(ctx context.Context) ([]string, error)
}

// Publisher makes a trained artifact set current.
type Publisher interface {
	Publish(ctx context.Context, set *artifact.Set) (*artifact.Manifest, error)
}

// Config holds model and optimizer hyperparameters.
type Config struct {
	Hidden       []int
	EmbeddingDim int
	Epochs       int
	BatchSize    int
	LearningRate float64
	TestFraction float64
	Seed         uint64
}

// ConfigFrom derives training hyperparameters from the application config.
func ConfigFrom(cfg config.RecommenderConfig) Config {
	return Config{
		Hidden:       cfg.HiddenLayers,
		EmbeddingDim: cfg.EmbeddingDim,
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
		TestFraction: cfg.TestFraction,
		Seed:         cfg.Seed,
	}
}

// PhaseTiming records how long one phase took.
type PhaseTiming struct {
	Phase    Phase
	Duration time.Duration
}

// Report describes a completed training run.
type Report struct {
	Manifest *artifact.Manifest
	Version  string
	Phases   []PhaseTiming
	History  ncf.History
	Stats    aggregate.Stats
	Events   int
	Duration time.Duration
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithPhaseHook is called when each phase starts.
func WithPhaseHook(fn func(Phase)) Option {
	return func(t *Trainer) {
		t.onPhase = fn
	}
}

// WithEpochHook is called after every training epoch.
func WithEpochHook(fn func(ncf.EpochStats)) Option {
	return func(t *Trainer) {
		t.onEpoch = fn
	}
}

// WithVersionFunc overrides how artifact version tags are generated.
func WithVersionFunc(fn func() string) Option {
	return func(t *Trainer) {
		t.newVersion = fn
	}
}

// Trainer runs the training pipeline.
type Trainer struct {
	source     Source
	publisher  Publisher
	onPhase    func(Phase)
	onEpoch    func(ncf.EpochStats)
	newVersion func() string
	cfg        Config
}

// NewTrainer creates a trainer reading from source and publishing through
// publisher.
func NewTrainer(source Source, publisher Publisher, cfg Config, opts ...Option) *Trainer {
	t := &Trainer{
		source:     source,
		publisher:  publisher,
		cfg:        cfg,
		newVersion: uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run executes every phase in order. Any failure aborts the run before
// publishing, so the previously published artifacts stay current. Data
// problems are reported as common.ErrDataUnavailable; all other failures wrap
// common.ErrTrainingFailed.
func (t *Trainer) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report, err := t.run(ctx, start)

	finalLoss := 0.0
	if report != nil {
		report.Duration = time.Since(start)
		finalLoss = report.History.FinalLoss()
	}
	metrics.RecordTrainingRun(time.Since(start), finalLoss, err)

	if err != nil {
		common.LogError(ctx, err, "training run failed", common.Fields{"duration": time.Since(start).String()})
		return nil, err
	}

	common.LogInfo(ctx, "training run completed", common.Fields{
		"version":    report.Version,
		"events":     report.Events,
		"pairs":      report.Stats.Pairs,
		"users":      report.Stats.Users,
		"products":   report.Stats.Products,
		"final_loss": finalLoss,
		"duration":   report.Duration.String(),
	})
	return report, nil
}

func (t *Trainer) run(ctx context.Context, start time.Time) (*Report, error) {
	report := &Report{}
	phaseStart := start
	enter := func(p Phase) {
		if n := len(report.Phases); n > 0 {
			report.Phases[n-1].Duration = time.Since(phaseStart)
		}
		phaseStart = time.Now()
		report.Phases = append(report.Phases, PhaseTiming{Phase: p})
		slog.Debug("training phase started", "phase", p)
		if t.onPhase != nil {
			t.onPhase(p)
		}
	}
	fail := func(p Phase, err error) error {
		if errors.Is(err, common.ErrDataUnavailable) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", p, err)
		}
		return fmt.Errorf("%w: %s: %w", common.ErrTrainingFailed, p, err)
	}

	enter(PhaseAggregate)
	events, err := t.source.ListEvents(ctx, service.EventFilter{})
	if err != nil {
		return nil, fail(PhaseAggregate, fmt.Errorf("failed to read events: %w", err))
	}
	catalog, err := t.source.ProductIDs(ctx)
	if err != nil {
		return nil, fail(PhaseAggregate, fmt.Errorf("failed to read catalog: %w", err))
	}
	interactions, err := aggregate.Aggregate(events, catalog)
	if err != nil {
		return nil, fail(PhaseAggregate, err)
	}
	report.Events = len(events)
	report.Stats = aggregate.Summarize(interactions)

	enter(PhaseEncode)
	c := codec.Fit(interactions)
	scores := make([]float64, len(interactions))
	for i, in := range interactions {
		scores[i] = in.Score
	}
	targets := ncf.Normalize(scores)
	samples := make([]ncf.Sample, len(interactions))
	for i, in := range interactions {
		u, p, err := c.EncodePair(in.UserID, in.ProductID)
		if err != nil {
			return nil, fail(PhaseEncode, err)
		}
		samples[i] = ncf.Sample{User: u, Product: p, Target: targets[i]}
	}

	enter(PhaseTrain)
	net, err := ncf.New(ncf.Config{
		Users:        c.Users.Len(),
		Products:     c.Products.Len(),
		EmbeddingDim: t.cfg.EmbeddingDim,
		Hidden:       t.cfg.Hidden,
		Seed:         t.cfg.Seed,
	})
	if err != nil {
		return nil, fail(PhaseTrain, err)
	}
	history, err := ncf.Train(ctx, net, samples, ncf.TrainConfig{
		Epochs:       t.cfg.Epochs,
		BatchSize:    t.cfg.BatchSize,
		LearningRate: t.cfg.LearningRate,
		TestFraction: t.cfg.TestFraction,
		Seed:         t.cfg.Seed,
		OnEpoch:      t.epoch,
	})
	report.History = history
	if err != nil {
		return report, fail(PhaseTrain, err)
	}

	enter(PhasePublish)
	set := &artifact.Set{
		Codec: c,
		Model: net,
		Manifest: artifact.Manifest{
			Version:      t.newVersion(),
			Interactions: len(interactions),
			Epochs:       len(history.Epochs),
			FinalLoss:    history.FinalLoss(),
		},
	}
	if n := len(history.Epochs); n > 0 && history.Epochs[n-1].HasValidation {
		set.Manifest.ValLoss = history.Epochs[n-1].ValLoss
		set.Manifest.ValMAE = history.Epochs[n-1].ValMAE
	}
	manifest, err := t.publisher.Publish(ctx, set)
	if err != nil {
		return report, fail(PhasePublish, err)
	}
	report.Phases[len(report.Phases)-1].Duration = time.Since(phaseStart)
	report.Manifest = manifest
	report.Version = manifest.Version
	return report, nil
}

func (t *Trainer) epoch(stats ncf.EpochStats) {
	slog.Info("epoch complete",
		"epoch", stats.Epoch,
		"loss", stats.Loss,
		"val_loss", stats.ValLoss,
		"val_mae", stats.ValMAE,
		"duration", stats.Duration.String())
	if t.onEpoch != nil {
		t.onEpoch(stats)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/affinity/internal/cli"
	"github.com/Veraticus/affinity/internal/common"
	"github.com/Veraticus/affinity/internal/config"
	"github.com/Veraticus/affinity/internal/model"
	"github.com/Veraticus/affinity/internal/ncf"
	"github.com/Veraticus/affinity/internal/service"
	"github.com/Veraticus/affinity/internal/storage"
	"github.com/Veraticus/affinity/internal/training"
)

func trainCmd() *cobra.Command {
	var (
		epochs  int
		seed    uint64
		preview int
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train and publish a new recommendation model",
		Long: `Aggregate the interaction log, fit identifier vocabularies, train the
ranking model and publish the result as the current artifact set.

A failed or interrupted run leaves the previously published model in place.`,
		Example: `  # Train with configured hyperparameters
  affinity train

  # Quick run with fewer epochs and a different seed
  affinity train --epochs 3 --seed 7`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("epochs") {
				cfg.Recommender.Epochs = epochs
			}
			if cmd.Flags().Changed("seed") {
				cfg.Recommender.Seed = seed
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)
			defer flushMetrics(cfg)

			artifacts, err := openArtifacts(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatTitle("Training recommendation model"))

			var bar *progressbar.ProgressBar
			trainer := training.NewTrainer(store, artifacts, training.ConfigFrom(cfg.Recommender),
				training.WithPhaseHook(func(p training.Phase) {
					if p == training.PhaseTrain {
						bar = cli.NewProgressBar(cmd.ErrOrStderr(), cfg.Recommender.Epochs, "Training")
					}
				}),
				training.WithEpochHook(func(s ncf.EpochStats) {
					cli.Advance(bar, s.Epoch)
				}),
			)

			report, err := trainer.Run(ctx)
			if err != nil {
				switch {
				case errors.Is(err, context.Canceled):
					fmt.Fprintln(out, cli.FormatWarning("Training interrupted, keeping the current model"))
				case errors.Is(err, common.ErrDataUnavailable):
					return common.NewUserError("nothing to train on, log or import events first", err)
				}
				return err
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, cli.RenderBox(cli.ModelIcon+" Training Summary", formatReport(report)))

			if preview > 0 {
				if err := previewRecommendations(ctx, out, cfg, preview, store, report); err != nil {
					fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Could not preview recommendations: %v", err)))
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&epochs, "epochs", "e", ncf.DefaultEpochs, "Training epochs (overrides recommender.epochs)")
	cmd.Flags().Uint64Var(&seed, "seed", ncf.DefaultSeed, "Random seed (overrides recommender.seed)")
	cmd.Flags().IntVar(&preview, "preview", 1, "Show recommendations for this many users after training")

	return cmd
}

func formatReport(r *training.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Version:      %s\n", r.Version)
	fmt.Fprintf(&b, "Events:       %d\n", r.Events)
	fmt.Fprintf(&b, "Interactions: %d (%d users, %d products)\n", r.Stats.Pairs, r.Stats.Users, r.Stats.Products)
	fmt.Fprintf(&b, "Split:        %d train / %d validation\n", r.History.TrainSize, r.History.TestSize)
	fmt.Fprintf(&b, "Final loss:   %.6f\n", r.History.FinalLoss())
	if n := len(r.History.Epochs); n > 0 && r.History.Epochs[n-1].HasValidation {
		last := r.History.Epochs[n-1]
		fmt.Fprintf(&b, "Validation:   loss %.6f, MAE %.6f\n", last.ValLoss, last.ValMAE)
	}
	phases := make([]string, 0, len(r.Phases))
	for _, p := range r.Phases {
		phases = append(phases, fmt.Sprintf("%s %s", p.Phase, p.Duration.Round(time.Millisecond)))
	}
	fmt.Fprintf(&b, "Phases:       %s\n", strings.Join(phases, ", "))
	fmt.Fprintf(&b, "Duration:     %s", r.Duration.Round(time.Millisecond))
	return b.String()
}

type eventLister interface {
	ListEvents(ctx context.Context, filter service.EventFilter) ([]model.InteractionEvent, error)
}

// previewRecommendations prints recommendations for the first users in the
// log, served through the artifacts that were just published.
func previewRecommendations(ctx context.Context, out io.Writer, cfg *config.Config, users int, store *storage.SQLiteStorage, report *training.Report) error {
	artifacts, err := openArtifacts(cfg)
	if err != nil {
		return err
	}
	svc, err := newRecommender(ctx, cfg, store, artifacts)
	if err != nil {
		return err
	}
	if svc.Version() != report.Version {
		return fmt.Errorf("loaded version %q, expected %q", svc.Version(), report.Version)
	}

	ids, err := firstUsers(ctx, store, users)
	if err != nil {
		return err
	}
	for _, id := range ids {
		res := svc.Recommend(ctx, id, cfg.Recommender.TopNDefault)
		fmt.Fprintf(out, "%s %s (%s): %s\n", cli.ChartIcon, cli.BoldStyle.Render(id), res.Source, strings.Join(res.ProductIDs(), ", "))
	}
	return nil
}

func firstUsers(ctx context.Context, events eventLister, n int) ([]string, error) {
	all, err := events.ListEvents(ctx, service.EventFilter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, ev := range all {
		if _, ok := seen[ev.UserID]; ok {
			continue
		}
		seen[ev.UserID] = struct{}{}
		ids = append(ids, ev.UserID)
		if len(ids) == n {
			break
		}
	}
	return ids, nil
}

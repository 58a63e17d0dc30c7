package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/affinity/internal/cli"
	"github.com/Veraticus/affinity/internal/recommend"
)

func recommendCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recommend <user-id>",
		Short: "Recommend products for a user",
		Long: `Rank catalog products for a user with the current model.

Users the model has never seen get the most popular products instead. When
no model has been published yet the result is empty.`,
		Example: `  affinity recommend u1
  affinity recommend u1 --limit 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
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
			svc, err := newRecommender(ctx, cfg, store, artifacts)
			if err != nil {
				return err
			}

			res := svc.Recommend(ctx, args[0], limit)
			out := cmd.OutOrStdout()

			switch res.Source {
			case recommend.SourceDegraded:
				fmt.Fprintln(out, cli.FormatWarning("No model available, run 'affinity train' first"))
			case recommend.SourcePopular:
				fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("%s is new, showing popular products", args[0])))
			case recommend.SourceModel:
				fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("Recommendations for %s", args[0])))
			}

			if res.Count() == 0 {
				fmt.Fprintln(out, "No recommendations.")
				return nil
			}

			w := newTable(out, "#", "Product", "Score")
			for i, it := range res.Items {
				fmt.Fprintf(w, "%d\t%s\t%.4f\n", i+1, it.ProductID, it.Score)
			}
			flushTable(w)
			fmt.Fprintf(out, "\n%d products", res.Count())
			if res.Version != "" {
				fmt.Fprintf(out, " from model %s", cli.SubtitleStyle.Render(res.Version))
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Number of products (default recommender.top_n_default)")

	return cmd
}

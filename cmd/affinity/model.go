package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/affinity/internal/artifact"
	"github.com/Veraticus/affinity/internal/cli"
)

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect published model artifacts",
		Long: `Show the current artifact set, list retained versions and export the
current set to another directory.`,
		Example: `  # Show the model currently being served
  affinity model info

  # List retained versions
  affinity model versions

  # Copy the current set somewhere else
  affinity model export ./backup`,
	}

	cmd.AddCommand(modelInfoCmd())
	cmd.AddCommand(modelVersionsCmd())
	cmd.AddCommand(modelExportCmd())

	return cmd
}

func modelInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the current model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			artifacts, err := openArtifacts(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if _, err := artifacts.Load(ctx); err != nil {
				return err
			}
			m, err := artifacts.Current(ctx)
			if err != nil {
				return err
			}
			size, err := artifacts.Size(m.Version)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox(cli.ModelIcon+" Current Model", formatManifest(m, size)))
			return nil
		},
	}
}

func modelVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List retained model versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			artifacts, err := openArtifacts(cfg)
			if err != nil {
				return err
			}

			versions, err := artifacts.Versions(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(versions) == 0 {
				fmt.Fprintln(out, "No models published. Run 'affinity train' to create one.")
				return nil
			}

			w := newTable(out, "", "Version", "Created", "Users", "Products", "Loss", "Size")
			for _, v := range versions {
				marker := ""
				if v.Current {
					marker = cli.SuccessStyle.Render("*")
				}
				size := "?"
				if n, err := artifacts.Size(v.Manifest.Version); err == nil {
					size = cli.FormatFileSize(n)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.6f\t%s\n",
					marker,
					v.Manifest.Version,
					cli.FormatRelativeTime(v.Manifest.CreatedAt),
					v.Manifest.Users,
					v.Manifest.Products,
					v.Manifest.FinalLoss,
					size)
			}
			flushTable(w)
			return nil
		},
	}
}

func modelExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <dir>",
		Short: "Copy the current model to a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			artifacts, err := openArtifacts(cfg)
			if err != nil {
				return err
			}

			m, err := artifacts.Export(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to export model: %w", err)
			}

			size, err := artifacts.Size(m.Version)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Exported model %s to %s (%s)\n",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				cli.InfoStyle.Render(m.Version),
				args[0],
				cli.FormatFileSize(size))
			return nil
		},
	}
}

func formatManifest(m *artifact.Manifest, size int64) string {
	hidden := make([]string, len(m.Hidden))
	for i, h := range m.Hidden {
		hidden[i] = fmt.Sprint(h)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Version:      %s\n", m.Version)
	fmt.Fprintf(&b, "Created:      %s (%s)\n", m.CreatedAt.Local().Format("2006-01-02 15:04:05"), cli.FormatRelativeTime(m.CreatedAt))
	fmt.Fprintf(&b, "Users:        %d\n", m.Users)
	fmt.Fprintf(&b, "Products:     %d\n", m.Products)
	fmt.Fprintf(&b, "Interactions: %d\n", m.Interactions)
	fmt.Fprintf(&b, "Architecture: embedding %d, hidden [%s]\n", m.EmbeddingDim, strings.Join(hidden, ", "))
	fmt.Fprintf(&b, "Size:         %s\n", cli.FormatFileSize(size))
	fmt.Fprintf(&b, "Epochs:       %d\n", m.Epochs)
	fmt.Fprintf(&b, "Final loss:   %.6f", m.FinalLoss)
	if m.ValLoss != 0 || m.ValMAE != 0 {
		fmt.Fprintf(&b, "\nValidation:   loss %.6f, MAE %.6f", m.ValLoss, m.ValMAE)
	}
	return b.String()
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/affinity/internal/cli"
	"github.com/Veraticus/affinity/internal/common"
	"github.com/Veraticus/affinity/internal/model"
	"github.com/Veraticus/affinity/internal/service"
	"github.com/Veraticus/affinity/internal/tracking"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Record and inspect shopper interactions",
		Long: `Log, list, import and delete interaction events.

Each event ties a shopper to a catalog product with one of the event types
view, cart, purchase or remove_from_cart. Events are never edited; training
reads the whole log.`,
		Example: `  # Record a purchase
  affinity events log u1 P100 purchase

  # Import a historical log, assigning each row a random catalog product
  affinity events import history.csv --remap --seed 42

  # Show a shopper's recent events
  affinity events list --user u1 --limit 20`,
	}

	cmd.AddCommand(logEventCmd())
	cmd.AddCommand(listEventsCmd())
	cmd.AddCommand(importEventsCmd())
	cmd.AddCommand(deleteEventsCmd())

	return cmd
}

func logEventCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <user-id> <product-id> <event-type>",
		Short: "Record a single interaction",
		Args:  cobra.ExactArgs(3),
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

			tracker := tracking.NewTracker(store)
			ev, err := tracker.LogEvent(ctx, tracking.LogEventRequest{
				UserID:    args[0],
				ProductID: args[1],
				EventType: args[2],
			})
			if err != nil {
				if common.IsValidationError(err) {
					return common.NewUserError("event rejected", err)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s Logged %s of %s by %s (weight %+.0f)\n",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				ev.EventType,
				cli.InfoStyle.Render(ev.ProductID),
				cli.InfoStyle.Render(ev.UserID),
				ev.Weight)
			return nil
		},
	}
}

func listEventsCmd() *cobra.Command {
	var (
		userID    string
		eventType string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List logged interactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			filter := service.EventFilter{UserID: userID, Limit: limit}
			if eventType != "" {
				et, err := model.ParseEventType(eventType)
				if err != nil {
					return common.NewUserError("invalid --type", err)
				}
				filter.EventTypes = []model.EventType{et}
			}

			events, err := store.ListEvents(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}
			total, err := store.CountEvents(ctx, service.EventFilter{UserID: userID, EventTypes: filter.EventTypes})
			if err != nil {
				return fmt.Errorf("failed to count events: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No events found.")
				return nil
			}

			w := newTable(out, "Time", "User", "Product", "Type", "Weight")
			for _, ev := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%+.0f\n",
					ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
					ev.UserID, ev.ProductID, ev.EventType, ev.Weight)
			}
			flushTable(w)
			fmt.Fprintf(out, "\nShowing %d of %d events\n", len(events), total)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Only events for this user")
	cmd.Flags().StringVarP(&eventType, "type", "t", "", "Only events of this type")
	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "Maximum events to show (0 for all)")

	return cmd
}

func importEventsCmd() *cobra.Command {
	var (
		remap     bool
		seed      uint64
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Bulk import historical events from CSV",
		Long: `Import historical events from a CSV file with user_id, product_id and
event_type columns and an optional event_time column.

Rows with an unknown event type or blank user are skipped. Rows for products
outside the catalog are skipped unless --remap is given, in which case every
row is assigned a random catalog product drawn with --seed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// #nosec G304 - path is supplied by the operator
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			rows, err := tracking.ReadEventsCSV(f)
			if err != nil {
				if errors.Is(err, tracking.ErrMissingColumn) {
					return common.NewUserError("CSV needs user_id, product_id and event_type columns", err)
				}
				return err
			}

			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)
			defer flushMetrics(cfg)

			bar := cli.NewProgressBar(cmd.ErrOrStderr(), len(rows), "Importing events")
			stats, err := tracking.NewTracker(store).Import(ctx, rows, tracking.ImportOptions{
				RemapProducts: remap,
				Seed:          seed,
				BatchSize:     batchSize,
				OnBatch: func(done, total int) {
					bar.ChangeMax(total)
					cli.Advance(bar, done)
				},
			})
			if err != nil {
				return fmt.Errorf("import stopped after %d events: %w", stats.Imported, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d of %d events", stats.Imported, stats.Read)))
			if stats.Skipped > 0 {
				fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Skipped %d rows", stats.Skipped)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remap, "remap", false, "Assign each row a random catalog product")
	cmd.Flags().Uint64Var(&seed, "seed", tracking.DefaultImportSeed, "Seed for --remap")
	cmd.Flags().IntVar(&batchSize, "batch-size", tracking.DefaultImportBatchSize, "Events per transaction")

	return cmd
}

func deleteEventsCmd() *cobra.Command {
	var (
		userID string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete events for a user or the whole log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" && !all {
				return common.NewUserError("refusing to delete", errors.New("pass --user or --all"))
			}

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

			n, err := store.DeleteEvents(ctx, service.EventFilter{UserID: userID})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Deleted %d events", n)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Delete only this user's events")
	cmd.Flags().BoolVar(&all, "all", false, "Delete the entire event log")

	return cmd
}

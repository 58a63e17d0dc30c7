package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/viper"

	"github.com/Veraticus/affinity/internal/artifact"
	"github.com/Veraticus/affinity/internal/cli"
	"github.com/Veraticus/affinity/internal/config"
	"github.com/Veraticus/affinity/internal/metrics"
	"github.com/Veraticus/affinity/internal/recommend"
	"github.com/Veraticus/affinity/internal/storage"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// loadConfig validates the merged flag, env, file and default settings.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// initStorage opens the database and brings its schema up to date.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		closeStorage(store)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func closeStorage(store *storage.SQLiteStorage) {
	if err := store.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

func openArtifacts(cfg *config.Config) (*artifact.Store, error) {
	return artifact.NewStore(cfg.Recommender.ArtifactDir, cfg.Recommender.KeepVersions)
}

// newRecommender builds a service over the current artifacts. A missing or
// broken artifact set is logged and leaves the service degraded.
func newRecommender(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, artifacts *artifact.Store) (*recommend.Service, error) {
	svc, err := recommend.NewService(recommend.ConfigFrom(cfg.Recommender), store, artifacts)
	if err != nil {
		return nil, err
	}
	if err := svc.Load(ctx); err != nil {
		slog.Warn("Serving without a model", "error", err)
	}
	return svc, nil
}

func flushMetrics(cfg *config.Config) {
	if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		slog.Warn("Failed to write metrics textfile", "error", err, "path", cfg.Metrics.Textfile)
	}
}

// newTable starts a tab-aligned table with a bold header row.
func newTable(out io.Writer, headers ...string) *tabwriter.Writer {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for i, h := range headers {
		headers[i] = cli.HeaderStyle.Render(h)
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	return w
}

func flushTable(w *tabwriter.Writer) {
	if err := w.Flush(); err != nil {
		slog.Warn("Failed to flush table output", "error", err)
	}
}

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/affinity/internal/artifact"
	"github.com/Veraticus/affinity/internal/common"
	"github.com/Veraticus/affinity/internal/model"
	"github.com/Veraticus/affinity/internal/service"
	"github.com/Veraticus/affinity/internal/training"
)

// runCLI executes the root command against an isolated database and
// artifact directory.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{
		"--db", filepath.Join(dir, "affinity.db"),
		"--artifacts", filepath.Join(dir, "models"),
		"--log-level", "error",
	}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	catalog := filepath.Join(dir, "catalog.csv")
	require.NoError(t, os.WriteFile(catalog, []byte("id,name,category\nP1,Trail Shoe,footwear\nP2,Rain Jacket,outerwear\n"), 0o600))

	out, err := runCLI(t, dir, "recommend", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "No model available")

	out, err = runCLI(t, dir, "products", "import", catalog)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 products")

	for _, ev := range [][]string{
		{"u1", "P1", "purchase"},
		{"u1", "P2", "view"},
		{"u2", "P2", "purchase"},
	} {
		_, err = runCLI(t, dir, append([]string{"events", "log"}, ev...)...)
		require.NoError(t, err)
	}

	_, err = runCLI(t, dir, "events", "log", "u1", "P9", "view")
	require.ErrorIs(t, err, common.ErrInvalidProduct)
	_, err = runCLI(t, dir, "events", "log", "u1", "P1", "wishlist")
	require.ErrorIs(t, err, common.ErrInvalidInput)

	out, err = runCLI(t, dir, "train", "--epochs", "2", "--preview", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Training Summary")

	out, err = runCLI(t, dir, "recommend", "u1", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Recommendations for u1")
	assert.Contains(t, out, "P1")
	assert.Contains(t, out, "P2")

	out, err = runCLI(t, dir, "recommend", "stranger")
	require.NoError(t, err)
	assert.Contains(t, out, "showing popular products")

	out, err = runCLI(t, dir, "model", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "Current Model")
	assert.Contains(t, out, "Size:")

	exportDir := filepath.Join(dir, "export")
	out, err = runCLI(t, dir, "model", "export", exportDir)
	require.NoError(t, err)
	assert.Contains(t, out, "KiB")
	assert.FileExists(t, filepath.Join(exportDir, "manifest.yaml"))
}

type fakeEvents []model.InteractionEvent

func (f fakeEvents) ListEvents(_ context.Context, _ service.EventFilter) ([]model.InteractionEvent, error) {
	return f, nil
}

func TestFirstUsers(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := fakeEvents{
		model.NewInteractionEvent("e1", "u2", "P1", model.EventView, at),
		model.NewInteractionEvent("e2", "u2", "P2", model.EventCart, at),
		model.NewInteractionEvent("e3", "u1", "P1", model.EventView, at),
		model.NewInteractionEvent("e4", "u3", "P1", model.EventView, at),
	}

	ids, err := firstUsers(context.Background(), events, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u1"}, ids)

	ids, err = firstUsers(context.Background(), fakeEvents{}, 2)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFormatReport(t *testing.T) {
	r := &training.Report{
		Version: "0b1e6a5c-2f7d-4f7e-9d6b-3a1c2e4f5a6b",
		Events:  12,
		Phases: []training.PhaseTiming{
			{Phase: training.PhaseAggregate, Duration: time.Millisecond},
			{Phase: training.PhaseTrain, Duration: 2 * time.Second},
		},
	}
	text := formatReport(r)
	assert.Contains(t, text, r.Version)
	assert.Contains(t, text, "aggregate 1ms")
	assert.Contains(t, text, "train 2s")
}

func TestFormatManifest(t *testing.T) {
	m := &artifact.Manifest{
		Version:      "0b1e6a5c-2f7d-4f7e-9d6b-3a1c2e4f5a6b",
		CreatedAt:    time.Now(),
		Hidden:       []int{128, 64},
		EmbeddingDim: 50,
		Users:        2,
		Products:     3,
	}
	text := formatManifest(m, 3*1024)
	assert.Contains(t, text, "hidden [128, 64]")
	assert.Contains(t, text, "3.0 KiB")
	assert.NotContains(t, text, "Validation")
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, common.NewUserError("event rejected", common.ErrInvalidProduct))
	assert.Contains(t, buf.String(), "event rejected")
	assert.Contains(t, buf.String(), common.ErrInvalidProduct.Error())

	buf.Reset()
	printError(&buf, errors.New("disk full"))
	assert.Contains(t, buf.String(), "disk full")
}

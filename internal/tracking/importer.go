package tracking

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Veraticus/affinity/internal/common"
	"github.com/Veraticus/affinity/internal/metrics"
	"github.com/Veraticus/affinity/internal/model"
)

// Import defaults.
const (
	DefaultImportBatchSize = 1000
	DefaultImportSeed      = 42
)

// ImportRow is one historical event before validation.
type ImportRow struct {
	Timestamp time.Time
	UserID    string
	ProductID string
	EventType string
}

// ImportOptions controls a bulk import.
type ImportOptions struct {
	// OnBatch is called after each committed batch with the number of rows
	// imported so far and the number of rows that will be imported in total.
	OnBatch func(done, total int)
	// RemapProducts assigns every row a random catalog product instead of
	// requiring its product to exist.
	RemapProducts bool
	Seed          uint64
	BatchSize     int
}

// ImportStats summarizes a bulk import.
type ImportStats struct {
	Read     int
	Imported int
	Skipped  int
}

// Import appends historical events in batches, one transaction per batch.
// Rows with an unknown event type or empty user are skipped, as are rows for
// products outside the catalog unless RemapProducts is set. Rows without a
// timestamp are stamped with the current time.
func (t *Tracker) Import(ctx context.Context, rows []ImportRow, opts ImportOptions) (ImportStats, error) {
	stats := ImportStats{Read: len(rows)}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultImportBatchSize
	}

	catalog, err := t.store.ProductIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load catalog: %w", err)
	}
	if len(catalog) == 0 {
		return stats, fmt.Errorf("%w: catalog is empty, add products first", common.ErrInvalidProduct)
	}
	known := make(map[string]struct{}, len(catalog))
	for _, id := range catalog {
		known[id] = struct{}{}
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	now := t.now().UTC()

	events := make([]model.InteractionEvent, 0, len(rows))
	for _, row := range rows {
		et := model.EventType(strings.TrimSpace(row.EventType))
		userID := strings.TrimSpace(row.UserID)
		if !et.IsValid() || userID == "" {
			stats.Skipped++
			continue
		}

		productID := strings.TrimSpace(row.ProductID)
		if opts.RemapProducts {
			productID = catalog[rng.IntN(len(catalog))]
		} else if _, ok := known[productID]; !ok {
			stats.Skipped++
			continue
		}

		at := row.Timestamp
		if at.IsZero() {
			at = now
		}
		events = append(events, model.NewInteractionEvent(t.newID(), userID, productID, et, at.UTC()))
	}

	for lo := 0; lo < len(events); lo += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		hi := min(lo+opts.BatchSize, len(events))
		if err := t.store.AppendEvents(ctx, events[lo:hi]); err != nil {
			return stats, fmt.Errorf("failed to import batch %d-%d: %w", lo, hi, err)
		}
		stats.Imported = hi
		if opts.OnBatch != nil {
			opts.OnBatch(hi, len(events))
		}
	}

	metrics.RecordImport(stats.Imported, stats.Skipped)
	slog.Info("imported interaction events",
		"read", stats.Read,
		"imported", stats.Imported,
		"skipped", stats.Skipped)
	return stats, nil
}

// ErrMissingColumn is returned when a CSV header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ReadEventsCSV parses rows with a header containing user_id, product_id and
// event_type, plus an optional event_time column. Unparseable timestamps are
// left zero.
func ReadEventsCSV(r io.Reader) ([]ImportRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"user_id", "product_id", "event_type"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var rows []ImportRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(rows)+2, err)
		}
		rows = append(rows, ImportRow{
			UserID:    field(record, "user_id"),
			ProductID: field(record, "product_id"),
			EventType: field(record, "event_type"),
			Timestamp: parseTime(field(record, "event_time")),
		})
	}
	return rows, nil
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

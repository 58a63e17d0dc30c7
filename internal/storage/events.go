package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/affinity/internal/model"
	"github.com/Veraticus/affinity/internal/service"
)

// AppendEvent adds one event to the interaction log.
func (s *SQLiteStorage) AppendEvent(ctx context.Context, event model.InteractionEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEvent(&event); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, product_id, event_type, weight, event_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.ID, event.UserID, event.ProductID, string(event.EventType), event.Weight, event.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// AppendEvents adds a batch of events in a single transaction.
func (s *SQLiteStorage) AppendEvents(ctx context.Context, events []model.InteractionEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEvents(events); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, user_id, product_id, event_type, weight, event_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.ID,
			ev.UserID,
			ev.ProductID,
			string(ev.EventType),
			ev.Weight,
			ev.Timestamp.UTC(),
		); err != nil {
			return fmt.Errorf("failed to append event %s: %w", ev.ID, err)
		}
	}

	return tx.Commit()
}

// ListEvents returns events matching the filter, oldest first.
func (s *SQLiteStorage) ListEvents(ctx context.Context, filter service.EventFilter) ([]model.InteractionEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	where, args := eventWhere(filter)
	query := `SELECT id, user_id, product_id, event_type, weight, event_time FROM events` +
		where + ` ORDER BY event_time, id`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.InteractionEvent
	for rows.Next() {
		var (
			ev        model.InteractionEvent
			eventType string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.ProductID, &eventType, &ev.Weight, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.EventType = model.EventType(eventType)
		events = append(events, ev)
	}

	return events, rows.Err()
}

// CountEvents returns the number of events matching the filter.
func (s *SQLiteStorage) CountEvents(ctx context.Context, filter service.EventFilter) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	where, args := eventWhere(filter)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// DeleteEvents removes events matching the filter and returns how many went.
// An empty filter deletes the whole log.
func (s *SQLiteStorage) DeleteEvents(ctx context.Context, filter service.EventFilter) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	where, args := eventWhere(filter)
	res, err := s.db.ExecContext(ctx, `DELETE FROM events`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return res.RowsAffected()
}

// PopularProducts sums event weights per catalog product for the given event
// types. Ties are ordered by product ID.
func (s *SQLiteStorage) PopularProducts(ctx context.Context, eventTypes []model.EventType, limit int) ([]model.PopularProduct, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(eventTypes) == 0 {
		return nil, fmt.Errorf("%w: eventTypes", ErrEmptySlice)
	}

	placeholders, args := inClause(eventTypes)
	query := `
		SELECT e.product_id, SUM(e.weight) AS total
		FROM events e
		JOIN products p ON p.id = e.product_id
		WHERE e.event_type IN (` + placeholders + `)
		GROUP BY e.product_id
		ORDER BY total DESC, e.product_id ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query popular products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var popular []model.PopularProduct
	for rows.Next() {
		var p model.PopularProduct
		if err := rows.Scan(&p.ProductID, &p.TotalWeight); err != nil {
			return nil, fmt.Errorf("failed to scan popular product: %w", err)
		}
		popular = append(popular, p)
	}

	return popular, rows.Err()
}

func eventWhere(filter service.EventFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.EventTypes) > 0 {
		placeholders, typeArgs := inClause(filter.EventTypes)
		clauses = append(clauses, "event_type IN ("+placeholders+")")
		args = append(args, typeArgs...)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func inClause(types []model.EventType) (string, []any) {
	args := make([]any, len(types))
	for i, t := range types {
		args[i] = string(t)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(types)), ","), args
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/affinity/internal/model"
)

// Validation errors.
var (
	ErrNilContext     = errors.New("context cannot be nil")
	ErrEmptyString    = errors.New("string parameter cannot be empty")
	ErrNilParameter   = errors.New("parameter cannot be nil")
	ErrEmptySlice     = errors.New("slice cannot be empty")
	ErrInvalidEvent   = errors.New("invalid event")
	ErrInvalidProduct = errors.New("invalid product")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateEvent validates a single interaction event.
func validateEvent(ev *model.InteractionEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: event", ErrNilParameter)
	}
	if strings.TrimSpace(ev.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidEvent)
	}
	if strings.TrimSpace(ev.UserID) == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidEvent)
	}
	if strings.TrimSpace(ev.ProductID) == "" {
		return fmt.Errorf("%w: missing product ID", ErrInvalidEvent)
	}
	if !ev.EventType.IsValid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, ev.EventType)
	}
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	return nil
}

// validateEvents validates a slice of events.
func validateEvents(events []model.InteractionEvent) error {
	if events == nil {
		return fmt.Errorf("%w: events", ErrNilParameter)
	}
	if len(events) == 0 {
		return fmt.Errorf("%w: events", ErrEmptySlice)
	}
	for i := range events {
		if err := validateEvent(&events[i]); err != nil {
			return fmt.Errorf("event at index %d: %w", i, err)
		}
	}
	return nil
}

// validateProduct validates a catalog product.
func validateProduct(p *model.Product) error {
	if p == nil {
		return fmt.Errorf("%w: product", ErrNilParameter)
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidProduct)
	}
	return nil
}

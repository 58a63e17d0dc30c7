// Package tracking validates and records user interaction events.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Veraticus/affinity/internal/common"
	"github.com/Veraticus/affinity/internal/metrics"
	"github.com/Veraticus/affinity/internal/model"
	"github.com/Veraticus/affinity/internal/service"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Store is what the tracker needs from persistence.
type Store interface {
	service.EventStore
	service.Catalog
}

// LogEventRequest is a single interaction reported by a client.
type LogEventRequest struct {
	UserID    string `validate:"required,max=255"`
	ProductID string `validate:"required,max=255"`
	EventType string `validate:"required,oneof=view cart purchase remove_from_cart"`
}

// Tracker appends validated events to the interaction log.
type Tracker struct {
	store Store
	now   func() time.Time
	newID func() string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker backed by store.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LogEvent validates req and appends exactly one event. Invalid requests
// return common.ErrInvalidInput or common.ErrInvalidProduct and leave the log
// untouched.
func (t *Tracker) LogEvent(ctx context.Context, req LogEventRequest) (*model.InteractionEvent, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.EventType = strings.TrimSpace(req.EventType)

	if err := validateRequest(req); err != nil {
		metrics.EventsRejected.WithLabelValues("invalid_input").Inc()
		return nil, err
	}

	exists, err := t.store.ProductExists(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to check product: %w", err)
	}
	if !exists {
		metrics.EventsRejected.WithLabelValues("invalid_product").Inc()
		return nil, fmt.Errorf("%w: %q is not in the catalog", common.ErrInvalidProduct, req.ProductID)
	}

	event := model.NewInteractionEvent(t.newID(), req.UserID, req.ProductID, model.EventType(req.EventType), t.now().UTC())
	if err := t.store.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to log event: %w", err)
	}

	metrics.EventsLogged.WithLabelValues(req.EventType).Inc()
	slog.Debug("logged interaction event",
		"id", event.ID,
		"user_id", event.UserID,
		"product_id", event.ProductID,
		"event_type", event.EventType)
	return &event, nil
}

func validateRequest(req LogEventRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", common.ErrInvalidInput, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", common.ErrInvalidInput, strings.Join(msgs, "; "))
}

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/affinity/internal/model"
)

func TestValidateContext(t *testing.T) {
	tests := []struct {
		ctx     context.Context
		name    string
		wantErr bool
	}{
		{
			name:    "valid context",
			ctx:     context.Background(),
			wantErr: false,
		},
		{
			name:    "nil context",
			ctx:     nil,
			wantErr: true,
		},
		{
			name: "canceled context still valid",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			}(),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateContext(tt.ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateContext() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateEvent(t *testing.T) {
	valid := model.NewInteractionEvent("e1", "u1", "p1", model.EventView, time.Now())

	tests := []struct {
		name    string
		mutate  func(ev *model.InteractionEvent)
		wantErr bool
	}{
		{"valid", func(*model.InteractionEvent) {}, false},
		{"missing id", func(ev *model.InteractionEvent) { ev.ID = "" }, true},
		{"missing user", func(ev *model.InteractionEvent) { ev.UserID = " " }, true},
		{"missing product", func(ev *model.InteractionEvent) { ev.ProductID = "" }, true},
		{"unknown type", func(ev *model.InteractionEvent) { ev.EventType = "wishlist" }, true},
		{"zero time", func(ev *model.InteractionEvent) { ev.Timestamp = time.Time{} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			tt.mutate(&ev)
			err := validateEvent(&ev)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := validateEvent(nil); err == nil {
		t.Error("validateEvent(nil) should fail")
	}
}

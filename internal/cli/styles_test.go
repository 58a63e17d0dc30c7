package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		want string
		size int64
	}{
		{"0 B", 0},
		{"1023 B", 1023},
		{"1.0 KiB", 1024},
		{"1.5 KiB", 1536},
		{"2.0 MiB", 2 << 20},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFileSize(tt.size))
	}
}

func TestFormatRelative(t *testing.T) {
	at := time.Date(2024, 1, 2, 15, 4, 0, 0, time.UTC)
	tests := []struct {
		want string
		d    time.Duration
	}{
		{"just now", 10 * time.Second},
		{"1 minute ago", 90 * time.Second},
		{"5 minutes ago", 5 * time.Minute},
		{"1 hour ago", time.Hour},
		{"3 hours ago", 3 * time.Hour},
		{"yesterday", 30 * time.Hour},
		{"4 days ago", 4 * 24 * time.Hour},
		{"2024-01-02 15:04", 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatRelative(tt.d, at))
	}
}

func TestFormatHelpersKeepMessage(t *testing.T) {
	assert.Contains(t, FormatSuccess("trained"), "trained")
	assert.Contains(t, FormatWarning("degraded"), "degraded")
	assert.Contains(t, FormatError("failed"), "failed")
	assert.Contains(t, FormatInfo("loaded"), "loaded")
	assert.Contains(t, RenderBox("Summary", "epochs: 10"), "epochs: 10")
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, 3, "Training")
	Advance(bar, 1)
	Advance(bar, 3)
	Advance(nil, 2)
	assert.True(t, strings.Contains(buf.String(), "Training"))
}

package util

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 350*time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 350*time.Millisecond, b.Next())
	assert.Equal(t, 350*time.Millisecond, b.Next())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestBackoffWaitStopsOnCancel(t *testing.T) {
	b := NewBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, b.Wait(ctx))
}

func TestExtractLastError(t *testing.T) {
	stderr := "arecord: main:850: audio open error\n  \narecord: Permission denied\n\n"
	assert.Equal(t, "arecord: Permission denied", ExtractLastError(stderr))
	assert.Empty(t, ExtractLastError("  \n"))
}

func TestDarkenColor(t *testing.T) {
	tests := []struct {
		name    string
		hex     string
		percent int
		want    string
	}{
		{"no change", "#EF4444", 0, "#EF4444"},
		{"half", "#EF4444", 50, "#772222"},
		{"black", "#10B981", 100, "#000000"},
		{"invalid passthrough", "not-a-color", 20, "not-a-color"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DarkenColor(tt.hex, tt.percent))
		})
	}
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath("storage.path", "/var/lib/ecoscan/reports.db"))
	assert.Error(t, ValidatePath("storage.path", ""))
	assert.Error(t, ValidatePath("storage.path", "/var/lib/../etc/passwd"))
}

func TestCheckPathWritable(t *testing.T) {
	assert.NoError(t, CheckPathWritable(t.TempDir()))
}

package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level("bogus"), slog.LevelInfo},
		{Level(""), slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "level %q", tt.input)
	}
}

func TestWithComponent(t *testing.T) {
	base := NewLogger("client", LevelInfo)
	scoped := base.WithComponent("scheduler")

	assert.Equal(t, "scheduler", scoped.component)
	assert.Equal(t, "client", base.component, "original logger is untouched")
	assert.Same(t, base.Logger, scoped.Logger)
}

func TestDiscard(t *testing.T) {
	log := Discard()
	// Must not panic with an empty component.
	log.Debug("dropped")
	log.Info("dropped")
	log.Warn("dropped", "key", "value")
	log.Error("dropped")
}

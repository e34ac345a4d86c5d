package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewLevelFallback(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"bogus": zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"error": zerolog.ErrorLevel,
	}
	for level, want := range tests {
		// Bound to a variable as the mains do before calling Fatal.
		l := New("", level)
		assert.Equal(t, want, l.GetLevel(), "level %q", level)
		assert.NotNil(t, l.Error(), "error events stay enabled at %q", level)
	}
}

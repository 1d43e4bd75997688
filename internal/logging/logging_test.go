package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		level     string
		wantLevel zap.AtomicLevel
		wantErr   bool
	}{
		{"production default", "production", "", zap.NewAtomicLevelAt(zap.InfoLevel), false},
		{"development default", "development", "", zap.NewAtomicLevelAt(zap.DebugLevel), false},
		{"explicit level", "production", "warn", zap.NewAtomicLevelAt(zap.WarnLevel), false},
		{"bad level", "production", "loud", zap.AtomicLevel{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.env, tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel.Level(), logger.Level())
		})
	}
}

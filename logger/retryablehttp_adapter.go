package logger

import (
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// LeveledAdapter lets retryablehttp clients log through zerolog
type LeveledAdapter struct {
	logger zerolog.Logger
}

var _ retryablehttp.LeveledLogger = (*LeveledAdapter)(nil)

// NewLeveledAdapter wraps a zerolog logger as a retryablehttp.LeveledLogger
func NewLeveledAdapter(logger zerolog.Logger) *LeveledAdapter {
	return &LeveledAdapter{logger: logger}
}

func (a *LeveledAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (a *LeveledAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info().Fields(keysAndValues).Msg(msg)
}

// Debug logs at trace level; retryablehttp reports every request attempt here
func (a *LeveledAdapter) Debug(msg string, keysAndValues ...interface{}) {
	a.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (a *LeveledAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.logger.Warn().Fields(keysAndValues).Msg(msg)
}

package logger

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// ForInvocation returns a child logger tagged with a fresh build_id so every line from one
// command run can be correlated.
func ForInvocation(logger zerolog.Logger, command string) (zerolog.Logger, string) {
	id := uuid.NewString()
	return logger.With().Str("build_id", id).Str("command", command).Logger(), id
}

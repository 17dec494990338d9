package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init points the global logger at file, or stderr when file is empty, and
// returns the opened file so the caller can close it on exit.
func Init(level zerolog.Level, file string) io.Closer {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)

	if file != "" {
		logFile, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			panic(fmt.Errorf("failed to open log file: %w", err))
		}
		out, closer = logFile, logFile
	}

	log.Logger = New(out, level)

	if level == zerolog.DebugLevel {
		log.Debug().Msg("Log level set to DEBUG")
	}
	return closer
}

func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	multi := zerolog.MultiLevelWriter(w)
	return zerolog.New(multi).Level(level).With().Timestamp().Logger()
}

package config

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger from LogLevel. Unknown
// levels fall back to info. When ExternalLog names a file, log lines are
// duplicated into it for collectors that tail files rather than stderr.
func InitLogger() {
	level, err := zerolog.ParseLevel(Config().LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	var openErr error
	if path := Config().ExternalLog; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			openErr = err
		} else {
			out = zerolog.MultiLevelWriter(os.Stderr, f)
		}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	if openErr != nil {
		log.Warn().Err(openErr).Str("path", Config().ExternalLog).
			Msg("cannot open external log file, logging to stderr only")
	}
}

package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic).
	Level string

	// Format is json or console. "pretty" is accepted as an alias for console.
	Format string

	// Output is stdout or stderr.
	Output string

	// AddSource adds the calling file and line to each entry.
	AddSource bool

	// TimeFormat is the layout of the time field.
	TimeFormat string
}

// DefaultLoggingConfig returns the configuration used when nothing is set.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// NewLogger builds the process logger described by cfg. It also sets the
// zerolog global level and time layout.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	out := os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newLogger(cfg, out)
}

func newLogger(cfg LoggingConfig, w io.Writer) zerolog.Logger {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = timeFormat

	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	}

	builder := zerolog.New(w).With().Timestamp()
	if cfg.AddSource {
		builder = builder.Caller()
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	return builder.Logger().Level(level)
}

// parseLevel maps a level name to zerolog.Level, falling back to info.
func parseLevel(level string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	parsed, err := zerolog.ParseLevel(name)
	if err != nil || parsed == zerolog.NoLevel || parsed == zerolog.Disabled {
		return zerolog.InfoLevel
	}
	return parsed
}

// WithArticleContext tags entries with the external id and, when known, the PMID.
func WithArticleContext(logger zerolog.Logger, pmcid, pmid string) zerolog.Logger {
	ctx := logger.With().Str("pmcid", pmcid)
	if pmid != "" {
		ctx = ctx.Str("pmid", pmid)
	}
	return ctx.Logger()
}

// WithSearchContext tags entries with the PubMed query and article type.
func WithSearchContext(logger zerolog.Logger, query, articleType string) zerolog.Logger {
	return logger.With().
		Str("query", query).
		Str("article_type", articleType).
		Logger()
}

// WithProviderContext tags entries with the language-model provider and model.
func WithProviderContext(logger zerolog.Logger, provider, model string) zerolog.Logger {
	return logger.With().
		Str("provider", provider).
		Str("model", model).
		Logger()
}

// WithRequestContext adds the request and correlation ids carried by ctx.
func WithRequestContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	requestID := RequestIDFromContext(ctx)
	correlationID := CorrelationIDFromContext(ctx)
	if requestID == "" && correlationID == "" {
		return logger
	}

	lc := logger.With()
	if requestID != "" {
		lc = lc.Str("request_id", requestID)
	}
	if correlationID != "" && correlationID != requestID {
		lc = lc.Str("correlation_id", correlationID)
	}
	return lc.Logger()
}

package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Agents derive child loggers from
// it at construction time via the With* helpers rather than logging through
// it directly, so every line they emit carries its agent identity.
//
// The zero setup is usable: console lines on stderr at info level. Init
// replaces the root; loggers derived before Init keep the old sink.
var Logger = newRoot(Config{})

// Config holds logging configuration
type Config struct {
	// Level is a zerolog level name (trace, debug, info, warn, error).
	// Empty or unrecognized values fall back to info.
	Level string

	// JSON emits machine-readable lines instead of the human console format
	JSON bool

	// Output defaults to os.Stderr
	Output io.Writer
}

// Init replaces the root logger. Call once at startup, before agents are
// constructed.
func Init(cfg Config) {
	Logger = newRoot(cfg)
}

func newRoot(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var sink io.Writer = out
	if !cfg.JSON {
		sink = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(sink).Level(level).With().Timestamp().Logger()
}

// WithComponent derives a child logger for a non-agent component
// (transport backend, CLI, metrics endpoint)
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNodeID derives a node agent's logger
func WithNodeID(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithOrchestratorID derives an orchestrator agent's logger
func WithOrchestratorID(id string) zerolog.Logger {
	return Logger.With().Str("orchestrator_id", id).Logger()
}

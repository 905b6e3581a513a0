package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/tep-core/internal/infrastructure/config"
)

// serviceName tags every entry so components sharing a sink can be told apart.
const serviceName = "tep"

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Logger is a slog.Logger that carries the service, component and version
// fields on every entry.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds the logger of one component from its logging section.
//
// Parameters:
//   - cfg: Level, format ("json" or "text") and output ("stdout" or "stderr")
//   - component: Component name; omitted from entries when empty
//   - version: Component version
//
// Returns:
//   - *Logger: Logger ready for use
func New(cfg config.LoggingConfig, component, version string) *Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newWithWriter(out, cfg, component, version)
}

func newWithWriter(w io.Writer, cfg config.LoggingConfig, component, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	fields := []slog.Attr{slog.String("service", serviceName), slog.String("version", version)}
	if component != "" {
		fields = append(fields, slog.String("component", component))
	}
	return &Logger{Logger: slog.New(h.WithAttrs(fields))}
}

// parseLevel maps a configured level name to slog; unknown names mean info.
func parseLevel(name string) slog.Level {
	if lvl, ok := levels[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// With returns a child logger carrying extra fields, for example
// logger.With("module", "bus").
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the logger used before configuration has been read: JSON at
// info level on stdout, without a component field.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "", "dev")
}

package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/sweater-ventures/devslog"
	"golang.org/x/term"
)

type ContextKey string

var LoggerContextKey = ContextKey("logger")

var logLevel *slog.LevelVar

// InitLogging installs the process-wide slog handler. JSON output is used when
// stdout is not a terminal or JSON_LOGGING=true; otherwise the devslog handler.
func InitLogging() {
	logLevel = new(slog.LevelVar)
	logLevel.Set(slog.LevelInfo)

	jsonLogging := false
	if v, ok := os.LookupEnv("JSON_LOGGING"); ok && strings.ToLower(v) == "true" {
		jsonLogging = true
	}

	if jsonLogging || !term.IsTerminal(int(os.Stdout.Fd())) {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})))
		return
	}

	slog.SetDefault(slog.New(devslog.NewHandler(os.Stdout, &devslog.Options{
		HandlerOptions: &slog.HandlerOptions{
			Level: logLevel,
		},
		TimeFormat:           "[ 03:04:05 PM ]",
		StringIndentation:    true,
		DisableAttributeType: true,
	})))
}

// setLogLevel applies a named log level. "default" resolves to debug in dev
// mode and info otherwise.
func setLogLevel(level string, devMode bool) {
	if level == "default" {
		if devMode {
			logLevel.Set(slog.LevelDebug)
		} else {
			logLevel.Set(slog.LevelInfo)
		}
		return
	}

	switch strings.ToLower(level) {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "info":
		logLevel.Set(slog.LevelInfo)
	case "warn", "warning":
		logLevel.Set(slog.LevelWarn)
	default:
		slog.Error("Unable to configure log level", "level", level)
	}
}

package logger

import (
	"os"
	"time"

	"github.com/evanw/esbuild/pkg/api"
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

// BuildMessages logs esbuild errors and warnings for a target
func BuildMessages(logger zerolog.Logger, target string, result api.BuildResult) {
	for _, msg := range result.Errors {
		message(logger.Error(), target, msg).Msg("Build error")
	}
	for _, msg := range result.Warnings {
		message(logger.Warn(), target, msg).Msg("Build warning")
	}
}

func message(evt *zerolog.Event, target string, msg api.Message) *zerolog.Event {
	evt = evt.Str("target", target).Str("error", msg.Text)
	if msg.PluginName != "" {
		evt = evt.Str("plugin", msg.PluginName)
	}
	if msg.Location != nil {
		evt = evt.
			Str("file", msg.Location.File).
			Int("line", msg.Location.Line).
			Int("column", msg.Location.Column)
	}
	return evt
}

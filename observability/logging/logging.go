package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type options struct {
	out   io.Writer
	file  string
	text  bool
	level slog.Level
}

type Option func(*options)

// WithFile also writes the log to a size-rotated file.
func WithFile(path string) Option {
	return func(o *options) { o.file = strings.TrimSpace(path) }
}

// WithText switches to the human readable handler, for terminals.
func WithText() Option {
	return func(o *options) { o.text = true }
}

func WithLevel(level slog.Level) Option {
	return func(o *options) { o.level = level }
}

// WithOutput replaces stdout as the primary sink.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided, and values under secret
// keys are masked.
func Setup(service, env string, opts ...Option) *slog.Logger {
	o := options{out: os.Stdout, level: slog.LevelInfo}
	for _, opt := range opts {
		opt(&o)
	}
	out := o.out
	if o.file != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   o.file,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{
		AddSource: false,
		Level:     o.level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return redactSecrets(attr)
		},
	}
	var handler slog.Handler = slog.NewJSONHandler(out, handlerOpts)
	if o.text {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

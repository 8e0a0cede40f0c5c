package app

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"pictor/internal/config"
	"pictor/internal/pictor"
)

// logrusAdapter satisfies pictor.Logger over a configured logrus logger,
// mapping alternating key/value args onto logrus fields.
type logrusAdapter struct {
	l *logrus.Logger
}

var _ pictor.Logger = (*logrusAdapter)(nil)

func (a *logrusAdapter) Debug(msg string, args ...any) { a.l.WithFields(fields(args)).Debug(msg) }
func (a *logrusAdapter) Info(msg string, args ...any)  { a.l.WithFields(fields(args)).Info(msg) }
func (a *logrusAdapter) Warn(msg string, args ...any)  { a.l.WithFields(fields(args)).Warn(msg) }
func (a *logrusAdapter) Error(msg string, args ...any) { a.l.WithFields(fields(args)).Error(msg) }

// fields converts alternating key/value args into logrus fields. A non-string
// key is stringified and a trailing key without a value is kept visible
// rather than dropped.
func fields(args []any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		f[key] = args[i+1]
	}
	if len(args)%2 == 1 {
		f["arg"] = args[len(args)-1]
	}
	return f
}

// NewLogger builds the production logger from config: logrus at the
// configured level and format, writing to stderr and, when a file is
// configured, to a size-rotated copy of the stream. The returned closer
// releases the file writer; it is nil when logging only to stderr.
func NewLogger(cfg config.LogConfig) (pictor.Logger, io.Closer, error) {
	l := logrus.New()

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("unrecognized log level %q: %w", cfg.Level, err)
	}
	l.SetLevel(parsed)

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{})
	}

	var closer io.Closer
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		l.SetOutput(io.MultiWriter(os.Stderr, rotated))
		closer = rotated
	} else {
		l.SetOutput(os.Stderr)
	}

	return &logrusAdapter{l: l}, closer, nil
}

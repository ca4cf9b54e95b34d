package config

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

// NewLogger builds the process logger from the logging settings. Unknown
// levels fall back to info; output "stderr" writes to standard error and any
// other value to standard output.
func NewLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	logger.SetOutput(out)
	return logger
}

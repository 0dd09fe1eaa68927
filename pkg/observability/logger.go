package observability

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/dungkhmt/serp-sub000/pkg/auth"
	"github.com/dungkhmt/serp-sub000/pkg/contextkeys"
	"github.com/sirupsen/logrus"
)

// LogConfig selects level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NewLogger creates a logrus logger writing to out. Unknown levels fall back
// to info; any format other than "text" is JSON.
func NewLogger(cfg LogConfig, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}
	logger := logrus.New()
	logger.SetOutput(out)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// FromContext returns an entry carrying the request identity found in ctx.
func FromContext(ctx context.Context, logger logrus.FieldLogger) *logrus.Entry {
	entry := logger.WithFields(logrus.Fields{})
	if rc, ok := auth.FromContext(ctx); ok {
		return entry.WithFields(RequestFields(rc))
	}
	if requestID, ok := ctx.Value(contextkeys.RequestIDKey).(string); ok && requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	return entry
}

// RequestFields returns the log fields describing rc.
func RequestFields(rc auth.RequestContext) logrus.Fields {
	fields := logrus.Fields{}
	if rc.RequestID != "" {
		fields["request_id"] = rc.RequestID
	}
	if rc.OrganizationID > 0 {
		fields["organization_id"] = rc.OrganizationID
	}
	if rc.UserID > 0 {
		fields["user_id"] = rc.UserID
	}
	if rc.IsSystem {
		fields["system"] = true
	}
	return fields
}

package utils

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
)

var Log = logrus.New()

func SetLogLevel(level string) error {
	// We are not using logrus' trace and panic levels
	switch strings.ToLower(level) {
	case "debug":
		Log.SetLevel(log.DebugLevel)
	case "info":
		Log.SetLevel(log.InfoLevel)
	case "warning", "warn":
		Log.SetLevel(log.WarnLevel)
	case "error":
		Log.SetLevel(log.ErrorLevel)
	case "fatal":
		Log.SetLevel(log.FatalLevel)
	default:
		return fmt.Errorf("bad log level %q", level)
	}
	return nil
}

// HTTPLogger routes go-retryablehttp's leveled output through Log. Request
// lines are debug output; retries and give-ups are warnings.
type HTTPLogger struct {
	Logger *logrus.Logger
}

func (h HTTPLogger) entry(keysAndValues []interface{}) *logrus.Entry {
	fields := logrus.Fields{"component": "http"}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return h.Logger.WithFields(fields)
}

func (h HTTPLogger) Error(msg string, keysAndValues ...interface{}) {
	h.entry(keysAndValues).Error(msg)
}

func (h HTTPLogger) Info(msg string, keysAndValues ...interface{}) {
	h.entry(keysAndValues).Debug(msg)
}

func (h HTTPLogger) Debug(msg string, keysAndValues ...interface{}) {
	h.entry(keysAndValues).Debug(msg)
}

func (h HTTPLogger) Warn(msg string, keysAndValues ...interface{}) {
	h.entry(keysAndValues).Warn(msg)
}

package logging

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// GetLogger returns a stderr logger at the given level. format is "json" or
// "text"; an unknown level falls back to info.
func GetLogger(level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
		if level != "" {
			log.Warnf("Invalid log level '%s', defaulting to 'info'", level)
		}
	}
	log.SetLevel(lvl)

	return log
}

package logger

import (
	"fmt"
	"io"
	stdlibLog "log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otellogrus"
)

// Config Struct that holds logging configuration options.
type Config struct {
	Level        string    // Logging level (e.g., "info", "debug", "error")
	Format       string    // Logging format ("text" or "json")
	ReportCaller bool      // Whether to include the calling method/file in the logs
	Output       io.Writer // Destination of the logs, stdout when nil
}

// Configure sets up the logger according to the provided Config settings.
func Configure(c Config) (err error) {
	parsedLevel, err := log.ParseLevel(c.Level)
	if err != nil {
		return
	}
	log.SetLevel(parsedLevel)

	switch c.Format {
	case "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format '%s'", c.Format)
	}

	log.SetReportCaller(c.ReportCaller)

	if c.Output == nil {
		c.Output = os.Stdout
	}
	log.SetOutput(c.Output)

	// Forward warnings and errors to the span carried by the entry's context, if any
	log.AddHook(otellogrus.NewHook(otellogrus.WithLevels(
		log.PanicLevel,
		log.FatalLevel,
		log.ErrorLevel,
		log.WarnLevel,
	)))

	return
}

// Logr returns a logr.Logger writing into logrus at the given level, for
// libraries logging through logr (the task queue).
func Logr(prefix string, level log.Level) logr.Logger {
	return stdr.New(stdlibLog.New(log.StandardLogger().WriterLevel(level), prefix, 0))
}

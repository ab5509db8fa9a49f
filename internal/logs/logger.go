package logs

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger: глобальный логгер бота. До вызова Init пишет в stderr с уровнем info,
// поэтому пакеты можно использовать в тестах без инициализации.
var Logger = logrus.New()

// Options: параметры инициализации логгера.
type Options struct {
	Level  string // trace|debug|info|warning|error|fatal
	Format string // text|json
	File   string // префикс лог-файла; если пусто, только stdout
}

// Init настраивает глобальный логгер по переданным опциям.
func Init(opts Options) error {
	l := logrus.New()
	l.SetLevel(parseLevel(opts.Level))

	if opts.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.File != "" {
		currentTime := time.Now().Format("2006-01-02_15-04-05")
		logFileName := fmt.Sprintf("%s_%s.log", opts.File, currentTime)
		file, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", logFileName, err)
		}
		l.SetOutput(io.MultiWriter(file, os.Stdout))
	} else {
		l.SetOutput(os.Stdout)
	}

	Logger = l
	return nil
}

// Silence отключает вывод; используется в тестах.
func Silence() {
	Logger.SetOutput(io.Discard)
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warning", "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

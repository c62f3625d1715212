// Package logger — структурированное логирование на базе zerolog.
// JSON в production, цветной вывод при LOG_PRETTY=true.
// Сообщения логов пишутся на русском языке.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// log — глобальный логгер пакета.
var log zerolog.Logger

// Config — параметры инициализации логгера.
type Config struct {
	// Level: "trace", "debug", "info", "warn", "error". По умолчанию "info".
	Level string

	// Pretty включает ConsoleWriter для локальной разработки.
	Pretty bool

	// Output по умолчанию os.Stdout.
	Output io.Writer

	// Service добавляется полем "service" в каждую запись.
	Service string
}

func init() {
	Init(Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Pretty: strings.EqualFold(os.Getenv("LOG_PRETTY"), "true"),
	})
}

// Init настраивает глобальный логгер. Вызывается в main до старта компонентов.
func Init(cfg Config) {
	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	lc := zerolog.New(out).Level(level).With().Timestamp().Caller()
	if cfg.Service != "" {
		lc = lc.Str("service", cfg.Service)
	}
	log = lc.Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug — событие уровня debug.
func Debug() *zerolog.Event { return log.Debug() }

// Info — событие уровня info.
func Info() *zerolog.Event { return log.Info() }

// Warn — событие уровня warn.
func Warn() *zerolog.Event { return log.Warn() }

// Error — событие уровня error.
func Error() *zerolog.Event { return log.Error() }

// Fatal — событие уровня fatal, после Msg() процесс завершается с кодом 1.
func Fatal() *zerolog.Event { return log.Fatal() }

// With возвращает контекст для построения дочернего логгера.
//
//	sweepLog := logger.With().Str("component", "expiry_sweeper").Logger()
func With() zerolog.Context { return log.With() }

// Logger возвращает копию глобального логгера.
func Logger() zerolog.Logger { return log }

// SetGlobalLogger подменяет глобальный логгер (используется в тестах).
func SetGlobalLogger(l zerolog.Logger) { log = l }

package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New 构造进程级 logger：stderr console 输出，可选追加日志文件。
// New builds the process-level logger: console output on stderr plus an
// optional append-only log file. stdout stays reserved for command output.
func New(level string, logFile string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), err
		}
		writers = append(writers, file)
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return log, nil
}

// Quiet returns a logger that discards everything. Used by tests and by hook
// subprocess contexts where stderr belongs to the hook.
func Quiet() zerolog.Logger {
	return zerolog.Nop()
}

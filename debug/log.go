package debug

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Verbosity levels picked from the command line
const (
	LevelWarn  = 0 // default
	LevelInfo  = 1 // -v
	LevelDebug = 2 // -d
)

// Logger is the process logger plus the optional debug log file behind it
type Logger struct {
	*logrus.Logger
	file *os.File
}

// New builds the process logger writing to w. When logPath is set every
// message is also written to that file, which is truncated on start.
func New(verbosity int, w io.Writer, logPath string) (*Logger, error) {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	l.SetLevel(Level(verbosity))

	lg := &Logger{Logger: l}
	if logPath == "" {
		l.SetOutput(w)
		return lg, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	lg.file = f
	l.SetOutput(io.MultiWriter(w, f))
	l.Debug("=== debug logging started ===")
	return lg, nil
}

// Level maps a verbosity count to a logrus level
func Level(verbosity int) logrus.Level {
	switch {
	case verbosity >= LevelDebug:
		return logrus.DebugLevel
	case verbosity == LevelInfo:
		return logrus.InfoLevel
	default:
		return logrus.WarnLevel
	}
}

// Component returns a logger tagged with the component name
func (l *Logger) Component(name string) logrus.FieldLogger {
	return l.WithField("component", name)
}

// Close flushes and closes the debug log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	l.file.Sync()
	err := l.file.Close()
	l.file = nil
	return err
}

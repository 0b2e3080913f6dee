package log

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

type Fields = logrus.Fields

// Options controls logger setup. It is applied once; later calls to Setup are ignored.
type Options struct {
	Level string
	File  string
}

// Setup configures the process logger. Messages always go to stderr and, when
// File is set, to a size-rotated log file as well.
func Setup(opts Options) *logrus.Logger {
	once.Do(func() {
		logger = newLogger(opts)
	})
	return logger
}

// L returns the process logger, falling back to defaults if Setup was never called
// (e.g. in tests).
func L() *logrus.Logger {
	return Setup(Options{Level: "warn"})
}

func newLogger(opts Options) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	l.SetFormatter(&formatter.Formatter{
		NoColors:        false,
		TimestampFormat: "02 Jan 06 - 15:04:05",
		HideKeys:        false,
		FieldsOrder:     []string{"caller"},
	})

	writers := []io.Writer{os.Stderr}
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    50,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))
	return l
}

// entry attaches fields and, at debug level, the call site skip frames above it.
// logrus' own caller reporting would always name the wrappers below.
func entry(l *logrus.Logger, fields Fields, skip int) *logrus.Entry {
	if !l.IsLevelEnabled(logrus.DebugLevel) {
		return l.WithFields(fields)
	}
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return l.WithFields(fields)
	}
	caller := fmt.Sprintf("%s:%d", path.Base(file), line)
	if fn := runtime.FuncForPC(pc); fn != nil {
		s := strings.Split(fn.Name(), ".")
		caller += " " + s[len(s)-1] + "()"
	}
	return l.WithFields(fields).WithField("caller", caller)
}

func Debug(fields Fields, msg string) {
	entry(L(), fields, 1).Debug(msg)
}

func Info(fields Fields, msg string) {
	entry(L(), fields, 1).Info(msg)
}

func Warn(fields Fields, msg string) {
	entry(L(), fields, 1).Warn(msg)
}

func Error(fields Fields, msg string) {
	entry(L(), fields, 1).Error(msg)
}

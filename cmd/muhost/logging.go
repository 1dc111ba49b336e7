package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the process logger. Console output goes to stderr in a
// human format when stderr is a terminal (or format is "console"), JSON
// otherwise. With file set, every line is also written to a rotating file.
func newLogger(level, format, file string) (zerolog.Logger, func(), error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.Nop(), func() {}, fmt.Errorf("invalid log level %q", level)
	}

	var console io.Writer = os.Stderr
	switch format {
	case "json":
	case "console":
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	case "auto", "":
		if isTerminal(os.Stderr) {
			console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		}
	default:
		return zerolog.Nop(), func() {}, fmt.Errorf("invalid log format %q", format)
	}

	w := console
	closeFn := func() {}
	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    20, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		w = zerolog.MultiLevelWriter(console, rotator)
		closeFn = func() { _ = rotator.Close() }
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), closeFn, nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes one rotating log file. Rotation parameters follow
// lumberjack semantics.
type FileConfig struct {
	Path       string `json:"path" mapstructure:"path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Config covers the daemon's own log and the mirrored server console.
// When Dir is set and a path is empty, Dir/<name>.log is used.
type Config struct {
	Level   string     `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format  string     `json:"format" mapstructure:"format"` // text (colored) or json
	Dir     string     `json:"dir" mapstructure:"dir"`
	Daemon  FileConfig `json:"daemon" mapstructure:"daemon"`
	Console FileConfig `json:"console" mapstructure:"console"`
}

// Writer returns a rotating writer for fc, or nil when no path resolves.
func (c Config) Writer(fc FileConfig, name string) io.WriteCloser {
	path := fc.Path
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, fmt.Sprintf("%s.log", name))
	}
	if path == "" {
		return nil
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o750)
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(fc.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(fc.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(fc.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   fc.Compress,
	}
}

// ConsoleWriter is where raw server output is mirrored. It may be nil.
func (c Config) ConsoleWriter() io.WriteCloser { return c.Writer(c.Console, "console") }

// Setup builds the daemon logger, installs it as the slog default and returns
// it with a closer for the optional log file.
func Setup(c Config, stderr io.Writer) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	var closer io.Closer = nopCloser{}
	var h slog.Handler
	if strings.EqualFold(c.Format, "json") {
		w := stderr
		if fw := c.Writer(c.Daemon, "hylord"); fw != nil {
			w = io.MultiWriter(stderr, fw)
			closer = fw
		}
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = NewColorTextHandler(stderr, opts, true)
		if fw := c.Writer(c.Daemon, "hylord"); fw != nil {
			h = fanout{h, slog.NewTextHandler(fw, opts)}
			closer = fw
		}
	}
	l := slog.New(h)
	slog.SetDefault(l)
	return l, closer
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

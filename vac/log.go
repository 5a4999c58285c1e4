package vac

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Request fields longer than this are elided from the log file. Stdin
// payloads and file contents would otherwise swamp it.
const maxLogElement = 150

// LogPath returns the client log file location under the configuration
// directory dir. The same file is what SendLogToSupport uploads.
func LogPath(dir string) string {
	return filepath.Join(dir, "log", "multyvac.log")
}

// newFileLogger builds the client logger writing under dir. Logging is
// best effort: when the file cannot be set up the client runs with a
// nop logger rather than failing.
func newFileLogger(dir string) *zap.Logger {
	path := LogPath(dir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zap.NewNop()
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding:         "console",
		OutputPaths:      []string{path},
		ErrorOutputPaths: []string{path},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:  "msg",
			LevelKey:    "level",
			TimeKey:     "time",
			EncodeLevel: zapcore.CapitalLevelEncoder,
			EncodeTime:  zapcore.ISO8601TimeEncoder,
		},
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log.Named("multyvac")
}

func elide(s string) string {
	if len(s) > maxLogElement {
		return fmt.Sprintf("Too large to log: %d bytes", len(s))
	}
	return s
}

func elideValues(vals url.Values) []string {
	if len(vals) == 0 {
		return nil
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(vals))
	for _, k := range keys {
		for _, v := range vals[k] {
			out = append(out, k+"="+elide(v))
		}
	}
	return out
}

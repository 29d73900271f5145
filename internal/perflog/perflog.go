// Package perflog writes per-request timing events as JSON lines into a
// rotating file and reads the newest lines back.
package perflog

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultTailLines is used when the caller asks for no specific count.
	DefaultTailLines = 100
	maxTailLines     = 1000
	maxTailBytes     = 256 * 1024
)

// Logger appends events to the perf log. A disabled Logger drops everything.
type Logger struct {
	enabled bool
	path    string
	zl      *zap.Logger
	rotator *lumberjack.Logger
}

func utcTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339Nano))
}

// New opens a perf log at path. Rotation keeps five 10 MB files.
func New(path string, enabled bool) *Logger {
	l := &Logger{enabled: enabled && path != "", path: path}
	if !l.enabled {
		return l
	}

	l.rotator = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // Megabytes
		MaxBackups: 5,
		MaxAge:     30, // Days
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     utcTime,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(l.rotator),
		zap.InfoLevel,
	)
	l.zl = zap.New(core)
	return l
}

// Nop returns a disabled Logger.
func Nop() *Logger { return &Logger{} }

// Enabled reports whether events are written.
func (l *Logger) Enabled() bool { return l != nil && l.enabled }

// Path returns the log file path.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes one event. Fields are written in key order.
func (l *Logger) Append(event string, fields map[string]any) bool {
	if !l.Enabled() {
		return false
	}
	event = strings.TrimSpace(event)
	if event == "" {
		event = "event"
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "ts" || k == "event" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	zf := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	l.zl.Info(event, zf...)
	return true
}

// Close flushes and closes the current file.
func (l *Logger) Close() error {
	if !l.Enabled() {
		return nil
	}
	l.zl.Sync()
	return l.rotator.Close()
}

// Tail returns up to n newest non-empty lines, reading at most 256 KiB
// from the end of the file. n is clamped to 1..1000; n <= 0 returns nothing.
func (l *Logger) Tail(n int) ([]string, error) {
	if l == nil || l.path == "" || n <= 0 {
		return nil, nil
	}
	n = min(n, maxTailLines)

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	readSize := min(size, maxTailBytes)
	if _, err := f.Seek(-readSize, io.SeekEnd); err != nil {
		return nil, err
	}
	data := make([]byte, readSize)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	// A cut-off first line is not valid JSON.
	if readSize < size {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		}
	}

	var out []string
	for _, line := range strings.Split(strings.ToValidUTF8(string(data), "�"), "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, strings.TrimRight(line, "\r"))
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

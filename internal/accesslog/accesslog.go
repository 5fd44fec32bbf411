// Package accesslog writes one structured log line per finished request,
// the way the teacher's httpserver access-log middleware does, rotated
// by github.com/DeRuina/timberjack instead of left to grow unbounded.
package accesslog

import (
	"os"
	"time"

	"github.com/DeRuina/timberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/webserv/webserv/internal/httpmsg"
)

// Logger emits one zap entry per completed response.
type Logger struct {
	zl *zap.Logger
}

// Options configures the rotated access-log sink.
type Options struct {
	Path       string // file path; empty disables rotation and logs to stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultOptions mirrors the teacher's default log-rotation policy.
func DefaultOptions(path string) Options {
	return Options{Path: path, MaxSizeMB: 100, MaxBackups: 10, MaxAgeDays: 28}
}

// New builds a Logger writing JSON lines through a timberjack rotating
// writer, the same WriteSyncer role the teacher's caddy log sinks fill.
func New(opts Options) (*Logger, error) {
	var ws zapcore.WriteSyncer
	if opts.Path == "" {
		ws = zapcore.Lock(zapcore.AddSync(os.Stdout))
	} else {
		ws = zapcore.AddSync(&timberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		})
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), ws, zapcore.InfoLevel)

	return &Logger{zl: zap.New(core)}, nil
}

// Log records one request/response pair. req may be nil (e.g. a 413
// rejected from its declared Content-Length before a Request was parsed).
func (l *Logger) Log(req *httpmsg.Request, statusCode int, bodyBytes int) {
	fields := []zap.Field{
		zap.Int("status", statusCode),
		zap.Int("bytes", bodyBytes),
		zap.Time("at", time.Now()),
	}
	if req != nil {
		fields = append(fields, zap.String("method", req.Method), zap.String("uri", req.URI))
	}
	l.zl.Info("request", fields...)
}

// Sync flushes buffered log entries; callers should defer this at
// shutdown.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

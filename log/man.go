package log

import (
	"context"
	"io"
)

type Logger interface {
	// Printf writes to standard output at every level
	Printf(string, ...any)

	Errorf(string, ...any)
	Infof(string, ...any)
	Debugf(string, ...any)

	SetLogLevel(Level)
	SetLogOutput(io.Writer)

	IsQuiet() bool
	IsNormal() bool
	IsVerbose() bool
	IsTrace() bool
}

type LogManager interface {
	GetLogger(ctx context.Context) Logger
}

// default
var manager LogManager = newLogManager()

// set custom manager
func SetLogManager(m LogManager) {
	manager = m
}

type defaultLogManager struct {
	logger Logger
}

func newLogManager() *defaultLogManager {
	return &defaultLogManager{
		logger: New(),
	}
}

func (r *defaultLogManager) GetLogger(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
			return l
		}
	}
	return r.logger
}

type loggerKey struct{}

// WithLogger attaches l to ctx; GetLogger(ctx) returns it in preference to the default.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func GetLogger(ctx context.Context) Logger {
	return manager.GetLogger(ctx)
}

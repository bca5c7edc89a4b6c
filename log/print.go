package log

import (
	"fmt"
	"io"
	"os"
	"sync"
)

type Level int

const (
	Quiet Level = iota
	Normal
	Verbose
	Tracing
)

func (r Level) String() string {
	switch r {
	case Quiet:
		return "quiet"
	case Normal:
		return "normal"
	case Verbose:
		return "verbose"
	case Tracing:
		return "tracing"
	}
	return ""
}

type defaultLogger struct {
	mu       sync.Mutex
	logLevel Level

	printLogger Printer
	debugLogger Printer
	infoLogger  Printer
	errLogger   Printer
}

// New returns a logger printing to stdout (Printf) and stderr (everything else).
func New() Logger {
	return newLogger(os.Stdout, os.Stderr)
}

func newLogger(stdout, stderr io.Writer) *defaultLogger {
	logger := &defaultLogger{
		printLogger: NewPrinter(stdout, false),
		debugLogger: NewPrinter(stderr, false),
		infoLogger:  NewPrinter(stderr, false),
		errLogger:   NewPrinter(stderr, false),
	}
	logger.SetLogLevel(Normal)
	return logger
}

func (r *defaultLogger) Printf(format string, a ...any) {
	r.printLogger.Printf(format, a...)
}

func (r *defaultLogger) Errorf(format string, a ...any) {
	r.errLogger.Printf(format, a...)
}

func (r *defaultLogger) Infof(format string, a ...any) {
	r.infoLogger.Printf(format, a...)
}

func (r *defaultLogger) Debugf(format string, a ...any) {
	r.debugLogger.Printf(format, a...)
}

func (r *defaultLogger) level() Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logLevel
}

func (r *defaultLogger) IsQuiet() bool {
	return r.level() == Quiet
}

func (r *defaultLogger) IsNormal() bool {
	return r.level() == Normal
}

func (r *defaultLogger) IsVerbose() bool {
	l := r.level()
	return l == Verbose || l == Tracing
}

func (r *defaultLogger) IsTrace() bool {
	return r.level() == Tracing
}

func (r *defaultLogger) SetLogLevel(level Level) {
	r.mu.Lock()
	r.logLevel = level
	r.mu.Unlock()

	// stdout
	r.printLogger.SetEnabled(true)

	// stderr
	switch level {
	case Quiet:
		r.debugLogger.SetEnabled(false)
		r.infoLogger.SetEnabled(false)
		r.errLogger.SetEnabled(false)
	case Normal:
		r.debugLogger.SetEnabled(false)
		r.infoLogger.SetEnabled(true)
		r.errLogger.SetEnabled(true)
	case Verbose, Tracing:
		r.debugLogger.SetEnabled(true)
		r.infoLogger.SetEnabled(true)
		r.errLogger.SetEnabled(true)
	}
}

// SetLogOutput tees every printer into w regardless of level. nil disables the tee.
func (r *defaultLogger) SetLogOutput(w io.Writer) {
	r.printLogger.SetLogger(w)
	r.debugLogger.SetLogger(w)
	r.infoLogger.SetLogger(w)
	r.errLogger.SetLogger(w)
}

type Printer interface {
	Printf(string, ...any)

	SetEnabled(bool)
	IsEnabled() bool

	SetLogger(io.Writer)
}

func NewPrinter(w io.Writer, enabled bool) Printer {
	return &printer{
		out: w,
		on:  enabled,
	}
}

type printer struct {
	mu sync.Mutex

	out io.Writer
	on  bool

	logger io.Writer
}

func (r *printer) SetEnabled(b bool) {
	r.mu.Lock()
	r.on = b
	r.mu.Unlock()
}

func (r *printer) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

func (r *printer) Printf(format string, a ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.on {
		fmt.Fprintf(r.out, format, a...)
	}
	if r.logger != nil {
		fmt.Fprintf(r.logger, format, a...)
	}
}

func (r *printer) SetLogger(w io.Writer) {
	r.mu.Lock()
	r.logger = w
	r.mu.Unlock()
}

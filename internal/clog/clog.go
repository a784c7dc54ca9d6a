// Package clog is the internal debugging-log facade used throughout the
// protocol layer: Critical/Error/Warn/Debug over a swappable LogProvider,
// gated by an atomic enable flag, with the default provider backed by
// github.com/rs/zerolog.
package clog

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// LogProvider is the pluggable sink. Implementations beyond the zerolog
// default can be supplied via SetLogProvider (e.g. for tests).
type LogProvider interface {
	Critical(format string, v ...interface{})
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

// jsonOutput switches every subsequent NewLogger call from the
// human-readable console writer to raw JSON lines. Set once at startup via
// ConfigureGlobal, before any component calls NewLogger.
var jsonOutput uint32

// ConfigureGlobal sets the process-wide minimum log level and output
// format from the startup configuration. It must be called before any
// package constructs its own Clog, since the component loggers it hands
// out read this state once, at construction.
func ConfigureGlobal(level zerolog.Level, json bool) {
	zerolog.SetGlobalLevel(level)
	if json {
		atomic.StoreUint32(&jsonOutput, 1)
	} else {
		atomic.StoreUint32(&jsonOutput, 0)
	}
}

func rootLogger(component string) zerolog.Logger {
	var w zerolog.Logger
	if atomic.LoadUint32(&jsonOutput) == 1 {
		w = zerolog.New(os.Stdout)
	} else {
		w = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"})
	}
	return w.With().Timestamp().Str("component", component).Logger()
}

// Clog is the per-component logger handle: a provider plus an atomic
// enable flag, cheap to embed by value in every protocol
// server/connection type.
type Clog struct {
	provider LogProvider
	has      uint32
}

// NewLogger returns a Clog with the given zerolog-backed prefix/component
// name, logging enabled by default.
func NewLogger(component string) Clog {
	c := Clog{provider: zerologProvider{rootLogger(component)}}
	atomic.StoreUint32(&c.has, 1)
	return c
}

// NewLoggerWith wraps an existing zerolog.Logger (e.g. one configured with
// a JSON sink at startup) into a Clog for one component.
func NewLoggerWith(base zerolog.Logger, component string) Clog {
	c := Clog{provider: zerologProvider{base.With().Str("component", component).Logger()}}
	atomic.StoreUint32(&c.has, 1)
	return c
}

// LogMode enables or disables log output.
func (sf *Clog) LogMode(enable bool) {
	if enable {
		atomic.StoreUint32(&sf.has, 1)
	} else {
		atomic.StoreUint32(&sf.has, 0)
	}
}

// SetLogProvider swaps the sink (e.g. for tests that want to assert on
// emitted messages).
func (sf *Clog) SetLogProvider(p LogProvider) {
	if p != nil {
		sf.provider = p
	}
}

func (sf Clog) Critical(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Critical(format, v...)
	}
}

func (sf Clog) Error(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Error(format, v...)
	}
}

func (sf Clog) Warn(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Warn(format, v...)
	}
}

func (sf Clog) Debug(format string, v ...interface{}) {
	if atomic.LoadUint32(&sf.has) == 1 {
		sf.provider.Debug(format, v...)
	}
}

// zerologProvider adapts a zerolog.Logger to LogProvider.
type zerologProvider struct {
	log zerolog.Logger
}

var _ LogProvider = zerologProvider{}

func (p zerologProvider) Critical(format string, v ...interface{}) {
	p.log.Error().Msgf("[CRITICAL] "+format, v...)
}

func (p zerologProvider) Error(format string, v ...interface{}) {
	p.log.Error().Msgf(format, v...)
}

func (p zerologProvider) Warn(format string, v ...interface{}) {
	p.log.Warn().Msgf(format, v...)
}

func (p zerologProvider) Debug(format string, v ...interface{}) {
	p.log.Debug().Msgf(format, v...)
}

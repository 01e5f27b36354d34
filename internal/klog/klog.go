// Package klog provides the structured logging used across every layer of
// the kernel substrate, and the single fatal-abort path the error handling
// design calls for: a component-tagged panic that a per-CPU worker loop can
// recover from without taking the rest of the process down.
package klog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger tagged with the component name that panics
// and error logs should carry (vmm, palloc, tlsf, eevdf, parking_lot, ...).
type Logger struct {
	component string
	z         zerolog.Logger
}

// New returns a Logger writing to w (os.Stderr if w is nil) tagged with
// component. Never a package-level global: each subsystem is handed its own
// Logger at construction time.
func New(component string, w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	z := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return Logger{component: component, z: z}
}

func (l Logger) Component() string { return l.component }

func (l Logger) Debug() *zerolog.Event { return l.z.Debug() }
func (l Logger) Info() *zerolog.Event  { return l.z.Info() }
func (l Logger) Warn() *zerolog.Event  { return l.z.Warn() }
func (l Logger) Error() *zerolog.Event { return l.z.Error() }

// FatalError is the payload carried by a panic raised through Panic. Callers
// that recover (internal/smp's per-CPU worker loop) use this to log a final
// line identifying which subsystem halted before letting the goroutine exit.
type FatalError struct {
	Component string
	Message   string
}

func (e *FatalError) Error() string { return e.Component + ": " + e.Message }

// Panic logs msg at PanicLevel tagged with the receiver's component and the
// given fields, then panics with a *FatalError. This is the one way a
// precondition violation, hardware-absence, or corruption abort (error
// handling design, "Fatal abort" class) surfaces in this codebase: it never
// returns.
func (l Logger) Panic(msg string, fields map[string]any) {
	ev := l.z.WithLevel(zerolog.PanicLevel)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
	panic(&FatalError{Component: l.component, Message: msg})
}

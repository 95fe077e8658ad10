// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"fmt"
	"io"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only the model summary after init and the final solution
	LogLast LogLevel = 0
	// LogEval print also one line per callback invocation
	LogEval LogLevel = 1
	// LogTrace print also the sparsity of every row and the growth of the hessian position map
	LogTrace LogLevel = 99
	// LogVerbose print also the n-vectors passed to callbacks and per-row values
	LogVerbose LogLevel = 101
)

// Logger handles logging output for the model.
// Note the writers must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
	Out   io.Writer // Writer for output data.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

func (l *Logger) out(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Out, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Out, format)
	}
}

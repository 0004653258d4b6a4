// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package linemsg implements the line-oriented diagnostic messenger of the
// allocator analysis: leveled messages anchored at source positions, framed
// per analyzed function, with an optional filter that suppresses repeated
// identical lines within one function.
package linemsg

import (
	"fmt"
	"go/token"

	"github.com/brodieG/rchk/analysis/config"
	"golang.org/x/tools/go/ssa"
)

// Messenger emits analysis diagnostics through a LogGroup. Not safe for
// concurrent use; one Messenger serves one analysis pass.
type Messenger struct {
	logs   *config.LogGroup
	fset   *token.FileSet
	unique bool
	seen   map[string]bool

	// ErrorCount counts the error-level messages emitted, after filtering.
	ErrorCount int
}

// New returns a messenger writing through logs. Positions are resolved
// against fset; unique enables the per-function duplicate filter.
func New(logs *config.LogGroup, fset *token.FileSet, unique bool) *Messenger {
	return &Messenger{
		logs:   logs,
		fset:   fset,
		unique: unique,
		seen:   make(map[string]bool),
	}
}

// NewFunction starts a new per-function frame: the duplicate filter is reset
// and the function header is printed at debug level.
func (m *Messenger) NewFunction(fn *ssa.Function, header string) {
	m.seen = make(map[string]bool)
	m.logs.Debugf("function %s%s", fn.RelString(nil), header)
}

// Debugging returns true when debug-level messages are being emitted, so
// callers can avoid building expensive messages.
func (m *Messenger) Debugging() bool {
	return m.logs.Level() >= config.DebugLevel
}

// Trace emits a trace-level message anchored at pos.
func (m *Messenger) Trace(msg string, pos token.Pos) {
	if m.logs.Level() < config.TraceLevel {
		return
	}
	if line := m.line(msg, pos); line != "" {
		m.logs.Tracef("%s", line)
	}
}

// Debug emits a debug-level message anchored at pos.
func (m *Messenger) Debug(msg string, pos token.Pos) {
	if m.logs.Level() < config.DebugLevel {
		return
	}
	if line := m.line(msg, pos); line != "" {
		m.logs.Debugf("%s", line)
	}
}

// Info emits an info-level message anchored at pos.
func (m *Messenger) Info(msg string, pos token.Pos) {
	if line := m.line(msg, pos); line != "" {
		m.logs.Infof("%s", line)
	}
}

// Error emits an error-level message anchored at pos.
func (m *Messenger) Error(msg string, pos token.Pos) {
	line := m.line(msg, pos)
	if line == "" {
		return
	}
	m.ErrorCount++
	m.logs.Errorf("%s", line)
}

// line renders the message with its position and applies the duplicate
// filter. An empty return means the message was filtered out.
func (m *Messenger) line(msg string, pos token.Pos) string {
	rendered := msg
	if pos.IsValid() && m.fset != nil {
		p := m.fset.Position(pos)
		rendered = fmt.Sprintf("%s %s:%d", msg, p.Filename, p.Line)
	}
	if m.unique {
		if m.seen[rendered] {
			return ""
		}
		m.seen[rendered] = true
	}
	return rendered
}

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

package callocators

import (
	"fmt"
	"io"
	"strings"

	"github.com/brodieG/rchk/analysis/linemsg"
)

// Summary is the analysis result of one (function, context): the allocators
// called on some path to a return, and the allocators whose fresh result may
// be the returned value. Partial marks a summary cut short by the state cap.
type Summary struct {
	Called  []*CalledFunction
	Wrapped []*CalledFunction
	States  int
	Partial bool
}

// GetCalledAllocators drives the engine over every interned CalledFunction
// with a body and returns the per-handle summaries. Handles without a body
// are skipped silently. Deterministic: the registry is visited in interning
// order and summaries hold deterministically ordered slices.
func GetCalledAllocators(cm *CalledModule, msg *linemsg.Messenger) map[*CalledFunction]*Summary {
	summaries := make(map[*CalledFunction]*Summary)
	for _, cf := range cm.CalledFunctions() {
		if cf.Fn == nil || len(cf.Fn.Blocks) == 0 {
			continue
		}
		if only := cm.cfg.OnlyFunction; only != "" && cf.Fn.Name() != only {
			continue
		}
		called, wrapped, states, aborted := getCalledAndWrappedFunctions(cf, msg)
		summaries[cf] = &Summary{
			Called:  sortedCalled(called),
			Wrapped: sortedCalled(wrapped),
			States:  states,
			Partial: aborted,
		}
	}
	return summaries
}

// report colors, enabled only when writing to a terminal
const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
)

// WriteReports prints the "Detected (possible allocators)" report for every
// summarized function with a non-empty result, in interning order.
func WriteReports(w io.Writer, cm *CalledModule, summaries map[*CalledFunction]*Summary, colored bool) {
	pkgFilter := cm.cfg.PkgFilter
	for _, cf := range cm.CalledFunctions() {
		summary, ok := summaries[cf]
		if !ok {
			continue
		}
		if pkgFilter != "" && cf.Fn.Pkg != nil &&
			!strings.HasPrefix(cf.Fn.Pkg.Pkg.Path(), pkgFilter) {
			continue
		}
		writeSet(w, "called by", cf, summary.Called, colored)
		writeSet(w, "wrapped by", cf, summary.Wrapped, colored)
		if summary.Partial {
			fmt.Fprintf(w, "\n(partial result for function %s)\n", cf.Name())
		}
	}
}

func writeSet(w io.Writer, rel string, cf *CalledFunction, set []*CalledFunction, colored bool) {
	if len(set) == 0 {
		return
	}
	name := cf.Name()
	if colored {
		name = colorBold + name + colorReset
	}
	fmt.Fprintf(w, "\nDetected (possible allocators) %s function %s:\n", rel, name)
	for _, called := range set {
		fmt.Fprintf(w, "   %s\n", called.Name())
	}
}

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
	"bytes"
	"path"
	"runtime"
	"strings"
	"testing"

	"github.com/brodieG/rchk/analysis/config"
	"github.com/brodieG/rchk/analysis/linemsg"
	"github.com/brodieG/rchk/analysis/runtimefacts"
	"github.com/brodieG/rchk/internal/analysistest"
	"github.com/brodieG/rchk/internal/funcutil"
)

// loadTestModule loads the named testdata program and builds the registry
// for it. All log output is captured in the returned buffer.
func loadTestModule(t *testing.T, name string) (*CalledModule, *linemsg.Messenger, *bytes.Buffer) {
	_, filename, _, _ := runtime.Caller(0)
	dir := path.Join(path.Dir(filename), "testdata", name)
	program, cfg := analysistest.LoadTest(t, dir, nil)

	logs := config.NewLogGroup(cfg)
	var buf bytes.Buffer
	logs.SetAllOutput(&buf)

	facts, err := runtimefacts.Compute(program, cfg, logs)
	if err != nil {
		t.Fatalf("error computing runtime facts: %s", err)
	}
	cm := NewCalledModule(facts)
	msg := linemsg.New(logs, program.Fset, cfg.UniqueMsgs)
	return cm, msg, &buf
}

func findHandle(t *testing.T, cm *CalledModule, name string) *CalledFunction {
	for _, cf := range cm.CalledFunctions() {
		if cf.Name() == name {
			return cf
		}
	}
	t.Fatalf("no called function named %q in the registry", name)
	return nil
}

func names(set []*CalledFunction) []string {
	return funcutil.Map(set, func(cf *CalledFunction) string { return cf.Name() })
}

func assertNames(t *testing.T, what string, got []*CalledFunction, want ...string) {
	t.Helper()
	gotNames := names(got)
	if len(gotNames) != len(want) {
		t.Fatalf("%s: got %v, want %v", what, gotNames, want)
	}
	for i, name := range want {
		if gotNames[i] != name {
			t.Fatalf("%s: got %v, want %v", what, gotNames, want)
		}
	}
}

func assertContains(t *testing.T, what string, got []*CalledFunction, want string) {
	t.Helper()
	if !funcutil.Contains(names(got), want) {
		t.Fatalf("%s: %v does not contain %q", what, names(got), want)
	}
}

func TestDirectAllocatorCall(t *testing.T) {
	cm, msg, _ := loadTestModule(t, "basic")
	summaries := GetCalledAllocators(cm, msg)

	summary := summaries[findHandle(t, cm, "mkVector")]
	assertNames(t, "mkVector called", summary.Called, "allocVector")
	assertNames(t, "mkVector wrapped", summary.Wrapped, "allocVector")
}

func TestOriginPropagationThroughCopy(t *testing.T) {
	cm, msg, _ := loadTestModule(t, "basic")
	summaries := GetCalledAllocators(cm, msg)

	summary := summaries[findHandle(t, cm, "mkAlias")]
	assertNames(t, "mkAlias called", summary.Called, "allocVector")
	assertNames(t, "mkAlias wrapped", summary.Wrapped, "allocVector")
}

func TestImmediateAllocatorReturn(t *testing.T) {
	cm, msg, _ := loadTestModule(t, "basic")
	summaries := GetCalledAllocators(cm, msg)

	summary := summaries[findHandle(t, cm, "mkDirect")]
	assertNames(t, "mkDirect called", summary.Called, "allocList")
	assertNames(t, "mkDirect wrapped", summary.Wrapped, "allocList")
}

func TestGCWrappingHeuristic(t *testing.T) {
	cm, msg, _ := loadTestModule(t, "basic")
	summaries := GetCalledAllocators(cm, msg)

	summary := summaries[findHandle(t, cm, "protect")]
	assertContains(t, "protect called", summary.Called, "gc")
	assertNames(t, "protect wrapped", summary.Wrapped, "gc")
}

func TestGuardedBranch(t *testing.T) {
	cm, msg, _ := loadTestModule(t, "basic")
	summaries := GetCalledAllocators(cm, msg)

	summary := summaries[findHandle(t, cm, "mkEither")]
	assertContains(t, "mkEither called", summary.Called, "allocVector")
	assertContains(t, "mkEither called", summary.Called, "allocList")
	assertContains(t, "mkEither wrapped", summary.Wrapped, "allocVector")
	assertContains(t, "mkEither wrapped", summary.Wrapped, "allocList")
}

func TestErrorPathNotExplored(t *testing.T) {
	cm, msg, _ := loadTestModule(t, "basic")
	summaries := GetCalledAllocators(cm, msg)

	summary := summaries[findHandle(t, cm, "checked")]
	assertNames(t, "checked called", summary.Called, "allocVector")
	assertNames(t, "checked wrapped", summary.Wrapped, "allocVector")
}

func TestEmptyBodyYieldsNothing(t *testing.T) {
	cm, msg, _ := loadTestModule(t, "basic")
	summaries := GetCalledAllocators(cm, msg)

	external := findHandle(t, cm, "external")
	if _, ok := summaries[external]; ok {
		t.Fatalf("declared-but-undefined function should not be summarized")
	}
	if msg.ErrorCount != 0 {
		t.Fatalf("expected no error diagnostics, got %d", msg.ErrorCount)
	}
}

func TestContextSpecialization(t *testing.T) {
	cm, msg, _ := loadTestModule(t, "basic")
	// the no-context handle must exist before the registry is iterated
	noContext := cm.CalledFunction(findHandle(t, cm, "getAttrib(?,S:dim)").Fn)
	summaries := GetCalledAllocators(cm, msg)

	// under S:dim the failing branch of the symbol comparison is infeasible,
	// so the allocator is never reached
	dim := summaries[findHandle(t, cm, "getAttrib(?,S:dim)")]
	assertNames(t, "getAttrib(?,S:dim) called", dim.Called)
	assertNames(t, "getAttrib(?,S:dim) wrapped", dim.Wrapped)

	class := summaries[findHandle(t, cm, "getAttrib(?,S:class)")]
	assertNames(t, "getAttrib(?,S:class) called", class.Called, "allocVector")
	assertNames(t, "getAttrib(?,S:class) wrapped", class.Wrapped, "allocVector")

	// a stricter context yields a subset of the no-context result
	base := summaries[noContext]
	for _, specialized := range []*Summary{dim, class} {
		for _, name := range names(specialized.Called) {
			if !funcutil.Contains(names(base.Called), name) {
				t.Fatalf("specialized called %q not in no-context result %v", name, names(base.Called))
			}
		}
		for _, name := range names(specialized.Wrapped) {
			if !funcutil.Contains(names(base.Wrapped), name) {
				t.Fatalf("specialized wrapped %q not in no-context result %v", name, names(base.Wrapped))
			}
		}
	}
}

func TestIdempotence(t *testing.T) {
	cm, msg, _ := loadTestModule(t, "basic")
	first := GetCalledAllocators(cm, msg)
	second := GetCalledAllocators(cm, msg)

	if len(first) != len(second) {
		t.Fatalf("summary count changed between runs: %d vs %d", len(first), len(second))
	}
	for cf, summary := range first {
		again, ok := second[cf]
		if !ok {
			t.Fatalf("function %s missing from second run", cf.Name())
		}
		if strings.Join(names(summary.Called), ",") != strings.Join(names(again.Called), ",") ||
			strings.Join(names(summary.Wrapped), ",") != strings.Join(names(again.Wrapped), ",") {
			t.Fatalf("summaries for %s differ between runs", cf.Name())
		}
	}
}

func TestMaxStatesAbortsWithPartialResult(t *testing.T) {
	cm, msg, buf := loadTestModule(t, "maxstates")
	summaries := GetCalledAllocators(cm, msg)

	if msg.ErrorCount != 1 {
		t.Fatalf("expected exactly one error diagnostic, got %d", msg.ErrorCount)
	}
	if n := strings.Count(buf.String(), "too many states (abstraction error?)"); n != 1 {
		t.Fatalf("expected one state-cap message, got %d", n)
	}
	summary := summaries[findHandle(t, cm, "explode")]
	if !summary.Partial {
		t.Fatalf("explode should carry a partial result")
	}
	if summary.States <= cm.Config().MaxStates {
		t.Fatalf("explode should have hit the cap, explored %d states", summary.States)
	}
}

func TestWriteReports(t *testing.T) {
	cm, msg, _ := loadTestModule(t, "basic")
	summaries := GetCalledAllocators(cm, msg)

	var out bytes.Buffer
	WriteReports(&out, cm, summaries, false)
	report := out.String()
	if !strings.Contains(report, "Detected (possible allocators) called by function mkVector:") {
		t.Fatalf("missing called report for mkVector:\n%s", report)
	}
	if !strings.Contains(report, "Detected (possible allocators) wrapped by function mkVector:") {
		t.Fatalf("missing wrapped report for mkVector:\n%s", report)
	}
	if !strings.Contains(report, "   allocVector\n") {
		t.Fatalf("missing allocVector entry:\n%s", report)
	}
}

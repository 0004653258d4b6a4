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

package runtimefacts_test

import (
	"path"
	"runtime"
	"testing"

	"github.com/brodieG/rchk/analysis/config"
	"github.com/brodieG/rchk/analysis/runtimefacts"
	"github.com/brodieG/rchk/internal/analysistest"
	"golang.org/x/tools/go/ssa"
)

func loadBasicFacts(t *testing.T) *runtimefacts.Facts {
	_, filename, _, _ := runtime.Caller(0)
	dir := path.Join(path.Dir(filename), "../callocators/testdata/basic")
	program, cfg := analysistest.LoadTest(t, dir, nil)
	logs := config.NewLogGroup(cfg)
	facts, err := runtimefacts.Compute(program, cfg, logs)
	if err != nil {
		t.Fatalf("error computing runtime facts: %s", err)
	}
	return facts
}

func fnByName(t *testing.T, facts *runtimefacts.Facts, name string) *ssa.Function {
	for _, fn := range runtimefacts.SortedFunctions(facts.Prog) {
		if fn.Name() == name && fn.Parent() == nil {
			return fn
		}
	}
	t.Fatalf("no function named %q", name)
	return nil
}

func TestAllocatorClassification(t *testing.T) {
	facts := loadBasicFacts(t)

	gc := fnByName(t, facts, "gc")
	allocVector := fnByName(t, facts, "allocVector")
	mkVector := fnByName(t, facts, "mkVector")
	install := fnByName(t, facts, "install")

	if facts.GC != gc {
		t.Fatalf("gc-function resolved to %v", facts.GC)
	}
	for _, fn := range []*ssa.Function{gc, allocVector, mkVector} {
		if !facts.Allocating[fn] {
			t.Errorf("%s should be allocating", fn.Name())
		}
	}
	if facts.Allocating[install] {
		t.Errorf("install does not reach the collector and should not be allocating")
	}
	if facts.PossibleAllocators[gc] {
		t.Errorf("gc returns no managed value and is not a possible allocator")
	}
	for _, fn := range []*ssa.Function{allocVector, mkVector} {
		if !facts.PossibleAllocators[fn] {
			t.Errorf("%s should be a possible allocator", fn.Name())
		}
	}
}

func TestManagedTypePredicates(t *testing.T) {
	facts := loadBasicFacts(t)

	mkVector := fnByName(t, facts, "mkVector")
	if !facts.ReturnsManagedValue(mkVector) {
		t.Errorf("mkVector returns a managed value")
	}
	if facts.ReturnsManagedValue(fnByName(t, facts, "gc")) {
		t.Errorf("gc does not return a managed value")
	}
	if !facts.IsManagedType(mkVector.Signature.Results().At(0).Type()) {
		t.Errorf("*value should be a managed type")
	}
}

func TestErrorFunctions(t *testing.T) {
	facts := loadBasicFacts(t)

	if !facts.ErrorFns[fnByName(t, facts, "fatal")] {
		t.Fatalf("fatal never returns and should be an error function")
	}
	if facts.ErrorFns[fnByName(t, facts, "checked")] {
		t.Fatalf("checked returns on its non-error path")
	}
}

func TestErrorBasicBlocks(t *testing.T) {
	facts := loadBasicFacts(t)

	checked := fnByName(t, facts, "checked")
	errBlocks := runtimefacts.FindErrorBasicBlocks(checked, facts.ErrorFns)
	if len(errBlocks) == 0 {
		t.Fatalf("the fatal branch of checked should be on an error path")
	}
	if errBlocks[checked.Blocks[0]] {
		t.Fatalf("the entry of checked can reach a return")
	}
}

func TestSymbolsMap(t *testing.T) {
	facts := loadBasicFacts(t)

	if len(facts.Symbols) != 2 {
		t.Fatalf("expected 2 installed symbols, got %d", len(facts.Symbols))
	}
	seen := map[string]bool{}
	for _, name := range facts.Symbols {
		seen[name] = true
	}
	if !seen["dim"] || !seen["class"] {
		t.Fatalf("expected symbols dim and class, got %v", facts.Symbols)
	}
}

func TestPossiblyReturnedVariables(t *testing.T) {
	facts := loadBasicFacts(t)

	// mkAlias: x is returned, y flows into x through a copy
	vars := runtimefacts.FindPossiblyReturnedVariables(fnByName(t, facts, "mkAlias"))
	named := map[string]bool{}
	for slot := range vars {
		named[slot.Comment] = true
	}
	if !named["x"] || !named["y"] {
		t.Fatalf("expected x and y to be possibly returned, got %v", named)
	}
}

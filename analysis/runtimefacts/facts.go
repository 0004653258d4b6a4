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

// Package runtimefacts classifies the managed-runtime surface of the
// analyzed program: the tagged value type, the GC entry point, allocating
// functions, possible allocators, error functions, and the globals holding
// interned symbols. The allocator analysis consumes these facts; it never
// recomputes them.
package runtimefacts

import (
	"fmt"
	"go/types"
	"sort"

	"github.com/brodieG/rchk/analysis/config"
	"github.com/brodieG/rchk/analysis/lang"
	"github.com/brodieG/rchk/internal/funcutil"
	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Facts holds the classification of the analyzed program's runtime surface.
type Facts struct {
	Prog *ssa.Program
	Cfg  *config.Config

	// ValueType is the named tagged value type; a managed value is a pointer
	// to it.
	ValueType types.Type

	// GC is the garbage collector entry point.
	GC *ssa.Function

	// Install is the symbol-interning function, or nil when the config does
	// not name one.
	Install *ssa.Function

	// ErrorFns are the functions that never return normally.
	ErrorFns map[*ssa.Function]bool

	// Allocating are the functions from which GC is reachable, plus GC.
	Allocating map[*ssa.Function]bool

	// PossibleAllocators are the allocating functions returning a managed
	// value.
	PossibleAllocators map[*ssa.Function]bool

	// Symbols maps globals of managed type to the symbol name they were
	// installed with.
	Symbols map[*ssa.Global]string
}

// Compute classifies prog against the runtime surface named by cfg.
func Compute(prog *ssa.Program, cfg *config.Config, logs *config.LogGroup) (*Facts, error) {
	f := &Facts{
		Prog:               prog,
		Cfg:                cfg,
		ErrorFns:           make(map[*ssa.Function]bool),
		Allocating:         make(map[*ssa.Function]bool),
		PossibleAllocators: make(map[*ssa.Function]bool),
		Symbols:            make(map[*ssa.Global]string),
	}

	valueType, err := findType(prog, cfg.ValueType)
	if err != nil {
		return nil, err
	}
	f.ValueType = valueType

	gc, err := findFunction(prog, cfg.GCFunction)
	if err != nil {
		return nil, fmt.Errorf("resolving gc-function: %w", err)
	}
	f.GC = gc

	if cfg.InstallFunction.Method != "" {
		install, err := findFunction(prog, cfg.InstallFunction)
		if err != nil {
			return nil, fmt.Errorf("resolving install-function: %w", err)
		}
		f.Install = install
	}

	fns := SortedFunctions(prog)

	f.computeAllocating(fns)
	f.computeErrorFunctions(fns)
	f.computeSymbols(fns)

	logs.Infof("classified %d allocating functions, %d possible allocators, %d error functions, %d symbols",
		len(f.Allocating), len(f.PossibleAllocators), len(f.ErrorFns), len(f.Symbols))
	if logs.Level() >= config.DebugLevel {
		names := make(map[string]bool, len(f.Symbols))
		for _, name := range f.Symbols {
			names[name] = true
		}
		logs.Debugf("installed symbols: %v", funcutil.SetToOrderedSlice(names))
	}
	return f, nil
}

// IsManagedType returns true when t is a managed value, a pointer to the
// runtime's tagged value type.
func (f *Facts) IsManagedType(t types.Type) bool {
	ptr, ok := t.(*types.Pointer)
	return ok && types.Identical(ptr.Elem(), f.ValueType)
}

// IsManagedGlobal returns true when the global's variable is of managed type.
func (f *Facts) IsManagedGlobal(g *ssa.Global) bool {
	// a global's ssa type is a pointer to the variable's type
	ptr, ok := g.Type().(*types.Pointer)
	return ok && f.IsManagedType(ptr.Elem())
}

// ReturnsManagedValue returns true when fn's single result is a managed
// value.
func (f *Facts) ReturnsManagedValue(fn *ssa.Function) bool {
	results := fn.Signature.Results()
	return results.Len() == 1 && f.IsManagedType(results.At(0).Type())
}

// IsInstallConstantCall matches the install("name") idiom: a direct call of
// the runtime's symbol-interning function with a constant string argument.
func (f *Facts) IsInstallConstantCall(v ssa.Value) (string, bool) {
	if f.Install == nil {
		return "", false
	}
	call, ok := v.(*ssa.Call)
	if !ok || lang.StaticCallee(call) != f.Install || len(call.Call.Args) != 1 {
		return "", false
	}
	return lang.MatchConstString(call.Call.Args[0])
}

// computeAllocating marks every function from which GC is reachable in the
// CHA call graph, and GC itself.
func (f *Facts) computeAllocating(fns []*ssa.Function) {
	cg := cha.CallGraph(f.Prog)

	f.Allocating[f.GC] = true
	gcNode := cg.Nodes[f.GC]
	if gcNode == nil {
		return
	}

	worklist := []*ssa.Function{f.GC}
	for len(worklist) > 0 {
		fn := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		node := cg.Nodes[fn]
		if node == nil {
			continue
		}
		for _, e := range node.In {
			caller := e.Caller.Func
			if caller != nil && !f.Allocating[caller] {
				f.Allocating[caller] = true
				worklist = append(worklist, caller)
			}
		}
	}

	for _, fn := range fns {
		if f.Allocating[fn] && f.ReturnsManagedValue(fn) {
			f.PossibleAllocators[fn] = true
		}
	}
}

// computeErrorFunctions seeds the error set from the config and closes it
// under "every path from entry ends in an error call, a panic, or an
// infinite loop".
func (f *Facts) computeErrorFunctions(fns []*ssa.Function) {
	for _, fn := range fns {
		pkg := functionPackage(fn)
		for i := range f.Cfg.ErrorFunctions {
			if f.Cfg.ErrorFunctions[i].MatchesFunc(pkg, fn.Name()) {
				f.ErrorFns[fn] = true
			}
		}
	}

	changed := true
	for changed {
		changed = false
		for _, fn := range fns {
			if f.ErrorFns[fn] || len(fn.Blocks) == 0 {
				continue
			}
			errBlocks := FindErrorBasicBlocks(fn, f.ErrorFns)
			if errBlocks[fn.Blocks[0]] {
				f.ErrorFns[fn] = true
				changed = true
			}
		}
	}
}

// computeSymbols records, for each managed global, the name of the symbol
// installed into it with a constant-argument install call.
func (f *Facts) computeSymbols(fns []*ssa.Function) {
	for _, fn := range fns {
		lang.IterateInstructions(fn, func(_ int, instr ssa.Instruction) {
			store, ok := instr.(*ssa.Store)
			if !ok {
				return
			}
			global, ok := store.Addr.(*ssa.Global)
			if !ok || !f.IsManagedGlobal(global) {
				return
			}
			if name, ok := f.IsInstallConstantCall(store.Val); ok {
				f.Symbols[global] = name
			}
		})
	}
}

// FindErrorBasicBlocks returns the blocks of fn from which no path reaches a
// return: blocks that call an error function, end in a panic, or can only
// flow into such blocks.
func FindErrorBasicBlocks(fn *ssa.Function, errorFns map[*ssa.Function]bool) map[*ssa.BasicBlock]bool {
	canReturn := make(map[*ssa.BasicBlock]bool)

	blocked := func(b *ssa.BasicBlock) bool {
		for _, instr := range lang.BodyInstrs(b) {
			if call, ok := instr.(*ssa.Call); ok {
				if callee := lang.StaticCallee(call); callee != nil && errorFns[callee] {
					return true
				}
			}
		}
		return false
	}

	var worklist []*ssa.BasicBlock
	for _, b := range fn.Blocks {
		if _, ok := lang.LastInstr(b).(*ssa.Return); ok && !blocked(b) {
			canReturn[b] = true
			worklist = append(worklist, b)
		}
	}
	for len(worklist) > 0 {
		b := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, pred := range b.Preds {
			if !canReturn[pred] && !blocked(pred) {
				canReturn[pred] = true
				worklist = append(worklist, pred)
			}
		}
	}

	errBlocks := make(map[*ssa.BasicBlock]bool)
	for _, b := range fn.Blocks {
		if !canReturn[b] {
			errBlocks[b] = true
		}
	}
	return errBlocks
}

// FindPossiblyReturnedVariables returns the local slots of fn whose contents
// may reach a return operand, directly or through copies. Over-approximate:
// a slot copied into a returned slot is itself marked.
func FindPossiblyReturnedVariables(fn *ssa.Function) map[*ssa.Alloc]bool {
	res := make(map[*ssa.Alloc]bool)

	for _, b := range fn.Blocks {
		ret, ok := lang.LastInstr(b).(*ssa.Return)
		if !ok {
			continue
		}
		for _, r := range ret.Results {
			if slot := lang.MatchLocalLoad(r); slot != nil {
				res[slot] = true
			}
		}
	}

	changed := true
	for changed {
		changed = false
		lang.IterateInstructions(fn, func(_ int, instr ssa.Instruction) {
			dst, val := lang.MatchLocalStore(instr)
			if dst == nil || !res[dst] {
				return
			}
			if src := lang.MatchLocalLoad(val); src != nil && !res[src] {
				res[src] = true
				changed = true
			}
		})
	}
	return res
}

// SortedFunctions returns every function of the program with its synthetic
// wrappers, in a stable order.
func SortedFunctions(prog *ssa.Program) []*ssa.Function {
	all := ssautil.AllFunctions(prog)
	fns := make([]*ssa.Function, 0, len(all))
	for fn := range all {
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })
	return fns
}

func functionPackage(fn *ssa.Function) string {
	if fn.Pkg == nil || fn.Pkg.Pkg == nil {
		return ""
	}
	return fn.Pkg.Pkg.Path()
}

func findType(prog *ssa.Program, cid config.CodeIdentifier) (types.Type, error) {
	var found []types.Type
	for _, pkg := range prog.AllPackages() {
		for name, member := range pkg.Members {
			t, ok := member.(*ssa.Type)
			if !ok {
				continue
			}
			if cid.MatchesType(pkg.Pkg.Path(), name) {
				found = append(found, t.Type())
			}
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no type matching value-type %q", cid.Type)
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("value-type %q is ambiguous (%d matches)", cid.Type, len(found))
	}
	return found[0], nil
}

func findFunction(prog *ssa.Program, cid config.CodeIdentifier) (*ssa.Function, error) {
	var found []*ssa.Function
	for _, fn := range SortedFunctions(prog) {
		if fn.Parent() != nil {
			continue // anonymous functions are not runtime entry points
		}
		if cid.MatchesFunc(functionPackage(fn), fn.Name()) {
			found = append(found, fn)
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no function matching %q", cid.Method)
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("function %q is ambiguous (%d matches)", cid.Method, len(found))
	}
	return found[0], nil
}

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
	"github.com/brodieG/rchk/analysis/config"
	"github.com/brodieG/rchk/analysis/lang"
	"github.com/brodieG/rchk/analysis/runtimefacts"
	"golang.org/x/tools/go/ssa"
)

// CalledFunction is the unit of the analysis: a function specialized by an
// interned argument context. Handles are interned in their CalledModule, so
// pointer identity implies semantic equality.
type CalledFunction struct {
	Fn     *ssa.Function
	Args   *ArgInfos
	Module *CalledModule

	// id is the interning order, used for deterministic set iteration.
	id int
}

// ID returns the interned identity of the handle, dense from 0 in interning
// order.
func (c *CalledFunction) ID() int {
	return c.id
}

// Name renders the function with its context, e.g. "getAttrib(?,S:dim)".
// A context with nothing known renders as the plain function name.
func (c *CalledFunction) Name() string {
	res := c.Fn.Name()
	if c.Args == nil {
		return res
	}
	suffix, known := c.Args.suffix()
	if known > 0 {
		res += "(" + suffix + ")"
	}
	return res
}

type calledKey struct {
	fn   *ssa.Function
	args *ArgInfos
}

// CalledModule owns the interning tables of a program's analysis: argument
// facts, argument contexts, and (function, context) handles. It also fronts
// the runtime facts the engine consults. Single-threaded; one CalledModule
// serves one analysis of one program.
type CalledModule struct {
	facts *runtimefacts.Facts
	cfg   *config.Config

	argInfoTable  map[ArgInfo]*ArgInfo
	argInfosTable map[string]*ArgInfos
	calledTable   map[calledKey]*CalledFunction
	calledList    []*CalledFunction

	gc *CalledFunction
}

// NewCalledModule builds the registry for the program behind facts. The
// registry eagerly visits every call site of the program so that later
// lookups are pure intern reads, then resolves the GC handle.
func NewCalledModule(facts *runtimefacts.Facts) *CalledModule {
	cm := &CalledModule{
		facts:         facts,
		cfg:           facts.Cfg,
		argInfoTable:  make(map[ArgInfo]*ArgInfo),
		argInfosTable: make(map[string]*ArgInfos),
		calledTable:   make(map[calledKey]*CalledFunction),
	}
	for _, fn := range runtimefacts.SortedFunctions(facts.Prog) {
		lang.IterateInstructions(fn, func(_ int, instr ssa.Instruction) {
			if call, ok := instr.(*ssa.Call); ok {
				cm.CalledFunctionAt(call)
			}
		})
	}
	cm.gc = cm.CalledFunction(facts.GC)
	return cm
}

// internArgInfo returns the canonical handle for the fact. The probe may be
// stack-resident; the table owns its copies.
func (cm *CalledModule) internArgInfo(probe ArgInfo) *ArgInfo {
	if probe.Kind != ArgSymbol {
		probe.SymbolName = ""
	}
	if ai, ok := cm.argInfoTable[probe]; ok {
		return ai
	}
	ai := new(ArgInfo)
	*ai = probe
	cm.argInfoTable[probe] = ai
	return ai
}

// internArgInfos returns the canonical handle for the context. The probe
// slice may be reused by the caller; the table copies on first observation.
func (cm *CalledModule) internArgInfos(probe ArgInfos) *ArgInfos {
	key := probe.key()
	if ais, ok := cm.argInfosTable[key]; ok {
		return ais
	}
	owned := make(ArgInfos, len(probe))
	copy(owned, probe)
	cm.argInfosTable[key] = &owned
	return &owned
}

// internCalled returns the canonical handle for (fn, args). args must
// already be interned.
func (cm *CalledModule) internCalled(fn *ssa.Function, args *ArgInfos) *CalledFunction {
	key := calledKey{fn: fn, args: args}
	if cf, ok := cm.calledTable[key]; ok {
		return cf
	}
	cf := &CalledFunction{Fn: fn, Args: args, Module: cm, id: len(cm.calledList)}
	cm.calledTable[key] = cf
	cm.calledList = append(cm.calledList, cf)
	return cf
}

// CalledFunction returns the no-context handle for f: a context of the
// function's arity with nothing known about any argument.
func (cm *CalledModule) CalledFunction(f *ssa.Function) *CalledFunction {
	unknown := cm.internArgInfo(ArgInfo{Kind: ArgUnknown})
	probe := make(ArgInfos, len(f.Params))
	for i := range probe {
		probe[i] = unknown
	}
	return cm.internCalled(f, cm.internArgInfos(probe))
}

// CalledFunctionAt reconstructs the argument context of a call site and
// returns the handle for (callee, context). Returns nil when v is not a
// direct call.
func (cm *CalledModule) CalledFunctionAt(v ssa.Value) *CalledFunction {
	call, ok := v.(*ssa.Call)
	if !ok {
		return nil
	}
	fn := lang.StaticCallee(call)
	if fn == nil {
		return nil
	}

	args := lang.GetArgs(call)
	unknown := cm.internArgInfo(ArgInfo{Kind: ArgUnknown})
	probe := make(ArgInfos, len(args))
	for i, arg := range args {
		probe[i] = unknown
		if g := lang.MatchGlobalLoad(arg); g != nil {
			if name, ok := cm.facts.Symbols[g]; ok {
				probe[i] = cm.internArgInfo(ArgInfo{Kind: ArgSymbol, SymbolName: name})
				continue
			}
		}
		if name, ok := cm.facts.IsInstallConstantCall(arg); ok {
			probe[i] = cm.internArgInfo(ArgInfo{Kind: ArgSymbol, SymbolName: name})
		}
	}
	return cm.internCalled(fn, cm.internArgInfos(probe))
}

// CalledFunctions returns every interned handle, in interning order.
func (cm *CalledModule) CalledFunctions() []*CalledFunction {
	return cm.calledList
}

// GCFunction returns the no-context handle of the garbage collector.
func (cm *CalledModule) GCFunction() *CalledFunction {
	return cm.gc
}

// IsAllocating returns true when f may allocate somewhere during its
// execution.
func (cm *CalledModule) IsAllocating(f *ssa.Function) bool {
	return cm.facts.Allocating[f]
}

// IsPossibleAllocator returns true when f may return a freshly allocated
// managed value.
func (cm *CalledModule) IsPossibleAllocator(f *ssa.Function) bool {
	return cm.facts.PossibleAllocators[f]
}

// Facts returns the runtime classification the module was built from.
func (cm *CalledModule) Facts() *runtimefacts.Facts {
	return cm.facts
}

// Config returns the analysis configuration.
func (cm *CalledModule) Config() *config.Config {
	return cm.cfg
}

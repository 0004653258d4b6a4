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
	"go/token"

	"github.com/brodieG/rchk/analysis/lang"
	"github.com/brodieG/rchk/analysis/linemsg"
	"github.com/brodieG/rchk/analysis/runtimefacts"
	"github.com/brodieG/rchk/internal/funcutil"
	"golang.org/x/tools/go/ssa"
)

// engineRun holds the worklist exploration of one (function, context). The
// worklist and done set are fields, not globals, so analyses of different
// functions are independent.
type engineRun struct {
	cf    *CalledFunction
	cm    *CalledModule
	facts *runtimefacts.Facts
	msg   *linemsg.Messenger

	maxStates        int
	errorBlocks      map[*ssa.BasicBlock]bool
	possiblyReturned map[*ssa.Alloc]bool
	trackOrigins     bool
	slotIndex        map[*ssa.Alloc]int

	worklist []*allocState
	done     *doneSet

	// the function-level result, unioned over all return-reaching paths
	called  map[*CalledFunction]bool
	wrapped map[*CalledFunction]bool
	aborted bool

	phiWarned bool
}

// getCalledAndWrappedFunctions explores cf's control-flow graph and returns
// the set of allocators called on some path to a return and the set of
// allocators whose fresh result may be the returned value. aborted is true
// when the state cap was hit and the sets are partial.
func getCalledAndWrappedFunctions(cf *CalledFunction, msg *linemsg.Messenger) (
	called map[*CalledFunction]bool, wrapped map[*CalledFunction]bool, states int, aborted bool) {

	r := &engineRun{
		cf:      cf,
		cm:      cf.Module,
		facts:   cf.Module.facts,
		msg:     msg,
		called:  make(map[*CalledFunction]bool),
		wrapped: make(map[*CalledFunction]bool),
	}
	if cf.Fn == nil || len(cf.Fn.Blocks) == 0 {
		return r.called, r.wrapped, 0, false
	}

	r.maxStates = r.cm.cfg.MaxStates
	r.errorBlocks = runtimefacts.FindErrorBasicBlocks(cf.Fn, r.facts.ErrorFns)
	r.possiblyReturned = runtimefacts.FindPossiblyReturnedVariables(cf.Fn)
	r.trackOrigins = r.facts.ReturnsManagedValue(cf.Fn)
	r.slotIndex = indexSlots(cf.Fn)
	r.done = newDoneSet()

	msg.NewFunction(cf.Fn, " - "+cf.Name())

	r.add(newState(cf.Fn.Blocks[0]))
	r.loop()
	return r.called, r.wrapped, r.done.count, r.aborted
}

// add admits the state: the hash is frozen, the done set filters duplicates,
// and only a fresh state reaches the worklist. Rejected duplicates are
// dropped here; this is the sole deduplication point.
func (r *engineRun) add(s *allocState) bool {
	if !s.hashed {
		s.hashcode = s.computeHash(r.slotIndex)
		s.hashed = true
	}
	if !r.done.insert(s) {
		return false
	}
	r.worklist = append(r.worklist, s)
	return true
}

func (r *engineRun) loop() {
	cfg := r.cm.cfg
	for len(r.worklist) > 0 {
		top := r.worklist[len(r.worklist)-1]
		r.worklist = r.worklist[:len(r.worklist)-1]
		// work on a copy; the done set keeps the admitted state untouched
		s := top.clone(top.block)

		if cfg.DumpStates &&
			(cfg.DumpStatesFunction == "" || cfg.DumpStatesFunction == r.cf.Fn.Name()) {
			r.msg.Trace("going to work on this state: "+s.dump(cfg.VerboseDump), blockPos(s.block))
		}

		if r.errorBlocks[s.block] {
			r.msg.Debug("ignoring basic block on error path", blockPos(s.block))
			continue
		}

		if r.done.count > r.maxStates {
			r.msg.Error("too many states (abstraction error?)", blockPos(s.block))
			r.aborted = true
			return
		}

		for _, instr := range lang.BodyInstrs(s.block) {
			r.msg.Trace("visiting "+lang.FmtInstr(instr), instr.Pos())

			r.handleIntGuardsForNonTerminator(instr, s)
			r.handleManagedGuardsForNonTerminator(instr, s)

			if r.trackOrigins && r.handleOriginStore(instr, s) {
				continue
			}

			if call, ok := instr.(*ssa.Call); ok {
				if tgt := r.cm.CalledFunctionAt(call); tgt != nil && r.cm.IsAllocating(tgt.Fn) {
					r.msg.Debug("recording call to "+tgt.Name(), call.Pos())
					s.called[tgt] = true
				}
			}
		}

		term := lang.LastInstr(s.block)

		if ret, ok := term.(*ssa.Return); ok {
			r.handleReturn(ret, s)
		}

		if r.handleManagedGuardsForTerminator(term, s) {
			continue
		}
		if r.handleIntGuardsForTerminator(term, s) {
			continue
		}

		// add conservatively all cfg successors
		for _, succ := range s.block.Succs {
			if r.add(s.clone(succ)) {
				r.msg.Trace("added successor of terminator", term.Pos())
			}
		}
	}
}

// handleOriginStore folds a store into a possibly-returned slot into the
// origin map. Returns true when the store was consumed as an origin
// assignment.
func (r *engineRun) handleOriginStore(instr ssa.Instruction, s *allocState) bool {
	dst, val := lang.MatchLocalStore(instr)
	if dst == nil || !r.possiblyReturned[dst] {
		return false
	}

	if src := lang.MatchLocalLoad(val); src != nil {
		// copy all origins of src into dst
		if r.msg.Debugging() {
			r.msg.Debug(fmt.Sprintf("propagating origins on assignment of %s to %s",
				src.Comment, dst.Comment), instr.Pos())
		}
		if srcOrigins, ok := s.varOrigins[src]; ok {
			if dstOrigins, ok := s.varOrigins[dst]; ok {
				funcutil.Union(dstOrigins, srcOrigins)
			} else {
				s.varOrigins[dst] = funcutil.Copy(srcOrigins)
			}
		}
		return true
	}

	if tgt := r.cm.CalledFunctionAt(val); tgt != nil && r.cm.IsAllocating(tgt.Fn) {
		// storing a value gotten from a possibly allocating function
		if r.msg.Debugging() {
			r.msg.Debug(fmt.Sprintf("adding origin %s of %s", tgt.Name(), dst.Comment), instr.Pos())
		}
		if s.varOrigins[dst] == nil {
			s.varOrigins[dst] = make(map[*CalledFunction]bool)
		}
		s.varOrigins[dst][tgt] = true
		return true
	}

	if _, ok := val.(*ssa.Phi); ok && !r.phiWarned {
		r.msg.Debug("phi-joined value stored into tracked slot, origin treated as unknown", instr.Pos())
		r.phiWarned = true
	}
	return false
}

// handleReturn harvests the summary contribution of one return-reaching
// path.
func (r *engineRun) handleReturn(ret *ssa.Return, s *allocState) {
	r.msg.Debug(fmt.Sprintf("collecting %d calls at function return", len(s.called)), ret.Pos())
	funcutil.Union(r.called, s.called)

	if !r.trackOrigins {
		return
	}

	// the GC function is an exception: even though it does not return a
	// managed value, any managed-returning function that calls it is
	// regarded as wrapping it (a heuristic, and an over-approximation)
	if gc := r.cm.GCFunction(); r.called[gc] {
		r.wrapped[gc] = true
	}

	if len(ret.Results) != 1 {
		return
	}
	operand := ret.Results[0]

	if src := lang.MatchLocalLoad(operand); src != nil {
		nOrigins := 0
		if origins, ok := s.varOrigins[src]; ok {
			funcutil.Union(r.wrapped, origins)
			nOrigins = len(origins)
		}
		if r.msg.Debugging() {
			r.msg.Debug(fmt.Sprintf("collecting %d origins at function return, variable %s",
				nOrigins, src.Comment), ret.Pos())
		}
	}

	if tgt := r.cm.CalledFunctionAt(operand); tgt != nil && r.cm.IsPossibleAllocator(tgt.Fn) {
		r.msg.Debug("collecting immediate origin "+tgt.Name()+" at function return", ret.Pos())
		r.wrapped[tgt] = true
	}
}

// indexSlots numbers the function's local slots in instruction order, giving
// guard and origin maps a stable iteration order.
func indexSlots(fn *ssa.Function) map[*ssa.Alloc]int {
	index := make(map[*ssa.Alloc]int)
	lang.IterateInstructions(fn, func(_ int, instr ssa.Instruction) {
		if alloc, ok := instr.(*ssa.Alloc); ok {
			if _, seen := index[alloc]; !seen {
				index[alloc] = len(index)
			}
		}
	})
	return index
}

func blockPos(block *ssa.BasicBlock) (pos token.Pos) {
	if first := lang.FirstInstr(block); first != nil {
		return first.Pos()
	}
	return
}

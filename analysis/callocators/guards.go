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
	"go/types"

	"github.com/brodieG/rchk/analysis/lang"
	"golang.org/x/tools/go/ssa"
)

// The guard interpreters fold stores into the guard maps and give the
// engine edge-specific successor states at branches. A branch edge whose
// narrowed guard contradicts the current state is infeasible and gets no
// successor.

func slotType(slot *ssa.Alloc) types.Type {
	return slot.Type().(*types.Pointer).Elem()
}

// handleIntGuardsForNonTerminator folds a store to an integer local into the
// integer guard map. A constant store determines the guard; anything else
// resets it to unknown.
func (r *engineRun) handleIntGuardsForNonTerminator(instr ssa.Instruction, s *allocState) {
	dst, val := lang.MatchLocalStore(instr)
	if dst == nil || !lang.IsIntType(slotType(dst)) {
		return
	}
	if n, ok := lang.MatchConstInt(val); ok {
		if n == 0 {
			s.intGuards[dst] = intGuardZero
		} else {
			s.intGuards[dst] = intGuardNonZero
		}
		return
	}
	delete(s.intGuards, dst)
}

// handleManagedGuardsForNonTerminator folds a store to a managed local into
// the managed guard map, consulting the symbols map and the function's
// argument context so a known-symbol parameter propagates into the local it
// is spilled to.
func (r *engineRun) handleManagedGuardsForNonTerminator(instr ssa.Instruction, s *allocState) {
	dst, val := lang.MatchLocalStore(instr)
	if dst == nil || !r.facts.IsManagedType(slotType(dst)) {
		return
	}

	if lang.IsNilConst(val) {
		s.managedGuards[dst] = managedGuard{state: guardNull}
		return
	}
	if g := lang.MatchGlobalLoad(val); g != nil {
		if name, ok := r.facts.Symbols[g]; ok {
			s.managedGuards[dst] = managedGuard{state: guardKnownSymbol, symbolName: name}
			return
		}
	}
	if name, ok := r.facts.IsInstallConstantCall(val); ok {
		s.managedGuards[dst] = managedGuard{state: guardKnownSymbol, symbolName: name}
		return
	}
	if param, ok := val.(*ssa.Parameter); ok {
		if info := r.argInfoForParam(param); info.IsSymbol() {
			s.managedGuards[dst] = managedGuard{state: guardKnownSymbol, symbolName: info.SymbolName}
			return
		}
		delete(s.managedGuards, dst)
		return
	}
	if src := lang.MatchLocalLoad(val); src != nil {
		if g, ok := s.managedGuards[src]; ok {
			s.managedGuards[dst] = g
		} else {
			delete(s.managedGuards, dst)
		}
		return
	}
	delete(s.managedGuards, dst)
}

// argInfoForParam returns the context fact for the parameter, or nil when
// the context has nothing at its position.
func (r *engineRun) argInfoForParam(param *ssa.Parameter) *ArgInfo {
	if r.cf.Args == nil {
		return nil
	}
	for i, p := range r.cf.Fn.Params {
		if p == param {
			if i < len(*r.cf.Args) {
				return (*r.cf.Args)[i]
			}
			return nil
		}
	}
	return nil
}

// branchCondition peels negations off an if condition, swapping the branch
// targets for every negation peeled.
func branchCondition(ifInstr *ssa.If, block *ssa.BasicBlock) (ssa.Value, *ssa.BasicBlock, *ssa.BasicBlock) {
	cond := ifInstr.Cond
	trueSucc, falseSucc := block.Succs[0], block.Succs[1]
	for {
		neg := lang.MatchNegation(cond)
		if neg == nil {
			return cond, trueSucc, falseSucc
		}
		cond = neg
		trueSucc, falseSucc = falseSucc, trueSucc
	}
}

// handleIntGuardsForTerminator recognizes branches on an integer local
// compared against a constant. When it recognizes the branch it enqueues the
// feasible edge states itself and returns true; the engine must not add its
// own successors.
func (r *engineRun) handleIntGuardsForTerminator(term ssa.Instruction, s *allocState) bool {
	ifInstr, ok := term.(*ssa.If)
	if !ok {
		return false
	}
	cond, trueSucc, falseSucc := branchCondition(ifInstr, s.block)
	x, y, isEq, ok := lang.MatchComparison(cond)
	if !ok {
		return false
	}

	slot, other := lang.MatchLocalLoad(x), y
	if slot == nil {
		slot, other = lang.MatchLocalLoad(y), x
	}
	if slot == nil || !lang.IsIntType(slotType(slot)) {
		return false
	}
	n, ok := lang.MatchConstInt(other)
	if !ok {
		return false
	}

	// the state on the edge where the comparison holds, and on the one where
	// it does not; comparing against a nonzero constant determines nothing on
	// the failing edge
	eqState := intGuardNonZero
	if n == 0 {
		eqState = intGuardZero
	}
	neState := intGuardState(0)
	if n == 0 {
		neState = intGuardNonZero
	}

	eqSucc, neSucc := trueSucc, falseSucc
	if !isEq {
		eqSucc, neSucc = falseSucc, trueSucc
	}

	cur := s.intGuards[slot]
	if compatibleIntGuard(cur, eqState) {
		ns := s.clone(eqSucc)
		ns.intGuards[slot] = eqState
		r.add(ns)
	}
	if compatibleIntGuard(cur, neState) {
		ns := s.clone(neSucc)
		if neState != 0 {
			ns.intGuards[slot] = neState
		}
		r.add(ns)
	}
	return true
}

// compatibleIntGuard returns false when narrowing to next contradicts the
// current guard. next == 0 means the edge determines nothing.
func compatibleIntGuard(cur intGuardState, next intGuardState) bool {
	if cur == 0 || next == 0 {
		return true
	}
	return cur == next
}

// handleManagedGuardsForTerminator recognizes branches on a managed local
// compared against nil or against a known symbol global. Same protocol as
// the integer form.
func (r *engineRun) handleManagedGuardsForTerminator(term ssa.Instruction, s *allocState) bool {
	ifInstr, ok := term.(*ssa.If)
	if !ok {
		return false
	}
	cond, trueSucc, falseSucc := branchCondition(ifInstr, s.block)
	x, y, isEq, ok := lang.MatchComparison(cond)
	if !ok {
		return false
	}

	slot, other := lang.MatchLocalLoad(x), y
	if slot == nil {
		slot, other = lang.MatchLocalLoad(y), x
	}
	if slot == nil || !r.facts.IsManagedType(slotType(slot)) {
		return false
	}

	eqSucc, neSucc := trueSucc, falseSucc
	if !isEq {
		eqSucc, neSucc = falseSucc, trueSucc
	}
	cur, curKnown := s.managedGuards[slot]

	if lang.IsNilConst(other) {
		// == nil edge
		if !curKnown || cur.state == guardNull {
			ns := s.clone(eqSucc)
			ns.managedGuards[slot] = managedGuard{state: guardNull}
			r.add(ns)
		}
		// != nil edge; a known symbol is already non-null, keep the stronger
		// fact
		if !curKnown || cur.state != guardNull {
			ns := s.clone(neSucc)
			if !curKnown || cur.state == guardNonNull {
				ns.managedGuards[slot] = managedGuard{state: guardNonNull}
			}
			r.add(ns)
		}
		return true
	}

	if g := lang.MatchGlobalLoad(other); g != nil {
		if name, ok := r.facts.Symbols[g]; ok {
			// == symbol edge
			if !curKnown || cur.state == guardNonNull ||
				(cur.state == guardKnownSymbol && cur.symbolName == name) {
				ns := s.clone(eqSucc)
				ns.managedGuards[slot] = managedGuard{state: guardKnownSymbol, symbolName: name}
				r.add(ns)
			}
			// != symbol edge determines nothing new, but a slot known to be
			// exactly this symbol cannot take it
			if !curKnown || cur.state != guardKnownSymbol || cur.symbolName != name {
				r.add(s.clone(neSucc))
			}
			return true
		}
	}

	return false
}

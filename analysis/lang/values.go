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

package lang

import (
	"go/constant"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"
)

// MatchLoad returns the address a value is loaded from if v is a load
// (a *ssa.UnOp with the MUL operator), and nil otherwise.
func MatchLoad(v ssa.Value) ssa.Value {
	load, ok := v.(*ssa.UnOp)
	if !ok || load.Op != token.MUL {
		return nil
	}
	return load.X
}

// MatchLocalLoad returns the local slot a value is loaded from if v is a load
// of a stack-resident *ssa.Alloc, and nil otherwise. In naive-form SSA every
// read of a local variable has this shape.
func MatchLocalLoad(v ssa.Value) *ssa.Alloc {
	addr := MatchLoad(v)
	if addr == nil {
		return nil
	}
	if alloc, ok := addr.(*ssa.Alloc); ok && !alloc.Heap {
		return alloc
	}
	return nil
}

// MatchGlobalLoad returns the global a value is loaded from if v is a load of
// a *ssa.Global, and nil otherwise.
func MatchGlobalLoad(v ssa.Value) *ssa.Global {
	addr := MatchLoad(v)
	if addr == nil {
		return nil
	}
	if global, ok := addr.(*ssa.Global); ok {
		return global
	}
	return nil
}

// MatchLocalStore returns the local slot written and the value stored when
// instr is a store to a stack-resident *ssa.Alloc.
func MatchLocalStore(instr ssa.Instruction) (*ssa.Alloc, ssa.Value) {
	store, ok := instr.(*ssa.Store)
	if !ok {
		return nil, nil
	}
	if alloc, ok := store.Addr.(*ssa.Alloc); ok && !alloc.Heap {
		return alloc, store.Val
	}
	return nil, nil
}

// MatchConstString returns the value of v and true when v is a constant
// string.
func MatchConstString(v ssa.Value) (string, bool) {
	c, ok := v.(*ssa.Const)
	if !ok || c.Value == nil || c.Value.Kind() != constant.String {
		return "", false
	}
	return constant.StringVal(c.Value), true
}

// MatchConstInt returns the value of v and true when v is a constant integer.
func MatchConstInt(v ssa.Value) (int64, bool) {
	c, ok := v.(*ssa.Const)
	if !ok || c.Value == nil || c.Value.Kind() != constant.Int {
		return 0, false
	}
	return c.Int64(), true
}

// IsNilConst returns true when v is the nil constant of some pointer-like
// type.
func IsNilConst(v ssa.Value) bool {
	c, ok := v.(*ssa.Const)
	return ok && c.IsNil()
}

// MatchNegation returns a non-nil ssa value if x is the negation of some value y, in which case y is returned.
func MatchNegation(x ssa.Value) ssa.Value {
	v, ok := x.(*ssa.UnOp)
	if ok && v.Op == token.NOT {
		return v.X
	}
	return nil
}

// MatchComparison matches v against a binary == or != and returns the
// operands together with isEq, true when the operator is ==. Returns nils
// when v is not an equality comparison.
func MatchComparison(v ssa.Value) (x ssa.Value, y ssa.Value, isEq bool, ok bool) {
	binop, isBinop := v.(*ssa.BinOp)
	if !isBinop || (binop.Op != token.EQL && binop.Op != token.NEQ) {
		return nil, nil, false, false
	}
	return binop.X, binop.Y, binop.Op == token.EQL, true
}

// IsIntType returns true when t is an integer type (after unwrapping named
// types).
func IsIntType(t types.Type) bool {
	basic, ok := t.Underlying().(*types.Basic)
	return ok && basic.Info()&types.IsInteger != 0
}

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
	"testing"

	"golang.org/x/tools/go/ssa"
)

func TestDoneSetDeduplicates(t *testing.T) {
	cm, _, _ := loadTestModule(t, "basic")
	fn := findHandle(t, cm, "mkEither").Fn
	block := fn.Blocks[0]
	slotIndex := indexSlots(fn)
	alloc := cm.GCFunction()

	done := newDoneSet()

	admit := func(s *allocState) bool {
		if !s.hashed {
			s.hashcode = s.computeHash(slotIndex)
			s.hashed = true
		}
		return done.insert(s)
	}

	s1 := newState(block)
	if !admit(s1) {
		t.Fatalf("fresh state must be admitted")
	}
	if admit(s1.clone(block)) {
		t.Fatalf("content-equal state must be rejected")
	}

	s2 := s1.clone(block)
	s2.called[alloc] = true
	if !admit(s2) {
		t.Fatalf("state with a different call set must be admitted")
	}
	if admit(s2.clone(block)) {
		t.Fatalf("duplicate of the second state must be rejected")
	}

	// a different block identity is a different state
	if len(fn.Blocks) > 1 {
		if !admit(s1.clone(fn.Blocks[1])) {
			t.Fatalf("same content in a different block must be admitted")
		}
	}
	if done.count != 3 {
		t.Fatalf("expected 3 admitted states, got %d", done.count)
	}
}

func TestStateCloneIsDeep(t *testing.T) {
	cm, _, _ := loadTestModule(t, "basic")
	fn := findHandle(t, cm, "mkEither").Fn
	block := fn.Blocks[0]
	gc := cm.GCFunction()

	var slot *ssa.Alloc
	for _, instr := range block.Instrs {
		if a, ok := instr.(*ssa.Alloc); ok {
			slot = a
			break
		}
	}
	if slot == nil {
		t.Fatalf("no local slot in the entry block")
	}

	s := newState(block)
	s.called[gc] = true
	s.intGuards[slot] = intGuardZero
	s.varOrigins[slot] = map[*CalledFunction]bool{gc: true}

	c := s.clone(block)
	c.called[gc] = false
	delete(c.intGuards, slot)
	c.varOrigins[slot][gc] = false

	if !s.called[gc] || s.intGuards[slot] != intGuardZero || !s.varOrigins[slot][gc] {
		t.Fatalf("mutating a clone must not affect the original")
	}
}

func TestStateHashIsCanonical(t *testing.T) {
	cm, _, _ := loadTestModule(t, "basic")
	fn := findHandle(t, cm, "mkEither").Fn
	block := fn.Blocks[0]
	slotIndex := indexSlots(fn)
	a := cm.GCFunction()
	b := findHandle(t, cm, "mkVector")

	s1 := newState(block)
	s1.called[a] = true
	s1.called[b] = true

	// same content built in the opposite insertion order
	s2 := newState(block)
	s2.called[b] = true
	s2.called[a] = true

	if s1.computeHash(slotIndex) != s2.computeHash(slotIndex) {
		t.Fatalf("hash must not depend on insertion order")
	}
	if !s1.equal(s2) {
		t.Fatalf("states with the same content must be equal")
	}
}

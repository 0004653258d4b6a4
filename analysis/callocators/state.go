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
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/brodieG/rchk/internal/funcutil"
	"golang.org/x/tools/go/ssa"
)

// intGuardState is the abstract value of an integer local used in guards.
type intGuardState uint8

const (
	intGuardZero intGuardState = iota + 1
	intGuardNonZero
)

// managedGuardState is the abstract value of a managed local used in guards.
type managedGuardState uint8

const (
	guardNull managedGuardState = iota + 1
	guardNonNull
	guardKnownSymbol
)

// managedGuard pairs the guard state with the symbol name, meaningful only
// in the known-symbol state.
type managedGuard struct {
	state      managedGuardState
	symbolName string
}

// allocState is the per-program-point symbolic state of the exploration:
// the basic block about to be interpreted, the guard maps, the calls
// accumulated along the path, and the per-local origin sets. Absent guard
// entries mean "unknown"; the maps only hold determined facts, which keeps
// state equality canonical.
type allocState struct {
	block *ssa.BasicBlock

	intGuards     map[*ssa.Alloc]intGuardState
	managedGuards map[*ssa.Alloc]managedGuard
	called        map[*CalledFunction]bool
	varOrigins    map[*ssa.Alloc]map[*CalledFunction]bool

	// hashcode is computed once, on the first admission attempt, and frozen.
	hashcode uint64
	hashed   bool
}

func newState(block *ssa.BasicBlock) *allocState {
	return &allocState{
		block:         block,
		intGuards:     make(map[*ssa.Alloc]intGuardState),
		managedGuards: make(map[*ssa.Alloc]managedGuard),
		called:        make(map[*CalledFunction]bool),
		varOrigins:    make(map[*ssa.Alloc]map[*CalledFunction]bool),
	}
}

// clone returns a deep copy of the state with a new basic-block identity and
// an unfrozen hash.
func (s *allocState) clone(block *ssa.BasicBlock) *allocState {
	c := &allocState{
		block:         block,
		intGuards:     make(map[*ssa.Alloc]intGuardState, len(s.intGuards)),
		managedGuards: make(map[*ssa.Alloc]managedGuard, len(s.managedGuards)),
		called:        funcutil.Copy(s.called),
		varOrigins:    make(map[*ssa.Alloc]map[*CalledFunction]bool, len(s.varOrigins)),
	}
	for slot, g := range s.intGuards {
		c.intGuards[slot] = g
	}
	for slot, g := range s.managedGuards {
		c.managedGuards[slot] = g
	}
	for slot, origins := range s.varOrigins {
		c.varOrigins[slot] = funcutil.Copy(origins)
	}
	return c
}

// computeHash combines, in order: block, both guard maps, the call set, and
// the origin map. Maps are iterated in slot order and sets in interned-id
// order so the hash is canonical.
func (s *allocState) computeHash(slotIndex map[*ssa.Alloc]int) uint64 {
	h := fnv.New64a()
	writeInt := func(n int) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
	}

	writeInt(s.block.Index)

	writeInt(len(s.intGuards))
	for _, slot := range sortedSlots(s.intGuards, slotIndex) {
		writeInt(slotIndex[slot])
		writeInt(int(s.intGuards[slot]))
	}

	writeInt(len(s.managedGuards))
	for _, slot := range sortedSlots(s.managedGuards, slotIndex) {
		g := s.managedGuards[slot]
		writeInt(slotIndex[slot])
		writeInt(int(g.state))
		h.Write([]byte(g.symbolName))
		h.Write([]byte{0})
	}

	writeInt(len(s.called))
	for _, cf := range sortedCalled(s.called) {
		writeInt(cf.id)
	}

	writeInt(len(s.varOrigins))
	for _, slot := range sortedSlots(s.varOrigins, slotIndex) {
		origins := s.varOrigins[slot]
		writeInt(slotIndex[slot])
		writeInt(len(origins))
		for _, cf := range sortedCalled(origins) {
			writeInt(cf.id)
		}
	}

	return h.Sum64()
}

// equal is field-wise structural equality.
func (s *allocState) equal(o *allocState) bool {
	if s == o {
		return true
	}
	if s.block != o.block ||
		len(s.intGuards) != len(o.intGuards) ||
		len(s.managedGuards) != len(o.managedGuards) ||
		len(s.called) != len(o.called) ||
		len(s.varOrigins) != len(o.varOrigins) {
		return false
	}
	for slot, g := range s.intGuards {
		if o.intGuards[slot] != g {
			return false
		}
	}
	for slot, g := range s.managedGuards {
		if o.managedGuards[slot] != g {
			return false
		}
	}
	for cf := range s.called {
		if !o.called[cf] {
			return false
		}
	}
	for slot, origins := range s.varOrigins {
		oOrigins, ok := o.varOrigins[slot]
		if !ok || len(oOrigins) != len(origins) {
			return false
		}
		for cf := range origins {
			if !oOrigins[cf] {
				return false
			}
		}
	}
	return true
}

// dump renders the state for debugging at trace level.
func (s *allocState) dump(verbose bool) string {
	res := fmt.Sprintf("block %d, %d int guards, %d managed guards, %d calls, %d origin slots",
		s.block.Index, len(s.intGuards), len(s.managedGuards), len(s.called), len(s.varOrigins))
	if !verbose {
		return res
	}
	for slot, g := range s.intGuards {
		res += fmt.Sprintf("\n  int guard %s = %d", slot.Comment, g)
	}
	for slot, g := range s.managedGuards {
		res += fmt.Sprintf("\n  managed guard %s = %d %q", slot.Comment, g.state, g.symbolName)
	}
	for _, cf := range sortedCalled(s.called) {
		res += fmt.Sprintf("\n  called %s", cf.Name())
	}
	for slot, origins := range s.varOrigins {
		for _, cf := range sortedCalled(origins) {
			res += fmt.Sprintf("\n  origin %s <- %s", slot.Comment, cf.Name())
		}
	}
	return res
}

// doneSet is the content-addressed set of admitted states. Buckets are keyed
// by the frozen hash; structural equality resolves collisions.
type doneSet struct {
	states map[uint64][]*allocState
	count  int
}

func newDoneSet() *doneSet {
	return &doneSet{states: make(map[uint64][]*allocState)}
}

// insert admits the state unless an equal state is already present. The
// state's hash must be frozen.
func (d *doneSet) insert(s *allocState) bool {
	bucket := d.states[s.hashcode]
	for _, old := range bucket {
		if old.equal(s) {
			return false
		}
	}
	d.states[s.hashcode] = append(bucket, s)
	d.count++
	return true
}

// sortedSlots returns the keys of m ordered by the per-function slot index.
func sortedSlots[V any](m map[*ssa.Alloc]V, slotIndex map[*ssa.Alloc]int) []*ssa.Alloc {
	slots := make([]*ssa.Alloc, 0, len(m))
	for slot := range m {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slotIndex[slots[i]] < slotIndex[slots[j]] })
	return slots
}

// sortedCalled returns the set's elements ordered by interned identity.
func sortedCalled(set map[*CalledFunction]bool) []*CalledFunction {
	res := make([]*CalledFunction, 0, len(set))
	for cf := range set {
		res = append(res, cf)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].id < res[j].id })
	return res
}

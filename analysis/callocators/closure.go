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
	"sort"

	ybgraph "github.com/yourbasic/graph"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/traverse"
)

// WrapGraph is the wrapping relation over interned CalledFunctions as a
// graph: an edge f -> g means a fresh result of g may be returned by f. It
// adapts the relation to gonum's graph.Graph for traversal and to
// yourbasic's graph.Iterator for strongly-connected components, so both
// libraries can run over the same data. Node ids are the interned identities.
type WrapGraph struct {
	cm    *CalledModule
	edges map[int]map[int]bool
}

// NewWrapGraph builds the wrapping relation graph from the summaries.
func NewWrapGraph(cm *CalledModule, summaries map[*CalledFunction]*Summary) *WrapGraph {
	edges := make(map[int]map[int]bool, len(summaries))
	for cf, summary := range summaries {
		out := make(map[int]bool, len(summary.Wrapped))
		for _, wrapped := range summary.Wrapped {
			out[wrapped.id] = true
		}
		edges[cf.id] = out
	}
	return &WrapGraph{cm: cm, edges: edges}
}

// TransitiveWrapped returns every allocator reachable from cf through the
// wrapping relation, in interned order: the closure of "may return a fresh
// result of".
func (g *WrapGraph) TransitiveWrapped(cf *CalledFunction) []*CalledFunction {
	var out []*CalledFunction
	bf := traverse.BreadthFirst{
		Visit: func(n graph.Node) {
			if int(n.ID()) != cf.id {
				out = append(out, g.cm.calledList[n.ID()])
			}
		},
	}
	bf.Walk(g, wrapNode{cf: cf}, nil)
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// WrapCycles returns the nontrivial strongly-connected components of the
// wrapping relation: groups of functions that mutually wrap each other's
// results.
func (g *WrapGraph) WrapCycles() [][]*CalledFunction {
	var cycles [][]*CalledFunction
	for _, component := range ybgraph.StrongComponents(g) {
		if len(component) < 2 {
			continue
		}
		sort.Ints(component)
		cycle := make([]*CalledFunction, len(component))
		for i, id := range component {
			cycle[i] = g.cm.calledList[id]
		}
		cycles = append(cycles, cycle)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0].id < cycles[j][0].id })
	return cycles
}

// *************** yourbasic graph.Iterator **********************

// Order returns the number of vertices: every interned handle is a vertex.
func (g *WrapGraph) Order() int {
	return len(g.cm.calledList)
}

// Visit calls do for every out-neighbor of v, aborting early when do
// returns true.
func (g *WrapGraph) Visit(v int, do func(w int, c int64) bool) bool {
	for w := range g.edges[v] {
		if do(w, 1) {
			return true
		}
	}
	return false
}

// *************** gonum graph.Graph **********************

// Node returns the node with the given id, nil if it does not exist.
func (g *WrapGraph) Node(id int64) graph.Node {
	if id < 0 || id >= int64(len(g.cm.calledList)) {
		return nil
	}
	return wrapNode{cf: g.cm.calledList[id]}
}

// Nodes returns an iterator over every vertex.
func (g *WrapGraph) Nodes() graph.Nodes {
	ids := make([]int64, len(g.cm.calledList))
	for i := range ids {
		ids[i] = int64(i)
	}
	return &wrapNodes{g: g, ids: ids, cur: -1}
}

// From returns an iterator over the out-neighbors of id.
func (g *WrapGraph) From(id int64) graph.Nodes {
	out := g.edges[int(id)]
	ids := make([]int64, 0, len(out))
	for w := range out {
		ids = append(ids, int64(w))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &wrapNodes{g: g, ids: ids, cur: -1}
}

// HasEdgeBetween reports an edge between the two ids in either direction.
func (g *WrapGraph) HasEdgeBetween(xid, yid int64) bool {
	return g.edges[int(xid)][int(yid)] || g.edges[int(yid)][int(xid)]
}

// Edge returns the edge between the two ids, nil if none exists.
func (g *WrapGraph) Edge(uid, vid int64) graph.Edge {
	if !g.edges[int(uid)][int(vid)] {
		return nil
	}
	return wrapEdge{
		from: wrapNode{cf: g.cm.calledList[uid]},
		to:   wrapNode{cf: g.cm.calledList[vid]},
	}
}

// wrapNode wraps a CalledFunction as a gonum node; the node id is the
// interned identity.
type wrapNode struct {
	cf *CalledFunction
}

// ID returns the id of the node
func (n wrapNode) ID() int64 {
	return int64(n.cf.id)
}

func (n wrapNode) String() string {
	return n.cf.Name()
}

// wrapNodes iterates a fixed id slice; the iterator starts before the first
// node.
type wrapNodes struct {
	g   *WrapGraph
	ids []int64
	cur int
}

// Next moves the iterator to the next node and returns true if one exists.
func (ns *wrapNodes) Next() bool {
	if ns.cur < len(ns.ids)-1 {
		ns.cur++
		return true
	}
	return false
}

// Len returns the number of remaining nodes.
func (ns *wrapNodes) Len() int {
	return len(ns.ids) - ns.cur - 1
}

// Reset rewinds the iterator to before the first node.
func (ns *wrapNodes) Reset() {
	ns.cur = -1
}

// Node returns the current node.
func (ns *wrapNodes) Node() graph.Node {
	return ns.g.Node(ns.ids[ns.cur])
}

// wrapEdge is a directed wrapping edge.
type wrapEdge struct {
	from wrapNode
	to   wrapNode
}

// From returns the origin of the edge
func (e wrapEdge) From() graph.Node {
	return e.from
}

// To returns the destination of the edge
func (e wrapEdge) To() graph.Node {
	return e.to
}

// ReversedEdge returns a new value representing the reversed edge
func (e wrapEdge) ReversedEdge() graph.Edge {
	return wrapEdge{from: e.to, to: e.from}
}

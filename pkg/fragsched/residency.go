// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fragsched

import (
	"sort"
	"sync"
)

// ResidencyMap records which node every known fragment currently lives on,
// along with per-node budget consumption. Every fragment has exactly one
// residency node at any instant. Entries change only through Place (initial
// placement) and Commit (a completed migration); both enforce the budget of
// the receiving node, so a node can never be over-committed regardless of
// what the planner or controller asked for.
//
// The map is concurrency-safe. Readers take a shared lock; Place and
// Commit serialize.
type ResidencyMap struct {
	sync.RWMutex
	nodes     map[string]*nodeUsage
	residency map[string]residency
}

// nodeUsage is the budget bookkeeping for one node.
type nodeUsage struct {
	capacity float64
	used     float64
}

// residency records where a fragment lives and how much budget it consumes
// there.
type residency struct {
	node string
	cost float64
}

// NewResidencyMap creates a residency map over the given nodes.
func NewResidencyMap(nodes []Node) *ResidencyMap {
	m := &ResidencyMap{
		nodes:     make(map[string]*nodeUsage, len(nodes)),
		residency: make(map[string]residency),
	}
	for i := range nodes {
		m.nodes[nodes[i].ID] = &nodeUsage{capacity: float64(nodes[i].CapacityBudget)}
	}
	return m
}

// Place records the initial placement of a fragment with the given budget
// cost. It fails if the fragment already has a residency, the node is
// unknown, or the node's budget cannot fit the fragment.
func (m *ResidencyMap) Place(fragmentID, nodeID string, cost float64) error {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.residency[fragmentID]; ok {
		return fragschedError("fragment %s already has a residency", fragmentID)
	}
	node, ok := m.nodes[nodeID]
	if !ok {
		return fragschedError("can't place fragment %s on unknown node %s", fragmentID, nodeID)
	}
	if node.used+cost > node.capacity {
		return fragschedError("can't place fragment %s on node %s: budget exceeded (%.1f + %.1f > %.1f)",
			fragmentID, nodeID, node.used, cost, node.capacity)
	}

	node.used += cost
	m.residency[fragmentID] = residency{node: nodeID, cost: cost}

	return nil
}

// Commit records a completed migration of a fragment to the given node,
// transferring its budget cost from the old node to the new one. A commit
// that would exceed the receiving node's budget corrupts no state and
// returns an InvariantError: callers are expected to have checked the fit
// before moving any bytes.
func (m *ResidencyMap) Commit(fragmentID, nodeID string) error {
	m.Lock()
	defer m.Unlock()

	res, ok := m.residency[fragmentID]
	if !ok {
		return fragschedError("can't commit migration of unknown fragment %s", fragmentID)
	}
	if res.node == nodeID {
		return nil
	}
	to, ok := m.nodes[nodeID]
	if !ok {
		return fragschedError("can't commit fragment %s to unknown node %s", fragmentID, nodeID)
	}
	if to.used+res.cost > to.capacity {
		return invariantError("committing fragment %s would exceed the budget of node %s (%.1f + %.1f > %.1f)",
			fragmentID, nodeID, to.used, res.cost, to.capacity)
	}

	m.nodes[res.node].used -= res.cost
	to.used += res.cost
	m.residency[fragmentID] = residency{node: nodeID, cost: res.cost}

	return nil
}

// NodeOf returns the current residency node of the given fragment.
func (m *ResidencyMap) NodeOf(fragmentID string) (string, bool) {
	m.RLock()
	defer m.RUnlock()

	res, ok := m.residency[fragmentID]
	return res.node, ok
}

// CanHost checks whether the given node has budget left for the given cost.
func (m *ResidencyMap) CanHost(nodeID string, cost float64) bool {
	m.RLock()
	defer m.RUnlock()

	node, ok := m.nodes[nodeID]
	if !ok {
		return false
	}
	return node.used+cost <= node.capacity
}

// UsedBudget returns the budget currently consumed on the given node.
func (m *ResidencyMap) UsedBudget(nodeID string) float64 {
	m.RLock()
	defer m.RUnlock()

	if node, ok := m.nodes[nodeID]; ok {
		return node.used
	}
	return 0.0
}

// ResidentOn returns the fragments currently resident on the given node,
// in ascending ID order.
func (m *ResidencyMap) ResidentOn(nodeID string) []string {
	m.RLock()
	defer m.RUnlock()

	fragments := []string{}
	for id, res := range m.residency {
		if res.node == nodeID {
			fragments = append(fragments, id)
		}
	}
	sort.Strings(fragments)

	return fragments
}

// Nodes returns the IDs of all known nodes, in ascending order.
func (m *ResidencyMap) Nodes() []string {
	m.RLock()
	defer m.RUnlock()

	nodes := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)

	return nodes
}

// Snapshot returns a copy of the full fragment-to-node mapping.
func (m *ResidencyMap) Snapshot() map[string]string {
	m.RLock()
	defer m.RUnlock()

	snapshot := make(map[string]string, len(m.residency))
	for id, res := range m.residency {
		snapshot[id] = res.node
	}

	return snapshot
}

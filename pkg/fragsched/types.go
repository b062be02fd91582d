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
	"fmt"
)

// Fragment is a movable unit of data. Fragments are immutable inputs to a
// planning pass; only the Controller's per-fragment runtime state (hotness,
// lease, residency) changes over time.
type Fragment struct {
	// ID uniquely identifies the fragment.
	ID string `json:"id"`
	// Size is the fragment payload size in bytes.
	Size int64 `json:"size"`
	// Importance is a caller-supplied placement weight.
	Importance float64 `json:"importance"`
	// Reuse is the predicted number of times the fragment will be reused.
	Reuse int `json:"reuse"`
	// Timescale is an informational access-pattern category tag.
	Timescale string `json:"timescale,omitempty"`
}

// String returns a compact description of the fragment.
func (f *Fragment) String() string {
	return fmt.Sprintf("fragment %s{size:%d, importance:%.2f, reuse:%d}",
		f.ID, f.Size, f.Importance, f.Reuse)
}

// Node is a placement target with a finite capacity budget.
type Node struct {
	// ID uniquely identifies the node.
	ID string `json:"id"`
	// CapacityBudget is the total placement budget of the node.
	CapacityBudget int64 `json:"capacity_budget"`
	// PredictedInterference penalizes the utility of placements on this
	// node. Optional, defaults to 0.
	PredictedInterference float64 `json:"predicted_interference,omitempty"`
}

// String returns a compact description of the node.
func (n *Node) String() string {
	return fmt.Sprintf("node %s{budget:%d, interference:%.2f}",
		n.ID, n.CapacityBudget, n.PredictedInterference)
}

// PlacementPlan is the outcome of a planning pass. Fragments absent from
// Assignments could not be placed within any node's remaining budget and
// are listed in Unplaced; that is an expected outcome, not an error.
type PlacementPlan struct {
	// Assignments maps fragment ID to the ID of its assigned node.
	Assignments map[string]string
	// Unplaced lists fragments no node had budget for, in ascending order.
	Unplaced []string
}

// Placed returns the node assigned to the given fragment, if any.
func (p *PlacementPlan) Placed(fragmentID string) (string, bool) {
	node, ok := p.Assignments[fragmentID]
	return node, ok
}

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
	"encoding/json"
	"math"
	"sort"
)

// PlannerConfig contains the cost and utility model parameters of the
// placement planner.
type PlannerConfig struct {
	// UnitSize is the granularity in bytes of the secondary indexing-unit
	// budget a placement consumes on a node.
	UnitSize int64
	// UnitPressureWeight scales the indexing-unit pressure folded into the
	// scalar placement cost.
	UnitPressureWeight float64
	// ReuseWeight scales predicted fragment reuse in placement utility.
	ReuseWeight float64
	// ImportanceWeight scales fragment importance in placement utility.
	ImportanceWeight float64
	// InterferenceWeight scales the node interference penalty in
	// placement utility.
	InterferenceWeight float64
}

// DefaultPlannerConfig returns a PlannerConfig with default parameters.
func DefaultPlannerConfig() *PlannerConfig {
	return &PlannerConfig{
		UnitSize:           4096,
		UnitPressureWeight: 0.1,
		ReuseWeight:        1.0,
		ImportanceWeight:   0.8,
		InterferenceWeight: 0.5,
	}
}

// Planner produces one-shot fragment-to-node assignments. Planning is a
// pure function of its inputs: a Planner mutates no shared state, never
// talks to a Transport, and always yields the same plan for the same
// inputs.
type Planner struct {
	config *PlannerConfig
}

// NewPlanner creates a planner with the given configuration, or with
// defaults if config is nil.
func NewPlanner(config *PlannerConfig) *Planner {
	if config == nil {
		config = DefaultPlannerConfig()
	}
	return &Planner{config: config}
}

// SetConfigJson reconfigures the planner from a JSON string.
func (p *Planner) SetConfigJson(configJson string) error {
	config := DefaultPlannerConfig()
	if err := json.Unmarshal([]byte(configJson), config); err != nil {
		return fragschedError("failed to parse planner configuration: %v", err)
	}
	if config.UnitSize <= 0 {
		return fragschedError("invalid planner UnitSize: %d, > 0 expected", config.UnitSize)
	}
	p.config = config
	return nil
}

// Cost returns the scalar budget consumption of placing the fragment on a
// node: raw bytes plus the indexing-unit pressure of the mapping entries
// the placement needs.
func (p *Planner) Cost(f *Fragment) float64 {
	units := math.Ceil(float64(f.Size) / float64(p.config.UnitSize))
	return float64(f.Size) + units*float64(p.config.UnitSize)*p.config.UnitPressureWeight
}

// Utility returns the benefit of placing the fragment on the node, clamped
// to a minimum of 0.
func (p *Planner) Utility(f *Fragment, n *Node) float64 {
	u := p.config.ReuseWeight*float64(f.Reuse) +
		p.config.ImportanceWeight*f.Importance -
		p.config.InterferenceWeight*n.PredictedInterference
	if u < 0.0 {
		return 0.0
	}
	return u
}

// candidate is one (fragment, node) placement alternative.
type candidate struct {
	fragment int // index into the fragment slice
	node     int // index into the node slice
	cost     float64
	rho      float64 // utility per unit of cost
}

// budgets tracks the remaining per-node capacity during one planning pass.
// It is threaded explicitly through the committing step so concurrent
// planning passes never share accumulator state.
type budgets map[string]float64

// commit consumes the candidate's cost from the node's remaining budget.
// It returns false, leaving the budget untouched, if the node can no
// longer fit the candidate.
func (b budgets) commit(node string, cost float64) bool {
	if b[node] < cost {
		return false
	}
	b[node] -= cost
	return true
}

// Plan assigns fragments to nodes, greedily maximizing utility per unit of
// consumed budget. Candidate (fragment, node) pairs are ranked by their
// utility/cost ratio and committed first-fit in rank order; rank ties are
// broken by fragment and node ID so that identical inputs always produce
// identical plans. Fragments no node has remaining budget for end up in
// the plan's Unplaced list.
func (p *Planner) Plan(fragments []Fragment, nodes []Node) *PlacementPlan {
	plan := &PlacementPlan{
		Assignments: make(map[string]string, len(fragments)),
		Unplaced:    []string{},
	}
	if len(fragments) == 0 || len(nodes) == 0 {
		for i := range fragments {
			plan.Unplaced = append(plan.Unplaced, fragments[i].ID)
		}
		sort.Strings(plan.Unplaced)
		return plan
	}

	candidates := make([]candidate, 0, len(fragments)*len(nodes))
	for fi := range fragments {
		cost := p.Cost(&fragments[fi])
		if cost <= 0.0 {
			continue
		}
		for ni := range nodes {
			candidates = append(candidates, candidate{
				fragment: fi,
				node:     ni,
				cost:     cost,
				rho:      p.Utility(&fragments[fi], &nodes[ni]) / cost,
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := &candidates[i], &candidates[j]
		if ci.rho != cj.rho {
			return ci.rho > cj.rho
		}
		fi, fj := fragments[ci.fragment].ID, fragments[cj.fragment].ID
		if fi != fj {
			return fi < fj
		}
		return nodes[ci.node].ID < nodes[cj.node].ID
	})

	remaining := make(budgets, len(nodes))
	for i := range nodes {
		remaining[nodes[i].ID] = float64(nodes[i].CapacityBudget)
	}

	for i := range candidates {
		c := &candidates[i]
		fragment := fragments[c.fragment].ID
		if _, done := plan.Assignments[fragment]; done {
			continue
		}
		if remaining.commit(nodes[c.node].ID, c.cost) {
			plan.Assignments[fragment] = nodes[c.node].ID
		}
	}

	for i := range fragments {
		if _, ok := plan.Assignments[fragments[i].ID]; !ok {
			plan.Unplaced = append(plan.Unplaced, fragments[i].ID)
		}
	}
	sort.Strings(plan.Unplaced)

	return plan
}

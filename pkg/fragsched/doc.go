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

// Package fragsched places movable data fragments on budget-constrained
// compute nodes and keeps that placement balanced as access patterns and
// retention leases evolve over discrete epochs.
//
// The package has two loosely coupled cores. The Planner produces a
// one-shot assignment of fragments to nodes, greedily maximizing utility
// per unit of consumed capacity under per-node budgets. The Controller
// runs once per epoch: it applies access events to per-fragment hotness
// and leases, periodically promotes the hottest fragments to a designated
// fast node, and evicts expired cold fragments back to a fallback node.
// Both share a ResidencyMap recording where each fragment currently lives,
// and both delegate the physical byte transfer to a Transport collaborator.
package fragsched

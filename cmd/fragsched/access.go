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

package main

import (
	"math/rand"
	"sort"

	"github.com/intel/fragsched/pkg/fragsched"
)

// accessPattern generates a synthetic per-epoch access batch, sampling
// fragments with a bias towards the ones that are already hot. This gives
// the controller a skewed, self-reinforcing working set to react to.
type accessPattern struct {
	rng       *rand.Rand
	fragments []string
	k         int
}

// newAccessPattern creates an access pattern over the given fragments.
func newAccessPattern(fragments []fragsched.Fragment, k int, seed int64) *accessPattern {
	ids := make([]string, 0, len(fragments))
	for i := range fragments {
		ids = append(ids, fragments[i].ID)
	}
	sort.Strings(ids)

	return &accessPattern{
		rng:       rand.New(rand.NewSource(seed)),
		fragments: ids,
		k:         k,
	}
}

// sample draws k fragment IDs with replacement, weighted by current
// hotness plus a small baseline so cold fragments still get sampled.
func (a *accessPattern) sample(hotness func(string) float64) []string {
	if len(a.fragments) == 0 || a.k <= 0 {
		return nil
	}

	const baseline = 0.01

	weights := make([]float64, len(a.fragments))
	total := 0.0
	for i, id := range a.fragments {
		weights[i] = hotness(id) + baseline
		total += weights[i]
	}

	batch := make([]string, 0, a.k)
	for n := 0; n < a.k; n++ {
		pick := a.rng.Float64() * total
		for i, w := range weights {
			pick -= w
			if pick <= 0.0 || i == len(weights)-1 {
				batch = append(batch, a.fragments[i])
				break
			}
		}
	}

	return batch
}

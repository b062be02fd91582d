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
	"os"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Descriptor is the external description of the fragments to place and the
// nodes to place them on. Descriptors are read from JSON or YAML files.
type Descriptor struct {
	Fragments []Fragment `json:"fragments"`
	Nodes     []Node     `json:"nodes"`
}

// LoadDescriptor reads and validates a descriptor from the given file.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read descriptor %q", path)
	}

	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, errors.Wrapf(err, "malformed descriptor %q", path)
	}

	return d, nil
}

// ParseDescriptor parses and validates descriptor data. The data can be
// JSON or YAML.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	d := &Descriptor{}
	if err := yaml.UnmarshalStrict(data, d); err != nil {
		return nil, errors.Wrap(err, "failed to parse descriptor")
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the descriptor for missing or invalid fields.
func (d *Descriptor) Validate() error {
	fragments := make(map[string]struct{}, len(d.Fragments))
	for i := range d.Fragments {
		f := &d.Fragments[i]
		if f.ID == "" {
			return errors.Errorf("fragment #%d: missing id", i)
		}
		if _, ok := fragments[f.ID]; ok {
			return errors.Errorf("fragment %s: duplicate id", f.ID)
		}
		if f.Size <= 0 {
			return errors.Errorf("fragment %s: invalid size %d, > 0 expected", f.ID, f.Size)
		}
		if f.Reuse < 0 {
			return errors.Errorf("fragment %s: invalid reuse %d, >= 0 expected", f.ID, f.Reuse)
		}
		fragments[f.ID] = struct{}{}
	}

	nodes := make(map[string]struct{}, len(d.Nodes))
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.ID == "" {
			return errors.Errorf("node #%d: missing id", i)
		}
		if _, ok := nodes[n.ID]; ok {
			return errors.Errorf("node %s: duplicate id", n.ID)
		}
		if n.CapacityBudget <= 0 {
			return errors.Errorf("node %s: invalid capacity_budget %d, > 0 expected",
				n.ID, n.CapacityBudget)
		}
		if n.PredictedInterference < 0 {
			return errors.Errorf("node %s: invalid predicted_interference %f, >= 0 expected",
				n.ID, n.PredictedInterference)
		}
		nodes[n.ID] = struct{}{}
	}

	return nil
}

// Node returns the node with the given ID, if present.
func (d *Descriptor) Node(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Fragment returns the fragment with the given ID, if present.
func (d *Descriptor) Fragment(id string) (*Fragment, bool) {
	for i := range d.Fragments {
		if d.Fragments[i].ID == id {
			return &d.Fragments[i], true
		}
	}
	return nil, false
}

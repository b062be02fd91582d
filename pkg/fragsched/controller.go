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
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	logger "github.com/intel/fragsched/pkg/log"
)

// ControllerConfig contains the runtime parameters of the residency
// controller.
type ControllerConfig struct {
	// HotnessThreshold is the hotness below which an expired fragment is
	// eligible for eviction.
	HotnessThreshold float64
	// PromoteInterval is the number of epochs between promotion rounds.
	PromoteInterval int64
	// PromoteFanout is the number of hottest fragments promoted per round.
	PromoteFanout int
	// AccessBump is the hotness increment applied per access.
	AccessBump float64
	// AccessGrace is the number of epochs an access extends a fragment's
	// lease by.
	AccessGrace int64
	// InitialLease is the lease runway given to a fragment when it first
	// becomes known to the controller.
	InitialLease int64
}

// DefaultControllerConfig returns a ControllerConfig with default parameters.
func DefaultControllerConfig() *ControllerConfig {
	return &ControllerConfig{
		HotnessThreshold: 0.5,
		PromoteInterval:  5,
		PromoteFanout:    4,
		AccessBump:       0.01,
		AccessGrace:      2,
		InitialLease:     2,
	}
}

// migrationState tags the migration status of a fragment.
type migrationState int

const (
	// stateResident marks a fragment with no migration in flight.
	stateResident migrationState = iota
	// stateMigrating marks a fragment with exactly one migration in flight.
	stateMigrating
)

// fragmentStatus is the per-fragment migration status variant. Keeping the
// in-flight endpoints here, in a single map, is what lets us mechanically
// reject a second migration for a fragment that already has one pending.
type fragmentStatus struct {
	state migrationState
	from  string
	to    string
}

// migration is one requested fragment move.
type migration struct {
	fragment string
	from     string
	to       string
}

// MigrationFailure describes a migration that a Transport did not complete.
// Failed migrations are soft: the fragment keeps its old residency and
// remains a candidate for the same decision next epoch.
type MigrationFailure struct {
	FragmentID string
	SourceNode string
	DestNode   string
	Reason     error
}

// EpochReport summarizes what the controller did in one epoch.
type EpochReport struct {
	// Epoch is the epoch this report covers.
	Epoch int64
	// Accessed is the number of known fragments accessed this epoch.
	Accessed int
	// Promoted lists fragments migrated to the fast node this epoch.
	Promoted []string
	// Evicted lists fragments evicted to the fallback node this epoch.
	Evicted []string
	// Failures lists migrations the Transport failed to complete.
	Failures []MigrationFailure
}

// Controller is the online residency controller. It tracks per-fragment
// hotness and lease expiry across epochs and decides promotion, renewal
// and eviction. A Controller instance processes epochs strictly one at a
// time; migrations requested within one epoch phase are dispatched to the
// Transport concurrently, and the epoch does not complete until every one
// of them has reported success or failure.
type Controller struct {
	logger.Logger
	sync.Mutex
	config    *ControllerConfig
	planner   *Planner
	residency *ResidencyMap
	transport Transport
	fastNode  string
	fallback  string
	epoch     int64
	fragments map[string]*Fragment
	leases    map[string]int64
	hotness   map[string]float64
	status    map[string]fragmentStatus
}

// NewController creates a residency controller over the given residency
// map. The planner supplies the cost model for budget accounting, the fast
// node receives promoted fragments, and the fallback node receives
// evictions.
func NewController(config *ControllerConfig, planner *Planner, residency *ResidencyMap, transport Transport, fastNode, fallbackNode string) (*Controller, error) {
	if config == nil {
		config = DefaultControllerConfig()
	}
	if err := config.check(); err != nil {
		return nil, err
	}
	if planner == nil {
		planner = NewPlanner(nil)
	}
	if transport == nil {
		return nil, fragschedError("controller needs a transport")
	}
	nodes := residency.Nodes()
	if !containsString(nodes, fastNode) {
		return nil, fragschedError("unknown fast node %s", fastNode)
	}
	if !containsString(nodes, fallbackNode) {
		return nil, fragschedError("unknown fallback node %s", fallbackNode)
	}

	return &Controller{
		Logger:    logger.NewLogger("controller"),
		config:    config,
		planner:   planner,
		residency: residency,
		transport: transport,
		fastNode:  fastNode,
		fallback:  fallbackNode,
		fragments: make(map[string]*Fragment),
		leases:    make(map[string]int64),
		hotness:   make(map[string]float64),
		status:    make(map[string]fragmentStatus),
	}, nil
}

// check validates the configuration.
func (c *ControllerConfig) check() error {
	if c.PromoteInterval <= 0 {
		return fragschedError("invalid PromoteInterval: %d, > 0 expected", c.PromoteInterval)
	}
	if c.PromoteFanout < 0 {
		return fragschedError("invalid PromoteFanout: %d, >= 0 expected", c.PromoteFanout)
	}
	if c.AccessBump <= 0.0 {
		return fragschedError("invalid AccessBump: %f, > 0 expected", c.AccessBump)
	}
	if c.AccessGrace < 0 || c.InitialLease < 0 {
		return fragschedError("invalid lease runway (grace %d, initial %d), >= 0 expected",
			c.AccessGrace, c.InitialLease)
	}
	return nil
}

// SetConfigJson reconfigures the controller from a JSON string.
func (c *Controller) SetConfigJson(configJson string) error {
	c.Lock()
	defer c.Unlock()

	config := DefaultControllerConfig()
	if err := json.Unmarshal([]byte(configJson), config); err != nil {
		return fragschedError("failed to parse controller configuration: %v", err)
	}
	if err := config.check(); err != nil {
		return err
	}
	c.config = config

	return nil
}

// AddFragment makes a fragment known to the controller, recording its
// initial residency on the given node and creating its default lease and
// hotness records.
func (c *Controller) AddFragment(f Fragment, nodeID string) error {
	c.Lock()
	defer c.Unlock()

	if _, ok := c.fragments[f.ID]; ok {
		return fragschedError("fragment %s already known", f.ID)
	}
	if err := c.residency.Place(f.ID, nodeID, c.planner.Cost(&f)); err != nil {
		return err
	}

	frag := f
	c.fragments[f.ID] = &frag
	c.leases[f.ID] = c.epoch + c.config.InitialLease
	c.hotness[f.ID] = 0.0
	c.status[f.ID] = fragmentStatus{state: stateResident}

	return nil
}

// Epoch returns the last processed epoch.
func (c *Controller) Epoch() int64 {
	c.Lock()
	defer c.Unlock()
	return c.epoch
}

// Lease returns the lease expiry epoch of the given fragment.
func (c *Controller) Lease(fragmentID string) (int64, bool) {
	c.Lock()
	defer c.Unlock()
	expiry, ok := c.leases[fragmentID]
	return expiry, ok
}

// Hotness returns the hotness of the given fragment.
func (c *Controller) Hotness(fragmentID string) (float64, bool) {
	c.Lock()
	defer c.Unlock()
	hotness, ok := c.hotness[fragmentID]
	return hotness, ok
}

// Step advances the epoch by one and runs the per-epoch protocol: apply
// the epoch's accesses, promote the hottest fragments to the fast node on
// promotion rounds, then evict expired cold fragments to the fallback
// node. Transport failures do not fail the epoch; they are collected into
// the returned error and the affected fragments keep their old residency.
// The returned report describes everything the epoch did. An
// InvariantError return means internal state is corrupt and the controller
// should not be stepped further.
func (c *Controller) Step(ctx context.Context, accessed []string) (*EpochReport, error) {
	c.Lock()
	defer c.Unlock()

	c.epoch++
	epoch := c.epoch
	report := &EpochReport{Epoch: epoch, Promoted: []string{}, Evicted: []string{}}

	// Access phase: accesses raise hotness and refresh leases, never
	// lower either.
	for _, id := range accessed {
		if _, ok := c.fragments[id]; !ok {
			c.Warn("epoch %d: access to unknown fragment %s ignored", epoch, id)
			continue
		}
		c.hotness[id] += c.config.AccessBump
		if expiry := epoch + c.config.AccessGrace; expiry > c.leases[id] {
			c.leases[id] = expiry
		}
		report.Accessed++
	}

	var softFailures *multierror.Error

	// Promotion phase.
	if epoch%c.config.PromoteInterval == 0 && len(c.residency.Nodes()) > 1 {
		promoted, failures, err := c.runMigrations(ctx, c.promotionCandidates(epoch))
		if err != nil {
			return report, err
		}
		for _, m := range promoted {
			report.Promoted = append(report.Promoted, m.fragment)
			stats.promotion()
		}
		for _, f := range failures {
			report.Failures = append(report.Failures, f)
			softFailures = multierror.Append(softFailures, f.Reason)
		}
	}

	// Eviction phase. Eviction is pressure release, not deletion: an
	// evicted fragment stays in the residency map and gets a one-epoch
	// lease so it can earn its way back.
	evicted, failures, err := c.runMigrations(ctx, c.evictionCandidates(epoch))
	if err != nil {
		return report, err
	}
	for _, m := range evicted {
		c.leases[m.fragment] = epoch + 1
		report.Evicted = append(report.Evicted, m.fragment)
		stats.eviction()
	}
	for _, f := range failures {
		report.Failures = append(report.Failures, f)
		softFailures = multierror.Append(softFailures, f.Reason)
	}

	stats.epoch()

	if len(report.Promoted) > 0 || len(report.Evicted) > 0 || len(report.Failures) > 0 {
		c.Info("epoch %d: %d accessed, %d promoted, %d evicted, %d failed",
			epoch, report.Accessed, len(report.Promoted), len(report.Evicted),
			len(report.Failures))
	}

	return report, softFailures.ErrorOrNil()
}

// promotionCandidates selects migrations of the hottest fragments to the
// fast node.
func (c *Controller) promotionCandidates(epoch int64) []migration {
	requests := []migration{}
	reserved := 0.0
	for _, id := range c.hottest(c.config.PromoteFanout) {
		node, ok := c.residency.NodeOf(id)
		if !ok || node == c.fastNode {
			continue
		}
		cost := c.planner.Cost(c.fragments[id])
		if !c.residency.CanHost(c.fastNode, reserved+cost) {
			c.Debug("epoch %d: no budget on %s to promote fragment %s", epoch, c.fastNode, id)
			continue
		}
		reserved += cost
		requests = append(requests, migration{fragment: id, from: node, to: c.fastNode})
	}
	return requests
}

// evictionCandidates selects migrations of expired cold fragments to the
// fallback node.
func (c *Controller) evictionCandidates(epoch int64) []migration {
	requests := []migration{}
	reserved := 0.0
	for _, id := range c.fragmentIDs() {
		if c.leases[id] > epoch || c.hotness[id] >= c.config.HotnessThreshold {
			continue
		}
		node, ok := c.residency.NodeOf(id)
		if !ok {
			continue
		}
		if node == c.fallback {
			// Already home: a same-node migration is a zero-cost no-op
			// that never reaches the Transport, but the eviction still
			// counts.
			requests = append(requests, migration{fragment: id, from: node, to: node})
			continue
		}
		cost := c.planner.Cost(c.fragments[id])
		if !c.residency.CanHost(c.fallback, reserved+cost) {
			c.Warn("epoch %d: no budget on fallback %s to evict fragment %s", epoch, c.fallback, id)
			continue
		}
		reserved += cost
		requests = append(requests, migration{fragment: id, from: node, to: c.fallback})
	}
	return requests
}

// hottest returns the k hottest fragment IDs, hottest first, ties broken
// by ascending fragment ID.
func (c *Controller) hottest(k int) []string {
	ids := c.fragmentIDs()
	sort.SliceStable(ids, func(i, j int) bool {
		hi, hj := c.hotness[ids[i]], c.hotness[ids[j]]
		if hi != hj {
			return hi > hj
		}
		return ids[i] < ids[j]
	})
	if k < len(ids) {
		ids = ids[:k]
	}
	return ids
}

// fragmentIDs returns all known fragment IDs in ascending order.
func (c *Controller) fragmentIDs() []string {
	ids := make([]string, 0, len(c.fragments))
	for id := range c.fragments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// migrationOutcome is the resolution of one dispatched migration.
type migrationOutcome struct {
	migration
	result MigrationResult
	err    error
}

// runMigrations dispatches the given migrations concurrently to the
// Transport and waits for all of them to resolve, committing successful
// ones to the residency map in completion order. Same-node migrations
// succeed immediately without touching the Transport. The returned error
// is nil unless an invariant was violated; per-migration Transport
// failures come back in the failure list instead.
func (c *Controller) runMigrations(ctx context.Context, requests []migration) ([]migration, []MigrationFailure, error) {
	committed := []migration{}
	failures := []MigrationFailure{}
	if len(requests) == 0 {
		return committed, failures, nil
	}

	outcomes := make(chan migrationOutcome, len(requests))
	inflight := 0
	var wg sync.WaitGroup

	for _, m := range requests {
		if m.from == m.to {
			committed = append(committed, m)
			continue
		}
		if err := c.beginMigration(m); err != nil {
			wg.Wait()
			return committed, failures, err
		}
		stats.migrationRequested()
		inflight++
		wg.Add(1)
		go func(m migration) {
			defer wg.Done()
			result, err := c.transport.Migrate(ctx, m.fragment, m.from, m.to)
			outcomes <- migrationOutcome{migration: m, result: result, err: err}
		}(m)
	}

	// Single-writer collection: residency commits are serialized here, in
	// whatever order migrations complete.
	for ; inflight > 0; inflight-- {
		o := <-outcomes
		c.status[o.fragment] = fragmentStatus{state: stateResident}
		if o.err != nil {
			stats.migrationFailed()
			c.Warn("migration of fragment %s from %s to %s failed: %v",
				o.fragment, o.from, o.to, o.err)
			failures = append(failures, MigrationFailure{
				FragmentID: o.fragment,
				SourceNode: o.from,
				DestNode:   o.to,
				Reason: errors.Wrapf(o.err, "fragment %s migration %s -> %s",
					o.fragment, o.from, o.to),
			})
			continue
		}
		if err := c.residency.Commit(o.fragment, o.to); err != nil {
			if IsInvariantError(err) {
				wg.Wait()
				return committed, failures, err
			}
			stats.migrationFailed()
			failures = append(failures, MigrationFailure{
				FragmentID: o.fragment,
				SourceNode: o.from,
				DestNode:   o.to,
				Reason:     err,
			})
			continue
		}
		stats.migrationCommitted(c.fragments[o.fragment].Size, o.result.Latency)
		c.Debug("fragment %s migrated %s -> %s in %s", o.fragment, o.from, o.to, o.result.Latency)
		committed = append(committed, o.migration)
	}
	wg.Wait()

	return committed, failures, nil
}

// beginMigration marks a migration in flight for the fragment, refusing a
// second concurrent one.
func (c *Controller) beginMigration(m migration) error {
	if s := c.status[m.fragment]; s.state == stateMigrating {
		return invariantError("fragment %s already migrating %s -> %s, can't start %s -> %s",
			m.fragment, s.from, s.to, m.from, m.to)
	}
	c.status[m.fragment] = fragmentStatus{state: stateMigrating, from: m.from, to: m.to}
	return nil
}

// containsString checks a string slice for the given value.
func containsString(slice []string, value string) bool {
	for _, s := range slice {
		if s == value {
			return true
		}
	}
	return false
}

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
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeTransport records migration requests and can inject delays and
// per-fragment failures.
type fakeTransport struct {
	sync.Mutex
	delay       time.Duration
	fail        map[string]error
	calls       []migration
	inflight    int
	maxInflight int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fail: map[string]error{}}
}

func (t *fakeTransport) Migrate(ctx context.Context, fragmentID, sourceNode, destNode string) (MigrationResult, error) {
	t.Lock()
	t.calls = append(t.calls, migration{fragment: fragmentID, from: sourceNode, to: destNode})
	t.inflight++
	if t.inflight > t.maxInflight {
		t.maxInflight = t.inflight
	}
	delay, err := t.delay, t.fail[fragmentID]
	t.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	t.Lock()
	t.inflight--
	t.Unlock()

	if err != nil {
		return MigrationResult{}, err
	}
	return MigrationResult{Latency: delay}, nil
}

func (t *fakeTransport) callCount() int {
	t.Lock()
	defer t.Unlock()
	return len(t.calls)
}

func (t *fakeTransport) callsTo(nodeID string) []string {
	t.Lock()
	defer t.Unlock()
	fragments := []string{}
	for _, c := range t.calls {
		if c.to == nodeID {
			fragments = append(fragments, c.fragment)
		}
	}
	sort.Strings(fragments)
	return fragments
}

// newTestController builds a controller over node0 (fallback) and node1
// (fast), with the given fragments placed on the given nodes.
func newTestController(t *testing.T, transport Transport, placement map[string]string) *Controller {
	t.Helper()

	nodes := []Node{
		{ID: "node0", CapacityBudget: 1 << 30},
		{ID: "node1", CapacityBudget: 1 << 30},
	}
	c, err := NewController(nil, NewPlanner(nil), NewResidencyMap(nodes), transport,
		"node1", "node0")
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}

	ids := make([]string, 0, len(placement))
	for id := range placement {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f := Fragment{ID: id, Size: 4096, Importance: 0.5, Reuse: 1}
		if err := c.AddFragment(f, placement[id]); err != nil {
			t.Fatalf("failed to add fragment %s: %v", id, err)
		}
	}

	return c
}

func TestAccessRaisesHotnessAndLease(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, map[string]string{"f": "node0"})

	c.epoch = 9
	c.leases["f"] = 9
	c.hotness["f"] = 0.25

	report, err := c.Step(context.Background(), []string{"f"})
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}

	if report.Epoch != 10 {
		t.Errorf("expected epoch 10, got %d", report.Epoch)
	}
	if report.Accessed != 1 {
		t.Errorf("expected 1 access, got %d", report.Accessed)
	}
	if expiry, _ := c.Lease("f"); expiry != 12 {
		t.Errorf("expected lease extended to 12, got %d", expiry)
	}
	if hotness, _ := c.Hotness("f"); math.Abs(hotness-0.26) > 1e-9 {
		t.Errorf("expected hotness 0.26, got %f", hotness)
	}
}

func TestAccessNeverShortensLease(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, map[string]string{"f": "node0"})

	c.epoch = 2
	c.leases["f"] = 40

	if _, err := c.Step(context.Background(), []string{"f"}); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if expiry, _ := c.Lease("f"); expiry != 40 {
		t.Errorf("expected lease to stay at 40, got %d", expiry)
	}
}

func TestEvictionOfExpiredColdFragment(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, map[string]string{"f": "node1"})

	c.epoch = 5
	c.leases["f"] = 5
	c.hotness["f"] = 0.3

	report, err := c.Step(context.Background(), nil)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}

	if diff := cmp.Diff([]string{"f"}, report.Evicted); diff != "" {
		t.Errorf("unexpected evicted set (-want +got):\n%s", diff)
	}
	if node, _ := c.residency.NodeOf("f"); node != "node0" {
		t.Errorf("expected f evicted to node0, got %q", node)
	}
	// eviction grants a one-epoch grace lease; the fragment stays known
	if expiry, _ := c.Lease("f"); expiry != 7 {
		t.Errorf("expected grace lease until 7, got %d", expiry)
	}
	if transport.callCount() != 1 {
		t.Errorf("expected 1 transport call, got %d", transport.callCount())
	}
}

func TestHotFragmentSurvivesLeaseExpiry(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, map[string]string{"f": "node1"})

	c.epoch = 5
	c.leases["f"] = 5
	c.hotness["f"] = 0.7

	report, err := c.Step(context.Background(), nil)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}

	if len(report.Evicted) != 0 {
		t.Errorf("expected no evictions, got %v", report.Evicted)
	}
	if node, _ := c.residency.NodeOf("f"); node != "node1" {
		t.Errorf("expected f to stay on node1, got %q", node)
	}
	if transport.callCount() != 0 {
		t.Errorf("expected no transport calls, got %d", transport.callCount())
	}
}

func TestEvictionOnFallbackIsNoop(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, map[string]string{"f": "node0"})

	c.epoch = 7
	c.leases["f"] = 3
	c.hotness["f"] = 0.0

	report, err := c.Step(context.Background(), nil)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}

	if diff := cmp.Diff([]string{"f"}, report.Evicted); diff != "" {
		t.Errorf("unexpected evicted set (-want +got):\n%s", diff)
	}
	if expiry, _ := c.Lease("f"); expiry != 9 {
		t.Errorf("expected grace lease until 9, got %d", expiry)
	}
	if transport.callCount() != 0 {
		t.Errorf("same-node eviction must not reach the transport, got %d calls",
			transport.callCount())
	}
}

func TestPromotionOfHottestFragments(t *testing.T) {
	transport := newFakeTransport()
	placement := map[string]string{}
	for i := 1; i <= 6; i++ {
		placement[fmt.Sprintf("f%d", i)] = "node0"
	}
	c := newTestController(t, transport, placement)

	c.epoch = 4
	for i := 1; i <= 6; i++ {
		id := fmt.Sprintf("f%d", i)
		c.leases[id] = 100
		c.hotness[id] = 0.7 - float64(i)*0.1
	}

	report, err := c.Step(context.Background(), nil)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}

	expected := []string{"f1", "f2", "f3", "f4"}
	if diff := cmp.Diff(expected, transport.callsTo("node1")); diff != "" {
		t.Errorf("unexpected promotions (-want +got):\n%s", diff)
	}
	promoted := append([]string{}, report.Promoted...)
	sort.Strings(promoted)
	if diff := cmp.Diff(expected, promoted); diff != "" {
		t.Errorf("unexpected promoted report (-want +got):\n%s", diff)
	}
	for _, id := range []string{"f5", "f6"} {
		if node, _ := c.residency.NodeOf(id); node != "node0" {
			t.Errorf("expected %s untouched on node0, got %q", id, node)
		}
	}
}

func TestPromotionSkipsFastResidents(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, map[string]string{
		"f1": "node1",
		"f2": "node0",
	})

	c.epoch = 4
	c.leases["f1"], c.leases["f2"] = 100, 100
	c.hotness["f1"], c.hotness["f2"] = 0.9, 0.8

	report, err := c.Step(context.Background(), nil)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}

	if diff := cmp.Diff([]string{"f2"}, report.Promoted); diff != "" {
		t.Errorf("unexpected promoted set (-want +got):\n%s", diff)
	}
	if transport.callCount() != 1 {
		t.Errorf("expected 1 transport call, got %d", transport.callCount())
	}
}

func TestPromotionTieBreakByID(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, map[string]string{
		"f1": "node0", "f2": "node0", "f3": "node0",
	})

	c.epoch = 4
	for _, id := range []string{"f1", "f2", "f3"} {
		c.leases[id] = 100
		c.hotness[id] = 0.5
	}
	c.config.PromoteFanout = 2

	if _, err := c.Step(context.Background(), nil); err != nil {
		t.Fatalf("step failed: %v", err)
	}

	if diff := cmp.Diff([]string{"f1", "f2"}, transport.callsTo("node1")); diff != "" {
		t.Errorf("unexpected promotions (-want +got):\n%s", diff)
	}
}

func TestTransportFailureLeavesResidencyAndRetries(t *testing.T) {
	transport := newFakeTransport()
	c := newTestController(t, transport, map[string]string{"f": "node1"})

	c.epoch = 5
	c.leases["f"] = 5
	c.hotness["f"] = 0.1
	transport.fail["f"] = fmt.Errorf("link down")

	report, err := c.Step(context.Background(), nil)
	if err == nil {
		t.Fatalf("expected the failure to be reported")
	}
	if IsInvariantError(err) {
		t.Fatalf("transport failure must not be an invariant violation: %v", err)
	}
	if len(report.Failures) != 1 || report.Failures[0].FragmentID != "f" {
		t.Fatalf("expected one recorded failure for f, got %+v", report.Failures)
	}
	if node, _ := c.residency.NodeOf("f"); node != "node1" {
		t.Errorf("failed migration must not move f, got %q", node)
	}
	if len(report.Evicted) != 0 {
		t.Errorf("failed eviction must not be reported evicted: %v", report.Evicted)
	}
	if expiry, _ := c.Lease("f"); expiry != 5 {
		t.Errorf("failed eviction must not touch the lease, got %d", expiry)
	}

	// same decision must be retried and succeed next epoch
	transport.Lock()
	delete(transport.fail, "f")
	transport.Unlock()

	report, err = c.Step(context.Background(), nil)
	if err != nil {
		t.Fatalf("retry step failed: %v", err)
	}
	if diff := cmp.Diff([]string{"f"}, report.Evicted); diff != "" {
		t.Errorf("unexpected evicted set on retry (-want +got):\n%s", diff)
	}
	if node, _ := c.residency.NodeOf("f"); node != "node0" {
		t.Errorf("expected f on node0 after retry, got %q", node)
	}
}

func TestMigrationsDispatchConcurrently(t *testing.T) {
	transport := newFakeTransport()
	transport.delay = 30 * time.Millisecond
	placement := map[string]string{}
	for i := 1; i <= 4; i++ {
		placement[fmt.Sprintf("f%d", i)] = "node1"
	}
	c := newTestController(t, transport, placement)

	c.epoch = 9
	for id := range placement {
		c.leases[id] = 5
		c.hotness[id] = 0.0
	}

	report, err := c.Step(context.Background(), nil)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if len(report.Evicted) != 4 {
		t.Fatalf("expected 4 evictions, got %d", len(report.Evicted))
	}
	if transport.maxInflight < 2 {
		t.Errorf("expected concurrent migration dispatch, max in flight was %d",
			transport.maxInflight)
	}
}

func TestSecondMigrationForFragmentRefused(t *testing.T) {
	c := newTestController(t, newFakeTransport(), map[string]string{"f": "node0"})

	if err := c.beginMigration(migration{fragment: "f", from: "node0", to: "node1"}); err != nil {
		t.Fatalf("first migration refused: %v", err)
	}
	err := c.beginMigration(migration{fragment: "f", from: "node0", to: "node1"})
	if err == nil {
		t.Fatalf("expected second in-flight migration to be refused")
	}
	if !IsInvariantError(err) {
		t.Errorf("expected an invariant violation, got: %v", err)
	}
}

func TestUnknownAccessIgnored(t *testing.T) {
	c := newTestController(t, newFakeTransport(), map[string]string{"f": "node0"})

	report, err := c.Step(context.Background(), []string{"bogus"})
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if report.Accessed != 0 {
		t.Errorf("expected unknown access to be ignored, got %d", report.Accessed)
	}
}

func TestEpochAdvancesByOne(t *testing.T) {
	c := newTestController(t, newFakeTransport(), map[string]string{"f": "node0"})

	for i := int64(1); i <= 3; i++ {
		report, err := c.Step(context.Background(), nil)
		if err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
		if report.Epoch != i {
			t.Errorf("expected epoch %d, got %d", i, report.Epoch)
		}
	}
	if c.Epoch() != 3 {
		t.Errorf("expected epoch 3, got %d", c.Epoch())
	}
}

func TestPromotionSkippedWithoutBudget(t *testing.T) {
	transport := newFakeTransport()
	nodes := []Node{
		{ID: "node0", CapacityBudget: 1 << 30},
		{ID: "node1", CapacityBudget: 100}, // too small for any fragment
	}
	c, err := NewController(nil, NewPlanner(nil), NewResidencyMap(nodes), transport,
		"node1", "node0")
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	if err := c.AddFragment(Fragment{ID: "f", Size: 4096, Reuse: 1}, "node0"); err != nil {
		t.Fatalf("failed to add fragment: %v", err)
	}

	c.epoch = 4
	c.leases["f"] = 100
	c.hotness["f"] = 0.9

	report, err := c.Step(context.Background(), nil)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if len(report.Promoted) != 0 || transport.callCount() != 0 {
		t.Errorf("expected promotion to be skipped, got %v (%d calls)",
			report.Promoted, transport.callCount())
	}
}

func TestAddFragment(t *testing.T) {
	c := newTestController(t, newFakeTransport(), map[string]string{"f": "node0"})

	if expiry, ok := c.Lease("f"); !ok || expiry != 2 {
		t.Errorf("expected default lease until 2, got %d (ok %v)", expiry, ok)
	}
	if hotness, ok := c.Hotness("f"); !ok || hotness != 0.0 {
		t.Errorf("expected default hotness 0, got %f (ok %v)", hotness, ok)
	}

	if err := c.AddFragment(Fragment{ID: "f", Size: 1}, "node0"); err == nil {
		t.Errorf("expected duplicate fragment to be refused")
	}
	if err := c.AddFragment(Fragment{ID: "g", Size: 1}, "node9"); err == nil {
		t.Errorf("expected unknown node to be refused")
	}
}

func TestControllerConfig(t *testing.T) {
	c := newTestController(t, newFakeTransport(), map[string]string{"f": "node0"})

	if err := c.SetConfigJson(`{"PromoteInterval": 0}`); err == nil {
		t.Errorf("expected invalid PromoteInterval to be rejected")
	}
	if err := c.SetConfigJson(`{"HotnessThreshold": 0.9, "PromoteFanout": 2}`); err != nil {
		t.Fatalf("failed to set configuration: %v", err)
	}
	if c.config.HotnessThreshold != 0.9 || c.config.PromoteFanout != 2 {
		t.Errorf("configuration not applied: %+v", c.config)
	}
	// unset fields fall back to defaults
	if c.config.AccessGrace != 2 {
		t.Errorf("expected default AccessGrace 2, got %d", c.config.AccessGrace)
	}
}

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

package pmengine

import (
	"context"
	"testing"
	"time"
)

// idleEngine builds an engine with no worker running, so the pending
// queue can be inspected without racing against execution.
func idleEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		config: config,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
}

func sizeTable(sizes map[string]int64) SizeResolver {
	return func(fragmentID string) (int64, bool) {
		size, ok := sizes[fragmentID]
		return size, ok
	}
}

func TestEnqueueOrdersByPriority(t *testing.T) {
	tcases := []struct {
		name       string
		priorities []int
		expected   []string
	}{
		{
			name:       "fifo within equal priority",
			priorities: []int{1, 1, 1},
			expected:   []string{"f0", "f1", "f2"},
		},
		{
			name:       "lower priority first",
			priorities: []int{2, 0, 1},
			expected:   []string{"f1", "f2", "f0"},
		},
		{
			name:       "urgent request jumps the queue",
			priorities: []int{5, 5, 0},
			expected:   []string{"f2", "f0", "f1"},
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			e := idleEngine(nil)
			for i, prio := range tc.priorities {
				e.enqueue(&TransferRequest{
					Fragment: "f" + string(rune('0'+i)),
					Priority: prio,
				})
			}
			for _, id := range tc.expected {
				req := e.pop()
				if req == nil {
					t.Fatalf("queue ran out, expected %s", id)
				}
				if req.Fragment != id {
					t.Errorf("expected %s, popped %s", id, req.Fragment)
				}
			}
			if req := e.pop(); req != nil {
				t.Errorf("expected empty queue, popped %s", req.Fragment)
			}
		})
	}
}

func TestSubmitQueueCap(t *testing.T) {
	e := idleEngine(&Config{BaseLatency: time.Millisecond, BandwidthMBps: 1, QueueCap: 1})

	if _, err := e.Submit(&TransferRequest{Fragment: "f1"}); err != nil {
		t.Fatalf("first submission failed: %v", err)
	}
	if _, err := e.Submit(&TransferRequest{Fragment: "f2"}); err == nil {
		t.Errorf("expected submission over queue capacity to fail")
	}
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	e := idleEngine(nil)

	if _, err := e.Submit(nil); err == nil {
		t.Errorf("expected nil request to be rejected")
	}
	if _, err := e.Submit(&TransferRequest{Fragment: "f", Size: -1}); err == nil {
		t.Errorf("expected negative size to be rejected")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	e, err := NewEngine(nil, sizeTable(nil))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	e.Stop()
	if _, err := e.Submit(&TransferRequest{Fragment: "f"}); err == nil {
		t.Errorf("expected submission to a stopped engine to fail")
	}
}

func TestSubmitWithContextAbandonsWait(t *testing.T) {
	e := idleEngine(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.SubmitWithContext(ctx, &TransferRequest{Fragment: "f", Source: "a", Dest: "b"})
	if err == nil {
		t.Fatalf("expected an abandoned wait error")
	}
}

func TestMigrateSameNode(t *testing.T) {
	e, err := NewEngine(nil, sizeTable(map[string]int64{"f": 4096}))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer e.Stop()

	result, err := e.Migrate(context.Background(), "f", "node0", "node0")
	if err != nil {
		t.Fatalf("same-node migration failed: %v", err)
	}
	if result.Latency != 0 {
		t.Errorf("expected zero latency, got %s", result.Latency)
	}
	if stats := e.GetStatistics(); stats.Completed != 0 {
		t.Errorf("same-node migration must not count as a transfer, got %d", stats.Completed)
	}
}

func TestMigrateUnknownFragment(t *testing.T) {
	e, err := NewEngine(nil, sizeTable(nil))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer e.Stop()

	if _, err := e.Migrate(context.Background(), "bogus", "node0", "node1"); err == nil {
		t.Errorf("expected migration of an unknown fragment to fail")
	}
}

func TestMigrateRoundTrip(t *testing.T) {
	config := &Config{BaseLatency: time.Millisecond, BandwidthMBps: 1024}
	e, err := NewEngine(config, sizeTable(map[string]int64{"f": 8192}))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer e.Stop()

	result, err := e.Migrate(context.Background(), "f", "node1", "node0")
	if err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	if result.Latency < config.BaseLatency {
		t.Errorf("expected latency >= %s, got %s", config.BaseLatency, result.Latency)
	}

	stats := e.GetStatistics()
	if stats.Completed != 1 {
		t.Errorf("expected 1 completed transfer, got %d", stats.Completed)
	}
	if stats.BytesMoved != 8192 {
		t.Errorf("expected 8192 bytes moved, got %d", stats.BytesMoved)
	}
	if stats.TransferTime < config.BaseLatency {
		t.Errorf("expected transfer time >= %s, got %s", config.BaseLatency, stats.TransferTime)
	}
}

func TestStopFailsPendingTransfers(t *testing.T) {
	e := idleEngine(nil)

	done, err := e.Submit(&TransferRequest{Fragment: "f", Source: "a", Dest: "b", Size: 4096})
	if err != nil {
		t.Fatalf("submission failed: %v", err)
	}
	e.failPending()

	select {
	case err := <-done:
		if err == nil {
			t.Errorf("expected pending transfer to fail at engine stop")
		}
	default:
		t.Fatalf("pending transfer not resolved at engine stop")
	}
	if stats := e.GetStatistics(); stats.Failed != 1 {
		t.Errorf("expected 1 failed transfer, got %d", stats.Failed)
	}
}

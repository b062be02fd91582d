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

// Package pmengine is a prioritized in-process fragment transfer engine.
// It models a dedicated low-latency transfer engine that executes
// requests in priority order and reports per-transfer latency, pacing its
// aggregate throughput against a configured bandwidth. It implements the
// fragsched Transport interface.
package pmengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/intel/fragsched/pkg/fragsched"
	logger "github.com/intel/fragsched/pkg/log"
)

// Config contains the transfer engine parameters.
type Config struct {
	// BaseLatency is the fixed setup latency per transfer.
	BaseLatency time.Duration
	// BandwidthMBps is the modelled link bandwidth in MB/s. Transfers
	// are paced so the aggregate throughput stays within it.
	BandwidthMBps int
	// QueueCap bounds the number of pending transfers, 0 for unbounded.
	QueueCap int
}

// DefaultConfig returns a Config with default parameters.
func DefaultConfig() *Config {
	return &Config{
		BaseLatency:   2 * time.Millisecond,
		BandwidthMBps: 1024,
	}
}

// SizeResolver maps a fragment ID to its payload size in bytes.
type SizeResolver func(fragmentID string) (int64, bool)

// TransferRequest describes one prioritized fragment transfer. Lower
// Priority values run first; requests of equal priority run in submission
// order.
type TransferRequest struct {
	// Fragment is the ID of the fragment to move.
	Fragment string
	// Source is the node the fragment currently lives on.
	Source string
	// Dest is the node to move the fragment to.
	Dest string
	// Size is the payload size in bytes.
	Size int64
	// Priority orders the request in the pending queue, lower first.
	Priority int

	latency time.Duration
	done    chan error
}

// Statistics are cumulative transfer engine counters.
type Statistics struct {
	// Completed is the number of completed transfers.
	Completed uint64
	// Failed is the number of failed or abandoned transfers.
	Failed uint64
	// BytesMoved is the total completed transfer payload.
	BytesMoved uint64
	// TransferTime is the cumulative latency of completed transfers.
	TransferTime time.Duration
}

// Engine executes prioritized fragment transfers with a single worker,
// draining its pending queue in priority order.
type Engine struct {
	logger.Logger
	mutex   sync.Mutex
	config  *Config
	sizeOf  SizeResolver
	pending []*TransferRequest
	wake    chan struct{}
	quit    chan struct{}
	stopped bool
	limiter *rate.Limiter
	burstKB int
	stats   Statistics
}

// NewEngine creates a transfer engine and starts its worker.
func NewEngine(config *Config, sizeOf SizeResolver) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BandwidthMBps <= 0 {
		return nil, pmengineError("invalid BandwidthMBps: %d, > 0 expected", config.BandwidthMBps)
	}
	if sizeOf == nil {
		return nil, pmengineError("engine needs a fragment size resolver")
	}

	// one second worth of bandwidth, in KB, is the pacing burst
	burstKB := config.BandwidthMBps * 1024
	e := &Engine{
		Logger:  logger.NewLogger("pmengine"),
		config:  config,
		sizeOf:  sizeOf,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(burstKB), burstKB),
		burstKB: burstKB,
	}
	go e.worker()

	return e, nil
}

// Stop stops the engine worker, failing all pending transfers.
func (e *Engine) Stop() {
	e.mutex.Lock()
	if e.stopped {
		e.mutex.Unlock()
		return
	}
	e.stopped = true
	e.mutex.Unlock()
	close(e.quit)
}

// Submit enqueues a transfer request. The returned channel delivers the
// transfer outcome once the worker has executed it.
func (e *Engine) Submit(req *TransferRequest) (<-chan error, error) {
	if req == nil {
		return nil, pmengineError("nil transfer request")
	}
	if req.Size < 0 {
		return nil, pmengineError("transfer of fragment %s has negative size %d",
			req.Fragment, req.Size)
	}

	e.mutex.Lock()
	if e.stopped {
		e.mutex.Unlock()
		return nil, pmengineError("engine is stopped")
	}
	if e.config.QueueCap > 0 && len(e.pending) >= e.config.QueueCap {
		e.mutex.Unlock()
		return nil, pmengineError("transfer queue full (%d pending)", len(e.pending))
	}
	req.done = make(chan error, 1)
	e.enqueue(req)
	e.mutex.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}

	return req.done, nil
}

// SubmitWithContext enqueues a transfer and waits for it to complete or
// for the context to be cancelled. On cancellation the wait is abandoned;
// the transfer itself still runs to completion and is accounted in the
// engine statistics.
func (e *Engine) SubmitWithContext(ctx context.Context, req *TransferRequest) error {
	done, err := e.Submit(req)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "transfer of fragment %s %s -> %s abandoned",
			req.Fragment, req.Source, req.Dest)
	}
}

// Migrate implements the fragsched Transport interface.
func (e *Engine) Migrate(ctx context.Context, fragmentID, sourceNode, destNode string) (fragsched.MigrationResult, error) {
	if sourceNode == destNode {
		return fragsched.MigrationResult{}, nil
	}
	size, ok := e.sizeOf(fragmentID)
	if !ok {
		return fragsched.MigrationResult{}, pmengineError("unknown fragment %s", fragmentID)
	}

	req := &TransferRequest{
		Fragment: fragmentID,
		Source:   sourceNode,
		Dest:     destNode,
		Size:     size,
	}
	if err := e.SubmitWithContext(ctx, req); err != nil {
		return fragsched.MigrationResult{}, err
	}

	return fragsched.MigrationResult{Latency: req.latency}, nil
}

// GetStatistics returns a copy of the engine statistics.
func (e *Engine) GetStatistics() Statistics {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.stats
}

// enqueue inserts the request into the pending queue, keeping the queue
// ordered by priority and submission order. Pending queues are expected
// to stay short, so a linear insertion is good enough.
func (e *Engine) enqueue(req *TransferRequest) {
	e.pending = append(e.pending, req)
	for i := len(e.pending) - 1; i > 0; i-- {
		if e.pending[i-1].Priority <= e.pending[i].Priority {
			break
		}
		e.pending[i-1], e.pending[i] = e.pending[i], e.pending[i-1]
	}
}

// pop removes and returns the highest priority pending request.
func (e *Engine) pop() *TransferRequest {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if len(e.pending) == 0 {
		return nil
	}
	req := e.pending[0]
	e.pending = e.pending[1:]

	return req
}

// worker is the engine main loop, executing pending transfers one at a
// time in priority order.
func (e *Engine) worker() {
	for {
		select {
		case <-e.quit:
			e.failPending()
			return
		case <-e.wake:
		}
		for {
			req := e.pop()
			if req == nil {
				break
			}
			e.execute(req)
		}
	}
}

// execute performs one transfer against the bandwidth model.
func (e *Engine) execute(req *TransferRequest) {
	start := time.Now()

	kb := int(req.Size/1024) + 1
	if kb > e.burstKB {
		kb = e.burstKB
	}
	if err := e.limiter.WaitN(context.Background(), kb); err != nil {
		e.fail(req, err)
		return
	}
	time.Sleep(e.config.BaseLatency)

	req.latency = time.Since(start)

	e.mutex.Lock()
	e.stats.Completed++
	e.stats.BytesMoved += uint64(req.Size)
	e.stats.TransferTime += req.latency
	e.mutex.Unlock()

	req.done <- nil
}

// fail reports a transfer as failed.
func (e *Engine) fail(req *TransferRequest, err error) {
	e.mutex.Lock()
	e.stats.Failed++
	e.mutex.Unlock()

	e.Warn("transfer of fragment %s %s -> %s failed: %v",
		req.Fragment, req.Source, req.Dest, err)
	req.done <- pmengineError("transfer of fragment %s failed: %v", req.Fragment, err)
}

// failPending fails all still pending transfers, at engine stop.
func (e *Engine) failPending() {
	e.mutex.Lock()
	pending := e.pending
	e.pending = nil
	e.mutex.Unlock()

	for _, req := range pending {
		e.mutex.Lock()
		e.stats.Failed++
		e.mutex.Unlock()
		req.done <- pmengineError("engine stopped, transfer of fragment %s dropped", req.Fragment)
	}
}

// pmengineError produces a formatted package-specific error.
func pmengineError(format string, args ...interface{}) error {
	return fmt.Errorf("pmengine: "+format, args...)
}

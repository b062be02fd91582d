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
	"time"

	"github.com/pkg/errors"
)

// MigrationResult describes a completed fragment transfer.
type MigrationResult struct {
	// Latency is the time the transfer took.
	Latency time.Duration
}

// Transport performs the physical move of a fragment between two nodes.
// The core only ever calls Migrate with distinct source and destination
// nodes; implementations must nevertheless treat a same-node migration as
// an immediate zero-cost success. Migrate may block; it must honor
// cancellation of the passed context by returning an error, though the
// underlying transfer itself need not be cancellable.
type Transport interface {
	Migrate(ctx context.Context, fragmentID, sourceNode, destNode string) (MigrationResult, error)
}

// timeoutTransport converts a non-responding migration into a failure
// after a bounded wait. The underlying transfer is not cancelled; it is
// abandoned and its eventual outcome ignored.
type timeoutTransport struct {
	transport Transport
	timeout   time.Duration
}

// NewTimeoutTransport wraps a Transport with a per-migration timeout.
func NewTimeoutTransport(transport Transport, timeout time.Duration) Transport {
	if timeout <= 0 {
		return transport
	}
	return &timeoutTransport{transport: transport, timeout: timeout}
}

// Migrate implements the Transport interface.
func (t *timeoutTransport) Migrate(ctx context.Context, fragmentID, sourceNode, destNode string) (MigrationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type outcome struct {
		result MigrationResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := t.transport.Migrate(ctx, fragmentID, sourceNode, destNode)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return MigrationResult{}, errors.Wrapf(ctx.Err(),
			"migration of fragment %s from %s to %s timed out after %s",
			fragmentID, sourceNode, destNode, t.timeout)
	}
}

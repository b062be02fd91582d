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
	"sync"
	"time"
)

// Statistics are cumulative counters of scheduler activity since startup.
type Statistics struct {
	// Epochs is the number of processed epochs.
	Epochs uint64
	// MigrationsRequested counts migrations dispatched to the Transport.
	MigrationsRequested uint64
	// MigrationsCommitted counts migrations the Transport completed.
	MigrationsCommitted uint64
	// MigrationsFailed counts migrations that errored or timed out.
	MigrationsFailed uint64
	// Promotions counts fragments promoted to the fast node.
	Promotions uint64
	// Evictions counts fragments evicted to the fallback node.
	Evictions uint64
	// BytesMoved is the total committed migration payload.
	BytesMoved uint64
	// MigrationTime is the cumulative latency of committed migrations.
	MigrationTime time.Duration
	// Unplaced is the number of fragments the last planning pass left
	// without a node.
	Unplaced int
}

// statistics is our shared counter instance.
type statistics struct {
	sync.Mutex
	Statistics
}

var stats = &statistics{}

// GetStatistics returns a copy of the current scheduler statistics.
func GetStatistics() Statistics {
	stats.Lock()
	defer stats.Unlock()
	return stats.Statistics
}

// RecordUnplaced records the unplaced fragment count of a planning pass.
func RecordUnplaced(count int) {
	stats.Lock()
	defer stats.Unlock()
	stats.Unplaced = count
}

func (s *statistics) epoch() {
	s.Lock()
	defer s.Unlock()
	s.Epochs++
}

func (s *statistics) promotion() {
	s.Lock()
	defer s.Unlock()
	s.Promotions++
}

func (s *statistics) eviction() {
	s.Lock()
	defer s.Unlock()
	s.Evictions++
}

func (s *statistics) migrationRequested() {
	s.Lock()
	defer s.Unlock()
	s.MigrationsRequested++
}

func (s *statistics) migrationCommitted(size int64, latency time.Duration) {
	s.Lock()
	defer s.Unlock()
	s.MigrationsCommitted++
	s.BytesMoved += uint64(size)
	s.MigrationTime += latency
}

func (s *statistics) migrationFailed() {
	s.Lock()
	defer s.Unlock()
	s.MigrationsFailed++
}

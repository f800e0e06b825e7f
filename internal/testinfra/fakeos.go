// Copyright 2024 github.com/prixladi
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package testinfra holds shared test doubles for the driver, manager,
// protocol and server tests.
package testinfra // import "github.com/prixladi/conc/internal/testinfra"

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/prixladi/conc/internal/process"
)

// FakeOS stands in for both the process launcher and the liveness prober: a
// registry of fake PIDs with creation times, so the supervision layers are
// testable without real children.
type FakeOS struct {
	mu      sync.Mutex
	nextPid int
	procs   map[int]int64 // pid -> creation time
	started []process.Descriptor
	failFor map[string]bool // descriptor ID -> fail the launch
}

// NewFakeOS creates an empty fake process table.
func NewFakeOS() *FakeOS {
	return &FakeOS{
		nextPid: 1000,
		procs:   make(map[int]int64),
		failFor: make(map[string]bool),
	}
}

// Start registers a fake child and returns its PID. Launches of descriptor
// IDs marked with FailLaunches error instead.
func (f *FakeOS) Start(d process.Descriptor) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[d.ID] {
		return 0, errors.New("exec failed")
	}
	f.nextPid++
	f.procs[f.nextPid] = int64(f.nextPid) * 7
	f.started = append(f.started, d)
	return f.nextPid, nil
}

// Terminate removes the fake child.
func (f *FakeOS) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.procs, pid)
	return nil
}

// CreateTime implements the prober side.
func (f *FakeOS) CreateTime(pid int) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ct, ok := f.procs[pid]
	return ct, ok
}

// FailLaunches makes Start error for the given descriptor ID
// ("<project>/<service>").
func (f *FakeOS) FailLaunches(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFor[id] = true
}

// Reuse replaces the process behind pid with a fresh one, simulating the OS
// handing the PID to an unrelated process.
func (f *FakeOS) Reuse(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[pid] = f.procs[pid] + 1
}

// LiveCount reports how many fake children currently exist.
func (f *FakeOS) LiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

// StartedCount reports how many launches succeeded over the fake's lifetime.
func (f *FakeOS) StartedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

// Started returns the descriptors of all successful launches, in order.
func (f *FakeOS) Started() []process.Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Descriptor(nil), f.started...)
}

// DiscardLogger returns a logger for tests that should stay quiet.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

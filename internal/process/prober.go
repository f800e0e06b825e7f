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

package process

import (
	gops "github.com/shirou/gopsutil/v3/process"
)

// Prober answers the one question the driver needs from the OS: does this
// PID exist, and when was it created. The creation time is compared against
// the recorded value to rule out PID reuse.
type Prober interface {
	// CreateTime returns the creation time of the PID in milliseconds
	// since the epoch, and whether the PID currently exists.
	CreateTime(pid int) (int64, bool)
}

// ProcProber is the gopsutil-backed Prober, reading /proc on Linux and the
// platform equivalent elsewhere.
type ProcProber struct{}

// CreateTime implements Prober.
func (ProcProber) CreateTime(pid int) (int64, bool) {
	if pid <= 0 {
		return 0, false
	}
	p, err := gops.NewProcess(int32(pid))
	if err != nil {
		return 0, false
	}
	created, err := p.CreateTime()
	if err != nil {
		return 0, false
	}
	return created, true
}

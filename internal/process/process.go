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

// Package process launches and terminates supervised children.
//
// A child runs in its own process group with stdout and stderr appended to
// the service log file. Termination signals the whole group, first with
// SIGTERM and near the end of the budget with SIGKILL, so shells spawned by
// the service command go down with it.
package process // import "github.com/prixladi/conc/internal/process"

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/prixladi/conc/internal/settings"
)

// Descriptor is a fully composed launch request for one service child.
type Descriptor struct {
	// ID is "<project>/<service>", used only for log lines.
	ID string

	// Command is the program and its arguments, in order.
	Command []string

	// Pwd is the child working directory; empty inherits the daemon's.
	Pwd string

	// Env are KEY=VALUE pairs applied on top of the daemon environment.
	Env []string

	// LogfilePath receives the child's stdout and stderr, appended.
	LogfilePath string
}

// NewDescriptor composes a descriptor from the project context. The service
// pwd is taken as-is when absolute, otherwise joined onto the project cwd.
// Environment resolution is first writer wins in scope order: service, then
// project, then extra (caller-supplied).
func NewDescriptor(project settings.Project, service settings.Service, extra map[string]string, logfilePath string) Descriptor {
	pwd := service.Pwd
	if pwd != "" && !filepath.IsAbs(pwd) {
		pwd = filepath.Join(project.Cwd, pwd)
	}

	return Descriptor{
		ID:          project.Name + "/" + service.Name,
		Command:     append([]string(nil), service.Command...),
		Pwd:         pwd,
		Env:         composeEnv(service.Env, project.Env, extra),
		LogfilePath: logfilePath,
	}
}

// composeEnv flattens the scopes into KEY=VALUE pairs, earlier scopes
// winning. Keys are emitted in sorted order per scope to keep the child
// environment deterministic.
func composeEnv(scopes ...map[string]string) []string {
	seen := make(map[string]struct{})
	var pairs []string
	for _, scope := range scopes {
		keys := make([]string, 0, len(scope))
		for k := range scope {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			pairs = append(pairs, k+"="+scope[k])
		}
	}
	return pairs
}

const (
	logfileFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
	logfileMode  = 0o644

	killBudget   = 10
	killInterval = 50 * time.Millisecond
	// Attempts from this index on use SIGKILL.
	termAttempts = 7
)

// ErrKillBudget is returned when a child outlives the escalation budget.
var ErrKillBudget = errors.New("process survived the kill escalation budget")

// Launcher starts and stops children on behalf of the driver.
type Launcher struct {
	prober Prober
	log    *slog.Logger
}

// NewLauncher creates a launcher using the given liveness prober.
func NewLauncher(prober Prober, log *slog.Logger) *Launcher {
	return &Launcher{prober: prober, log: log.With("component", "launcher")}
}

// Start launches the described child and returns its PID. The child is the
// leader of a fresh process group. The command resolves through PATH.
func (l *Launcher) Start(d Descriptor) (int, error) {
	logfile, err := os.OpenFile(d.LogfilePath, logfileFlags, logfileMode)
	if err != nil {
		return 0, fmt.Errorf("cannot open log file %q for %q: %w", d.LogfilePath, d.ID, err)
	}
	defer logfile.Close()

	cmd := exec.Command(d.Command[0], d.Command[1:]...)
	cmd.Dir = d.Pwd
	cmd.Env = append(os.Environ(), d.Env...)
	cmd.Stdout = logfile
	cmd.Stderr = logfile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("cannot start %q: %w", d.ID, err)
	}

	pid := cmd.Process.Pid
	l.log.Debug("started process", "id", d.ID, "pid", pid)

	// Children are reaped by the ignored-SIGCHLD disposition; the daemon
	// never waits on them.
	_ = cmd.Process.Release()

	return pid, nil
}

// Terminate signals the child's process group until the PID disappears or
// the budget runs out.
func (l *Launcher) Terminate(pid int) error {
	for attempt := 0; attempt < killBudget; attempt++ {
		if _, alive := l.prober.CreateTime(pid); !alive {
			return nil
		}

		sig := unix.SIGTERM
		if attempt >= termAttempts {
			sig = unix.SIGKILL
		}
		if err := unix.Kill(-pid, sig); err != nil {
			if errors.Is(err, unix.ESRCH) {
				return nil
			}
			// The group may be gone while the leader lingers as a
			// reparented child; fall back to the PID itself.
			_ = unix.Kill(pid, sig)
		}

		time.Sleep(killInterval)
	}

	if _, alive := l.prober.CreateTime(pid); !alive {
		return nil
	}
	l.log.Error("unable to kill process", "pid", pid)
	return ErrKillBudget
}

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

// Package driver owns the on-disk project layout and is the ground truth
// about which child processes exist.
//
// Under the root directory, each project has a directory named after it
// holding a meta file with the serialized settings, plus one directory per
// service with the child log and a two-line decimal meta file recording
// "<pid>\n<c_time>". A recorded PID counts as running only while the PID
// exists and its creation time still equals c_time; anything else is PID
// reuse and reads as stopped.
package driver // import "github.com/prixladi/conc/internal/driver"

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prixladi/conc/internal/process"
	"github.com/prixladi/conc/internal/settings"
)

// Result is the closed outcome set of driver operations. Errors order below
// OK, NoAction above it, so aggregating a batch is taking the minimum.
type Result int

const (
	ProcError Result = -2
	FSError   Result = -1
	OK        Result = 0
	NoAction  Result = 1
)

// Status of one service as recorded on disk, verified against the OS.
type Status int

const (
	// StatusNone means the service has no metadata: never launched or
	// cleanly forgotten.
	StatusNone Status = iota
	StatusRunning
	StatusStopped
)

// ServiceInfo is the driver-layer snapshot of one service.
type ServiceInfo struct {
	Status      Status
	Pid         int
	LogfilePath string // empty when the service has no metadata
	StartTime   int64
	StopTime    int64 // kept on the surface, not populated
}

// Launcher is the slice of the process launcher the driver drives.
type Launcher interface {
	Start(d process.Descriptor) (pid int, err error)
	Terminate(pid int) error
}

// Prober reports PID existence and creation time; see process.Prober.
type Prober interface {
	CreateTime(pid int) (int64, bool)
}

const (
	logfileName  = "log"
	metaFileName = "meta"
)

// Driver persists service metadata under root and launches and terminates
// children through the injected launcher.
type Driver struct {
	root     string
	launcher Launcher
	prober   Prober
	log      *slog.Logger
}

// New creates a driver rooted at the given projects directory.
func New(root string, launcher Launcher, prober Prober, log *slog.Logger) *Driver {
	return &Driver{
		root:     root,
		launcher: launcher,
		prober:   prober,
		log:      log.With("component", "driver"),
	}
}

// Mount ensures the root directory exists and is readable.
func (d *Driver) Mount() Result {
	_ = os.MkdirAll(d.root, 0o777)

	if _, err := os.ReadDir(d.root); err != nil {
		d.log.Error("root projects dir init failed", "root", d.root, "error", err)
		return FSError
	}

	d.log.Info("driver mounted", "root", d.root)
	return OK
}

// Unmount is informational; the driver holds no open resources.
func (d *Driver) Unmount() Result {
	d.log.Info("driver unmounted")
	return NoAction
}

// StoredSettings returns the raw contents of every project meta file under
// the root. Entries that fail to open are logged and skipped.
func (d *Driver) StoredSettings() []string {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil
	}

	var stored []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := d.projectMetaPath(entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			d.log.Error("unable to load stored settings", "path", path, "error", err)
			continue
		}
		stored = append(stored, string(content))
	}
	return stored
}

// ProjectInit creates the project directory, writes the serialized settings
// and creates a directory and log file for every service. Re-initialization
// overwrites the meta and creates any missing service directories.
func (d *Driver) ProjectInit(p settings.Project) Result {
	if err := os.MkdirAll(d.projectDir(p.Name), 0o777); err != nil {
		d.log.Error("unable to create project dir", "project", p.Name, "error", err)
		return FSError
	}

	if err := os.WriteFile(d.projectMetaPath(p.Name), []byte(settings.Stringify(p)), 0o644); err != nil {
		d.log.Error("unable to write project meta", "project", p.Name, "error", err)
		return FSError
	}

	for _, svc := range p.Services {
		if err := os.MkdirAll(d.serviceDir(p.Name, svc.Name), 0o777); err != nil {
			d.log.Error("unable to create service dir", "project", p.Name, "service", svc.Name, "error", err)
			return FSError
		}
		f, err := os.OpenFile(d.serviceLogfilePath(p.Name, svc.Name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			d.log.Error("unable to create service log file", "project", p.Name, "service", svc.Name, "error", err)
			return FSError
		}
		f.Close()
	}

	return OK
}

// ProjectRemove deletes every service's files and directory, then the
// project meta and directory. It succeeds only when the project directory is
// gone afterwards.
func (d *Driver) ProjectRemove(p settings.Project) Result {
	for _, svc := range p.Services {
		_ = os.Remove(d.serviceMetaPath(p.Name, svc.Name))
		_ = os.Remove(d.serviceLogfilePath(p.Name, svc.Name))
		_ = os.Remove(d.serviceDir(p.Name, svc.Name))
	}

	_ = os.Remove(d.projectMetaPath(p.Name))

	dir := d.projectDir(p.Name)
	_ = os.Remove(dir)

	if _, err := os.Stat(dir); err == nil {
		d.log.Error("unable to remove project directory", "dir", dir)
		return FSError
	}
	return OK
}

// ServiceStart launches the service child unless one is already running. The
// child's creation time is read back and persisted next to the PID; a failed
// meta write kills the fresh child and reports the error.
func (d *Driver) ServiceStart(p settings.Project, svc settings.Service, extraEnv map[string]string) Result {
	if meta, ok := d.readServiceMeta(p.Name, svc.Name); ok && d.alive(meta) {
		return NoAction
	}

	logfilePath := d.serviceLogfilePath(p.Name, svc.Name)
	desc := process.NewDescriptor(p, svc, extraEnv, logfilePath)

	pid, err := d.launcher.Start(desc)
	if err != nil {
		d.log.Error("unable to start service", "id", desc.ID, "error", err)
		return ProcError
	}

	cTime, _ := d.prober.CreateTime(pid)
	if err := d.writeServiceMeta(p.Name, svc.Name, serviceMeta{pid: pid, cTime: cTime}); err != nil {
		d.log.Error("unable to write service meta", "project", p.Name, "service", svc.Name, "error", err)
		_ = d.launcher.Terminate(pid)
		return FSError
	}

	return OK
}

// ServiceStop terminates the recorded child when it is live, escalating
// through its process group. The metadata stays in place; the dead PID reads
// back as stopped.
func (d *Driver) ServiceStop(projName string, svc settings.Service) Result {
	meta, ok := d.readServiceMeta(projName, svc.Name)
	if !ok || !d.alive(meta) {
		return NoAction
	}

	d.log.Debug("stopping process", "id", projName+"/"+svc.Name, "pid", meta.pid)

	if err := d.launcher.Terminate(meta.pid); err != nil {
		d.log.Error("unable to kill pid", "pid", meta.pid, "error", err)
		return ProcError
	}

	return OK
}

// ServiceClearLogs truncates the service log file to zero length.
func (d *Driver) ServiceClearLogs(projName string, svc settings.Service) Result {
	path := d.serviceLogfilePath(projName, svc.Name)
	if _, err := os.Stat(path); err != nil {
		return NoAction
	}
	if err := os.Truncate(path, 0); err != nil {
		d.log.Error("unable to clear log file", "path", path, "error", err)
		return FSError
	}
	return OK
}

// ServiceInfo reads the service metadata and verifies liveness against the
// OS. The log path is emitted, absolute, only when metadata exists.
func (d *Driver) ServiceInfo(projName, servName string) (ServiceInfo, Result) {
	meta, ok := d.readServiceMeta(projName, servName)
	if !ok {
		return ServiceInfo{Status: StatusNone}, OK
	}

	info := ServiceInfo{
		Status:    StatusStopped,
		Pid:       meta.pid,
		StartTime: meta.cTime,
	}
	if d.alive(meta) {
		info.Status = StatusRunning
	}

	if abs, err := filepath.Abs(d.serviceLogfilePath(projName, servName)); err == nil {
		info.LogfilePath = abs
	}

	return info, OK
}

// alive reports whether the recorded PID still refers to the child it was
// recorded for. A creation-time mismatch means the PID was reused by an
// unrelated process.
func (d *Driver) alive(meta serviceMeta) bool {
	if meta.pid <= 0 {
		return false
	}
	cTime, exists := d.prober.CreateTime(meta.pid)
	return exists && cTime == meta.cTime
}

type serviceMeta struct {
	pid   int
	cTime int64
}

func (d *Driver) writeServiceMeta(projName, servName string, meta serviceMeta) error {
	content := strconv.Itoa(meta.pid) + "\n" + strconv.FormatInt(meta.cTime, 10)
	return os.WriteFile(d.serviceMetaPath(projName, servName), []byte(content), 0o644)
}

// readServiceMeta parses the service meta file. At least two decimal lines
// must parse; a third line (legacy stop-time records) is tolerated.
func (d *Driver) readServiceMeta(projName, servName string) (serviceMeta, bool) {
	content, err := os.ReadFile(d.serviceMetaPath(projName, servName))
	if err != nil {
		return serviceMeta{}, false
	}

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) < 2 {
		return serviceMeta{}, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || pid == 0 {
		return serviceMeta{}, false
	}
	cTime, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil || cTime == 0 {
		return serviceMeta{}, false
	}

	return serviceMeta{pid: pid, cTime: cTime}, true
}

func (d *Driver) projectDir(projName string) string {
	return filepath.Join(d.root, projName)
}

func (d *Driver) projectMetaPath(projName string) string {
	return filepath.Join(d.root, projName, metaFileName)
}

func (d *Driver) serviceDir(projName, servName string) string {
	return filepath.Join(d.root, projName, servName)
}

func (d *Driver) serviceMetaPath(projName, servName string) string {
	return filepath.Join(d.root, projName, servName, metaFileName)
}

func (d *Driver) serviceLogfilePath(projName, servName string) string {
	return filepath.Join(d.root, projName, servName, logfileName)
}

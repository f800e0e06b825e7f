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

// Package manager is the in-memory registry of projects and the single
// mutable hub of the daemon.
//
// Locking discipline: take the store lock, locate the project, take that
// project's lock, then release the store lock before any driver work, so a
// slow fork or kill escalation on one project never blocks the others.
// Structural store changes (upsert, remove) hold both locks. No caller ever
// holds two project locks at once.
package manager // import "github.com/prixladi/conc/internal/manager"

import (
	"log/slog"
	"sync"

	"github.com/prixladi/conc/internal/driver"
	"github.com/prixladi/conc/internal/settings"
)

// Code is the closed result set of manager operations. Errors order below
// OK and NoAction above it, mirroring the driver, so batch aggregation takes
// the minimum.
type Code int

const (
	ServiceNotFound Code = -4
	ProjectNotFound Code = -3
	DriverError     Code = -2
	Error           Code = -1
	OK              Code = 0
	NoAction        Code = 1
)

// ServiceStatus is the human-readable status surfaced to clients.
type ServiceStatus string

const (
	Idle    ServiceStatus = "IDLE"
	Running ServiceStatus = "RUNNING"
	Stopped ServiceStatus = "STOPPED"
)

// ServiceInfo is the client-facing snapshot of one service.
type ServiceInfo struct {
	Name        string
	Status      ServiceStatus
	Pid         int
	LogfilePath string // empty when the service never launched
	StartTime   int64
	StopTime    int64
}

// ProjectInfo is the client-facing snapshot of one project.
type ProjectInfo struct {
	Name     string
	Services []ServiceInfo
}

type project struct {
	mu       sync.Mutex
	settings settings.Project
}

// Manager orchestrates the driver under a store of locked projects. The
// store keeps insertion order with the newest upsert first.
type Manager struct {
	mu       sync.Mutex
	projects []*project

	drv *driver.Driver
	log *slog.Logger
}

// New creates a manager over the given driver. Call Init before use.
func New(drv *driver.Driver, log *slog.Logger) *Manager {
	return &Manager{drv: drv, log: log.With("component", "manager")}
}

// Init mounts the driver, loads the persisted projects and stops any
// leftover children from an abrupt prior shutdown before declaring the
// manager started. Malformed persisted settings are logged and skipped.
func (m *Manager) Init() Code {
	if m.drv.Mount() < driver.OK {
		m.log.Error("unable to mount the driver")
		return DriverError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, stored := range m.drv.StoredSettings() {
		s, err := settings.Parse(stored)
		if err != nil {
			m.log.Error("unable to parse stored settings", "error", err)
			continue
		}

		m.log.Info("loaded stored project", "project", s.Name)
		p := &project{settings: s}

		p.mu.Lock()
		// In case the previous run exited abruptly and could not stop
		// its services.
		m.stopServices(p.settings)
		p.mu.Unlock()

		m.projects = append(m.projects, p)
	}

	m.log.Info("manager initialized")
	return OK
}

// Stop stops every service of every project, unmounts the driver and clears
// the store.
func (m *Manager) Stop() Code {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.projects {
		p.mu.Lock()
		m.stopServices(p.settings)
		p.mu.Unlock()
	}

	m.drv.Unmount()
	m.projects = nil

	m.log.Info("manager stopped")
	return OK
}

// ProjectsSettings returns a deep copy of every project's settings, newest
// first.
func (m *Manager) ProjectsSettings() []settings.Project {
	m.mu.Lock()
	defer m.mu.Unlock()

	copies := make([]settings.Project, 0, len(m.projects))
	for _, p := range m.projects {
		p.mu.Lock()
		copies = append(copies, p.settings.Clone())
		p.mu.Unlock()
	}
	return copies
}

// ProjectsInfo returns the status snapshot of every project, newest first.
func (m *Manager) ProjectsInfo() []ProjectInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]ProjectInfo, 0, len(m.projects))
	for _, p := range m.projects {
		p.mu.Lock()
		infos = append(infos, m.projectInfo(p.settings))
		p.mu.Unlock()
	}
	return infos
}

// ProjectSettings returns a deep copy of one project's settings.
func (m *Manager) ProjectSettings(projName string) (settings.Project, Code) {
	p := m.lockProject(projName)
	if p == nil {
		return settings.Project{}, ProjectNotFound
	}
	defer p.mu.Unlock()

	return p.settings.Clone(), OK
}

// ProjectInfo returns the status snapshot of one project.
func (m *Manager) ProjectInfo(projName string) (ProjectInfo, Code) {
	p := m.lockProject(projName)
	if p == nil {
		return ProjectInfo{}, ProjectNotFound
	}
	defer p.mu.Unlock()

	return m.projectInfo(p.settings), OK
}

// ProjectUpsert inserts a project, or replaces the existing one of the same
// name after stopping and removing it. The new project ends up first in the
// store.
func (m *Manager) ProjectUpsert(s settings.Project) Code {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, p := range m.projects {
		if p.settings.Name != s.Name {
			continue
		}

		p.mu.Lock()
		if res := m.stopAndRemoveServices(p.settings); res < driver.OK {
			p.mu.Unlock()
			return DriverError
		}
		m.projects = append(m.projects[:i], m.projects[i+1:]...)
		p.mu.Unlock()
		break
	}

	fresh := &project{settings: s.Clone()}
	if m.drv.ProjectInit(fresh.settings) < driver.OK {
		return DriverError
	}
	m.projects = append([]*project{fresh}, m.projects...)

	return OK
}

// ProjectStart starts every service of the project. The result is the worst
// across services.
func (m *Manager) ProjectStart(projName string, env map[string]string) Code {
	p := m.lockProject(projName)
	if p == nil {
		return ProjectNotFound
	}
	defer p.mu.Unlock()

	return relay(m.startServices(p.settings, env))
}

// ProjectRestart stops and then starts every service of the project.
func (m *Manager) ProjectRestart(projName string, env map[string]string) Code {
	p := m.lockProject(projName)
	if p == nil {
		return ProjectNotFound
	}
	defer p.mu.Unlock()

	if m.stopServices(p.settings) < driver.OK {
		return DriverError
	}
	if m.startServices(p.settings, env) < driver.OK {
		return DriverError
	}
	return OK
}

// ProjectStop stops every service of the project.
func (m *Manager) ProjectStop(projName string) Code {
	p := m.lockProject(projName)
	if p == nil {
		return ProjectNotFound
	}
	defer p.mu.Unlock()

	return relay(m.stopServices(p.settings))
}

// ProjectClearLogs truncates the log file of every service of the project.
func (m *Manager) ProjectClearLogs(projName string) Code {
	p := m.lockProject(projName)
	if p == nil {
		return ProjectNotFound
	}
	defer p.mu.Unlock()

	result := driver.NoAction
	for _, svc := range p.settings.Services {
		result = worst(result, m.drv.ServiceClearLogs(p.settings.Name, svc))
	}
	return relay(result)
}

// ProjectRemove stops the project's services and removes it from the driver
// and the store.
func (m *Manager) ProjectRemove(projName string) Code {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, p := range m.projects {
		if p.settings.Name != projName {
			continue
		}

		p.mu.Lock()
		result := m.stopAndRemoveServices(p.settings)
		if result >= driver.OK {
			m.projects = append(m.projects[:i], m.projects[i+1:]...)
		}
		p.mu.Unlock()

		if result < driver.OK {
			return DriverError
		}
		return OK
	}

	return ProjectNotFound
}

// ServiceInfo returns the status snapshot of one service.
func (m *Manager) ServiceInfo(projName, servName string) (ServiceInfo, Code) {
	p := m.lockProject(projName)
	if p == nil {
		return ServiceInfo{}, ProjectNotFound
	}
	defer p.mu.Unlock()

	svc, ok := findService(p.settings, servName)
	if !ok {
		return ServiceInfo{}, ServiceNotFound
	}

	return m.serviceInfo(p.settings.Name, svc.Name), OK
}

// ServiceStart starts one service with the project context.
func (m *Manager) ServiceStart(projName, servName string, env map[string]string) Code {
	p := m.lockProject(projName)
	if p == nil {
		return ProjectNotFound
	}
	defer p.mu.Unlock()

	svc, ok := findService(p.settings, servName)
	if !ok {
		return ServiceNotFound
	}

	return relay(m.drv.ServiceStart(p.settings, svc, env))
}

// ServiceRestart stops and then starts one service.
func (m *Manager) ServiceRestart(projName, servName string, env map[string]string) Code {
	p := m.lockProject(projName)
	if p == nil {
		return ProjectNotFound
	}
	defer p.mu.Unlock()

	svc, ok := findService(p.settings, servName)
	if !ok {
		return ServiceNotFound
	}

	if m.drv.ServiceStop(p.settings.Name, svc) < driver.OK {
		return DriverError
	}
	if m.drv.ServiceStart(p.settings, svc, env) < driver.OK {
		return DriverError
	}
	return OK
}

// ServiceStop stops one service.
func (m *Manager) ServiceStop(projName, servName string) Code {
	p := m.lockProject(projName)
	if p == nil {
		return ProjectNotFound
	}
	defer p.mu.Unlock()

	svc, ok := findService(p.settings, servName)
	if !ok {
		return ServiceNotFound
	}

	return relay(m.drv.ServiceStop(p.settings.Name, svc))
}

// ServiceClearLogs truncates one service's log file.
func (m *Manager) ServiceClearLogs(projName, servName string) Code {
	p := m.lockProject(projName)
	if p == nil {
		return ProjectNotFound
	}
	defer p.mu.Unlock()

	svc, ok := findService(p.settings, servName)
	if !ok {
		return ServiceNotFound
	}

	if m.drv.ServiceClearLogs(p.settings.Name, svc) < driver.OK {
		return DriverError
	}
	return OK
}

// lockProject finds the named project, locks it and releases the store lock.
// Returns nil when the project does not exist; otherwise the caller owns the
// project lock.
func (m *Manager) lockProject(projName string) *project {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.projects {
		if p.settings.Name == projName {
			p.mu.Lock()
			return p
		}
	}
	return nil
}

func findService(s settings.Project, servName string) (settings.Service, bool) {
	for _, svc := range s.Services {
		if svc.Name == servName {
			return svc, true
		}
	}
	return settings.Service{}, false
}

// startServices starts every service, aggregating to the worst result.
func (m *Manager) startServices(s settings.Project, env map[string]string) driver.Result {
	result := driver.NoAction
	for _, svc := range s.Services {
		result = worst(result, m.drv.ServiceStart(s, svc, env))
	}
	return result
}

// stopServices stops every service, aggregating to the worst result.
func (m *Manager) stopServices(s settings.Project) driver.Result {
	result := driver.NoAction
	for _, svc := range s.Services {
		result = worst(result, m.drv.ServiceStop(s.Name, svc))
	}
	return result
}

func (m *Manager) stopAndRemoveServices(s settings.Project) driver.Result {
	if result := m.stopServices(s); result < driver.OK {
		return result
	}
	return m.drv.ProjectRemove(s)
}

func (m *Manager) projectInfo(s settings.Project) ProjectInfo {
	info := ProjectInfo{
		Name:     s.Name,
		Services: make([]ServiceInfo, 0, len(s.Services)),
	}
	for _, svc := range s.Services {
		info.Services = append(info.Services, m.serviceInfo(s.Name, svc.Name))
	}
	return info
}

func (m *Manager) serviceInfo(projName, servName string) ServiceInfo {
	dInfo, _ := m.drv.ServiceInfo(projName, servName)

	status := Idle
	switch dInfo.Status {
	case driver.StatusRunning:
		status = Running
	case driver.StatusStopped:
		status = Stopped
	}

	return ServiceInfo{
		Name:        servName,
		Status:      status,
		Pid:         dInfo.Pid,
		LogfilePath: dInfo.LogfilePath,
		StartTime:   dInfo.StartTime,
		StopTime:    dInfo.StopTime,
	}
}

// worst folds two driver results with NoAction as the identity:
// error < OK < NoAction.
func worst(a, b driver.Result) driver.Result {
	if b < a {
		return b
	}
	return a
}

// relay maps an aggregated driver result to a manager code.
func relay(result driver.Result) Code {
	switch {
	case result < driver.OK:
		return DriverError
	case result == driver.NoAction:
		return NoAction
	default:
		return OK
	}
}

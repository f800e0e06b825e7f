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

// Package protocol turns textual requests into manager operations.
//
// A request is a sequence of lines: the verb first, positional arguments
// after. The response starts with OK or ERROR; any remaining lines are the
// payload. The upsert, start, restart and stop verbs echo the info of what
// they changed so clients see the effect; remove and clear-logs reply with a
// bare OK.
package protocol // import "github.com/prixladi/conc/internal/protocol"

import (
	"fmt"
	"strings"

	"github.com/prixladi/conc/internal/manager"
	"github.com/prixladi/conc/internal/settings"
)

// Manager is the slice of the manager the dispatcher drives.
type Manager interface {
	ProjectsSettings() []settings.Project
	ProjectsInfo() []manager.ProjectInfo
	ProjectSettings(projName string) (settings.Project, manager.Code)
	ProjectInfo(projName string) (manager.ProjectInfo, manager.Code)
	ProjectUpsert(s settings.Project) manager.Code
	ProjectStart(projName string, env map[string]string) manager.Code
	ProjectRestart(projName string, env map[string]string) manager.Code
	ProjectStop(projName string) manager.Code
	ProjectClearLogs(projName string) manager.Code
	ProjectRemove(projName string) manager.Code
	ServiceInfo(projName, servName string) (manager.ServiceInfo, manager.Code)
	ServiceStart(projName, servName string, env map[string]string) manager.Code
	ServiceRestart(projName, servName string, env map[string]string) manager.Code
	ServiceStop(projName, servName string) manager.Code
	ServiceClearLogs(projName, servName string) manager.Code
}

// Dispatcher matches verbs against the command table and formats responses.
type Dispatcher struct {
	m Manager
}

// New creates a dispatcher over the given manager.
func New(m Manager) *Dispatcher {
	return &Dispatcher{m: m}
}

type command struct {
	verb string
	argc int
	run  func(d *Dispatcher, argv []string) string
}

// The verb table. Adding a verb is one line.
var commands = []command{
	{"PROJECTS-NAMES", 0, (*Dispatcher).projectsNames},
	{"PROJECTS-SETTINGS", 0, (*Dispatcher).projectsSettings},
	{"PROJECTS-INFO", 0, (*Dispatcher).projectsInfo},
	{"PROJECT-SETTINGS", 1, (*Dispatcher).projectSettings},
	{"PROJECT-INFO", 1, (*Dispatcher).projectInfo},
	{"PROJECT-UPSERT", 1, (*Dispatcher).projectUpsert},
	{"PROJECT-START", 1, (*Dispatcher).projectStart},
	{"PROJECT-RESTART", 1, (*Dispatcher).projectRestart},
	{"PROJECT-STOP", 1, (*Dispatcher).projectStop},
	{"PROJECT-CLEAR-LOGS", 1, (*Dispatcher).projectClearLogs},
	{"PROJECT-REMOVE", 1, (*Dispatcher).projectRemove},
	{"SERVICES-NAMES", 1, (*Dispatcher).servicesNames},
	{"SERVICE-INFO", 2, (*Dispatcher).serviceInfo},
	{"SERVICE-START", 2, (*Dispatcher).serviceStart},
	{"SERVICE-RESTART", 2, (*Dispatcher).serviceRestart},
	{"SERVICE-STOP", 2, (*Dispatcher).serviceStop},
	{"SERVICE-CLEAR-LOGS", 2, (*Dispatcher).serviceClearLogs},
}

// Dispatch runs one request and returns the textual response.
func (d *Dispatcher) Dispatch(input string) string {
	tokens := tokenize(input)
	if len(tokens) == 0 || tokens[0] == "" {
		return respError("unknown_command")
	}

	for _, cmd := range commands {
		if cmd.verb != tokens[0] {
			continue
		}
		if len(tokens)-1 != cmd.argc {
			return respError("invalid_argument_count")
		}
		return cmd.run(d, tokens[1:])
	}

	return respError("unknown_command")
}

func tokenize(input string) []string {
	input = strings.TrimSuffix(input, "\n")
	if input == "" {
		return nil
	}
	return strings.Split(input, "\n")
}

func respOK(payload string) string {
	if payload == "" {
		return "OK"
	}
	return "OK\n" + payload
}

func respError(code string) string {
	return "ERROR\n" + code
}

func errorResponse(code manager.Code) string {
	switch code {
	case manager.Error:
		return respError("manager_error")
	case manager.DriverError:
		return respError("driver_error")
	case manager.ProjectNotFound:
		return respError("project_not_found")
	case manager.ServiceNotFound:
		return respError("service_not_found")
	default:
		return respError(fmt.Sprintf("unknown-code-%d", code))
	}
}

func (d *Dispatcher) projectsNames(argv []string) string {
	projects := d.m.ProjectsSettings()
	lines := make([]string, 0, len(projects))
	for _, p := range projects {
		lines = append(lines, p.Name)
	}
	return respOK(strings.Join(lines, "\n"))
}

func (d *Dispatcher) projectsSettings(argv []string) string {
	projects := d.m.ProjectsSettings()
	lines := make([]string, 0, len(projects))
	for _, p := range projects {
		lines = append(lines, p.Name+" "+settings.Stringify(p))
	}
	return respOK(strings.Join(lines, "\n"))
}

func (d *Dispatcher) projectsInfo(argv []string) string {
	infos := d.m.ProjectsInfo()
	var lines []string
	for _, info := range infos {
		lines = append(lines, info.Name)
		for _, svc := range info.Services {
			lines = append(lines, formatServiceInfo(svc))
		}
	}
	return respOK(strings.Join(lines, "\n"))
}

func (d *Dispatcher) projectSettings(argv []string) string {
	s, code := d.m.ProjectSettings(argv[0])
	if code < manager.OK {
		return errorResponse(code)
	}
	return respOK(settings.Stringify(s))
}

func (d *Dispatcher) projectInfo(argv []string) string {
	info, code := d.m.ProjectInfo(argv[0])
	if code < manager.OK {
		return errorResponse(code)
	}
	lines := make([]string, 0, len(info.Services))
	for _, svc := range info.Services {
		lines = append(lines, formatServiceInfo(svc))
	}
	return respOK(strings.Join(lines, "\n"))
}

func (d *Dispatcher) projectUpsert(argv []string) string {
	s, err := settings.Parse(argv[0])
	if err != nil {
		return respError(err.Error())
	}
	if code := d.m.ProjectUpsert(s); code < manager.OK {
		return errorResponse(code)
	}
	return d.projectInfo([]string{s.Name})
}

func (d *Dispatcher) projectStart(argv []string) string {
	if code := d.m.ProjectStart(argv[0], nil); code < manager.OK {
		return errorResponse(code)
	}
	return d.projectInfo(argv)
}

func (d *Dispatcher) projectRestart(argv []string) string {
	if code := d.m.ProjectRestart(argv[0], nil); code < manager.OK {
		return errorResponse(code)
	}
	return d.projectInfo(argv)
}

func (d *Dispatcher) projectStop(argv []string) string {
	if code := d.m.ProjectStop(argv[0]); code < manager.OK {
		return errorResponse(code)
	}
	return d.projectInfo(argv)
}

func (d *Dispatcher) projectClearLogs(argv []string) string {
	if code := d.m.ProjectClearLogs(argv[0]); code < manager.OK {
		return errorResponse(code)
	}
	return respOK("")
}

func (d *Dispatcher) projectRemove(argv []string) string {
	if code := d.m.ProjectRemove(argv[0]); code < manager.OK {
		return errorResponse(code)
	}
	return respOK("")
}

func (d *Dispatcher) servicesNames(argv []string) string {
	s, code := d.m.ProjectSettings(argv[0])
	if code < manager.OK {
		return errorResponse(code)
	}
	lines := make([]string, 0, len(s.Services))
	for _, svc := range s.Services {
		lines = append(lines, svc.Name)
	}
	return respOK(strings.Join(lines, "\n"))
}

func (d *Dispatcher) serviceInfo(argv []string) string {
	info, code := d.m.ServiceInfo(argv[0], argv[1])
	if code < manager.OK {
		return errorResponse(code)
	}
	return respOK(formatServiceInfo(info))
}

func (d *Dispatcher) serviceStart(argv []string) string {
	if code := d.m.ServiceStart(argv[0], argv[1], nil); code < manager.OK {
		return errorResponse(code)
	}
	return d.serviceInfo(argv)
}

func (d *Dispatcher) serviceRestart(argv []string) string {
	if code := d.m.ServiceRestart(argv[0], argv[1], nil); code < manager.OK {
		return errorResponse(code)
	}
	return d.serviceInfo(argv)
}

func (d *Dispatcher) serviceStop(argv []string) string {
	if code := d.m.ServiceStop(argv[0], argv[1]); code < manager.OK {
		return errorResponse(code)
	}
	return d.serviceInfo(argv)
}

func (d *Dispatcher) serviceClearLogs(argv []string) string {
	if code := d.m.ServiceClearLogs(argv[0], argv[1]); code < manager.OK {
		return errorResponse(code)
	}
	return respOK("")
}

// formatServiceInfo renders "<name> <STATUS> <pid> <logfile_or_dash>".
func formatServiceInfo(info manager.ServiceInfo) string {
	logfile := info.LogfilePath
	if logfile == "" {
		logfile = "-"
	}
	return fmt.Sprintf("%s %s %d %s", info.Name, info.Status, info.Pid, logfile)
}

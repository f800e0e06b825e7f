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

// Package settings holds the project and service descriptors, their JSON
// wire codec and validation.
//
// Validation failures are reported as ParseError values whose codes are part
// of the client protocol, e.g. "settings.name.invalid" or
// "settings.service.web.name.duplicate".
package settings // import "github.com/prixladi/conc/internal/settings"

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Service describes one managed child process. Command element 0 is the
// program; Pwd may be absolute or relative to the project Cwd, empty means
// the daemon's own working directory.
type Service struct {
	Name    string            `json:"name"`
	Pwd     string            `json:"pwd,omitempty"`
	Command []string          `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
}

// Project is a named group of services sharing a base directory and an
// environment. Values are never mutated in place; edits happen by project
// replacement.
type Project struct {
	Name     string            `json:"name"`
	Cwd      string            `json:"cwd"`
	Env      map[string]string `json:"env,omitempty"`
	Services []Service         `json:"services"`
}

// ParseError carries a machine-readable settings error code. The code is
// returned verbatim as a protocol error payload.
type ParseError struct {
	Code string
}

func (e *ParseError) Error() string { return e.Code }

func parseError(format string, args ...any) *ParseError {
	return &ParseError{Code: fmt.Sprintf(format, args...)}
}

// Parse decodes and validates a project settings JSON document.
func Parse(data string) (Project, error) {
	var p Project
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Project{}, parseError("settings.parse")
	}
	if err := p.validate(); err != nil {
		return Project{}, err
	}
	return p, nil
}

// ParseEnv decodes a freestanding environment object, a JSON document of
// string keys to string values.
func ParseEnv(data string) (map[string]string, error) {
	var env map[string]string
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, parseError("env.parse")
	}
	return env, nil
}

// Stringify encodes the settings to their canonical JSON form.
func Stringify(p Project) string {
	b, err := json.Marshal(p)
	if err != nil {
		// All field types are marshalable; this cannot fail on a
		// value that came out of Parse.
		return "{}"
	}
	return string(b)
}

func (p Project) validate() error {
	if !nameValid(p.Name) {
		return parseError("settings.name.invalid")
	}
	if p.Cwd == "" {
		return parseError("settings.cwd.invalid")
	}
	if len(p.Services) == 0 {
		return parseError("settings.services.missing")
	}

	seen := make(map[string]struct{}, len(p.Services))
	for _, svc := range p.Services {
		if !nameValid(svc.Name) {
			return parseError("settings.service.%s.name.invalid", svc.Name)
		}
		if _, ok := seen[svc.Name]; ok {
			return parseError("settings.service.%s.name.duplicate", svc.Name)
		}
		seen[svc.Name] = struct{}{}
		if len(svc.Command) == 0 {
			return parseError("settings.service.%s.command.invalid", svc.Name)
		}
	}
	return nil
}

// Clone returns a deep copy, safe to hand out while the original stays under
// a project lock.
func (p Project) Clone() Project {
	dup := Project{
		Name:     p.Name,
		Cwd:      p.Cwd,
		Env:      cloneEnv(p.Env),
		Services: make([]Service, 0, len(p.Services)),
	}
	for _, svc := range p.Services {
		dup.Services = append(dup.Services, svc.Clone())
	}
	return dup
}

// Clone returns a deep copy of the service descriptor.
func (s Service) Clone() Service {
	return Service{
		Name:    s.Name,
		Pwd:     s.Pwd,
		Command: append([]string(nil), s.Command...),
		Env:     cloneEnv(s.Env),
	}
}

func cloneEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	dup := make(map[string]string, len(env))
	for k, v := range env {
		dup[k] = v
	}
	return dup
}

// nameValid reports whether a project or service name is non-empty and made
// of [A-Za-z0-9_-] only.
func nameValid(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

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

// Package config loads the daemon configuration from layered sources:
// built-in defaults, then CONC_-prefixed environment variables, then CLI
// flags applied by the caller on top.
package config // import "github.com/prixladi/conc/internal/config"

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	isatty "github.com/mattn/go-isatty"

	"github.com/prixladi/conc/internal/logging"
)

// EnvPrefix is the prefix of the recognized environment variables, e.g.
// CONC_LOG_LEVEL or CONC_WORK_DIR.
const EnvPrefix = "CONC_"

// App is the daemon configuration.
type App struct {
	// Daemon forces daemon mode. Defaults to true when stdout is not a
	// terminal.
	Daemon bool `koanf:"daemon"`

	// LogLevel is the single-letter level: T, D, I, W, E or C.
	LogLevel string `koanf:"log_level"`

	// WorkDir is the directory the daemon chdirs into before starting.
	// Empty means the current working directory. The projects root and
	// the control socket live under it.
	WorkDir string `koanf:"work_dir"`
}

func defaults() *App {
	return &App{
		Daemon:   !isatty.IsTerminal(os.Stdout.Fd()),
		LogLevel: "I",
		WorkDir:  "",
	}
}

// Load resolves the configuration from defaults and the environment. CLI
// flag overrides are applied by the caller afterwards, before Validate.
func Load() (*App, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("cannot load config defaults: %w", err)
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("cannot load config from environment: %w", err)
	}

	cfg := &App{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first configuration problem found.
func (c *App) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.WorkDir != "" {
		st, err := os.Stat(c.WorkDir)
		if err != nil || !st.IsDir() {
			return fmt.Errorf("work directory %q does not exist", c.WorkDir)
		}
	}
	return nil
}

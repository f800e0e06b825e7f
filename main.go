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

/*
Command conc is a process manager service.

It supervises named projects of named services, persists their definitions
under the working directory and serves a line-oriented control protocol on a
local unix socket (conc.sock). Service definitions are uploaded by clients as
JSON through the PROJECT-UPSERT command.

	conc --log-level I                Starts with log level set to INFO
	conc --work-dir /var/lib/conc     Uses /var/lib/conc as the root work directory
	conc --daemon                     Forces daemon mode
*/
package main

import (
	"fmt"
	"os"

	cli "github.com/urfave/cli/v2"

	"github.com/prixladi/conc/internal/config"
	"github.com/prixladi/conc/internal/logging"
)

func main() {
	app := &cli.App{
		Name:        "conc",
		Usage:       "process manager service",
		HideVersion: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "daemon",
				Aliases: []string{"d"},
				Usage:   "forces the app to run in daemon mode (defaults to true when run outside a tty)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "log level: `T|D|I|W|E|C`",
			},
			&cli.StringFlag{
				Name:    "work-dir",
				Aliases: []string{"w"},
				Usage:   "working `directory` holding the projects root and the control socket",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// CLI flags are the top configuration layer.
	if c.Bool("daemon") {
		cfg.Daemon = true
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("work-dir") {
		cfg.WorkDir = c.String("work-dir")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.WorkDir != "" {
		if err := os.Chdir(cfg.WorkDir); err != nil {
			return fmt.Errorf("cannot enter work directory %q: %w", cfg.WorkDir, err)
		}
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := logging.New(os.Stdout, level)

	return runDaemon(cfg, log)
}

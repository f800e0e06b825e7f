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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	oversight "cirello.io/oversight/v2"

	"github.com/prixladi/conc/internal/config"
	"github.com/prixladi/conc/internal/driver"
	"github.com/prixladi/conc/internal/manager"
	"github.com/prixladi/conc/internal/process"
	"github.com/prixladi/conc/internal/protocol"
	"github.com/prixladi/conc/internal/server"
)

// projectsDirName is the projects root inside the work directory.
const projectsDirName = "projects"

const serverShutdownTimeout = 10 * time.Second

// runDaemon owns the init/run cycle. SIGTERM and SIGINT stop it gracefully;
// in daemon mode SIGHUP tears the cycle down and enters it again, the way
// systemd expects a reload to behave.
func runDaemon(cfg *config.App, log *slog.Logger) error {
	// Children are reaped by the OS; broken-pipe writes must not kill
	// the daemon.
	signal.Ignore(syscall.SIGCHLD, syscall.SIGPIPE)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		restart, err := runCycle(cfg, log, sigs)
		if err != nil {
			return err
		}
		if !restart {
			return nil
		}
		log.Info("restarting")
	}
}

// runCycle initializes the manager, serves the control socket until a signal
// arrives and unwinds in reverse order: accept loop, worker pool, manager
// shutdown sweep.
func runCycle(cfg *config.App, log *slog.Logger, sigs <-chan os.Signal) (restart bool, err error) {
	prober := process.ProcProber{}
	launcher := process.NewLauncher(prober, log)

	mgr := manager.New(driver.New(projectsDirName, launcher, prober, log), log)
	if mgr.Init() < manager.OK {
		return false, errors.New("unable to init the manager")
	}
	defer mgr.Stop()

	dispatcher := protocol.New(mgr)
	srv := server.New(server.Options{
		SocketPath: server.DefaultSocketName,
		Dispatch:   dispatcher.Dispatch,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := oversight.New(
		oversight.NeverHalt(),
		oversight.DefaultRestartStrategy(),
		oversight.WithLogger(oversightLogger(log)),
	)
	if err := tree.Add(
		srv.Serve,
		oversight.Transient(),
		oversight.Timeout(serverShutdownTimeout),
		"socket-server",
	); err != nil {
		return false, fmt.Errorf("cannot add socket server to the supervision tree: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- tree.Start(ctx) }()

	select {
	case sig := <-sigs:
		restart = sig == syscall.SIGHUP && cfg.Daemon
		log.Info("received signal, stopping", "signal", sig.String())
		srv.Stop()
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			log.Error("supervision tree failed", "error", err)
		}
	}

	return restart, nil
}

func oversightLogger(log *slog.Logger) oversight.Logger {
	return func(args ...any) {
		log.Debug("oversight", "msg", fmt.Sprint(args...))
	}
}

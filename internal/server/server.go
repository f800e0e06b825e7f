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

// Package server accepts client connections on a local stream socket and
// hands each one to a worker pool.
//
// A request ends at connection close or at an in-band NUL byte; the response
// is written back followed by a terminating NUL, then the connection closes.
// A request consisting solely of a NUL is a health check and is answered
// with a single NUL without touching the dispatcher.
package server // import "github.com/prixladi/conc/internal/server"

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/prixladi/conc/internal/pool"
)

// DefaultSocketName is the socket file created inside the daemon's working
// directory.
const DefaultSocketName = "conc.sock"

const (
	poolConcurrency   = 5
	poolQueueCapacity = 1024

	// acceptTimeout bounds how long a stop request can go unnoticed by
	// the accept loop.
	acceptTimeout = 100 * time.Millisecond

	readBufferSize = 1024
)

// Dispatch turns one request into one response.
type Dispatch func(input string) string

// Options configure a server.
type Options struct {
	// SocketPath is the unix socket to listen on.
	SocketPath string

	// Dispatch handles request payloads.
	Dispatch Dispatch
}

// Server owns the accept loop and the worker pool behind it.
type Server struct {
	opts    Options
	log     *slog.Logger
	running atomic.Bool
}

// New creates a server; Serve runs it.
func New(opts Options, log *slog.Logger) *Server {
	return &Server{opts: opts, log: log.With("component", "socket-server")}
}

// Serve listens on the socket and accepts until the context is canceled or
// Stop is called, then drains the worker pool. The accept loop re-checks the
// stop condition every acceptTimeout tick.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.opts.SocketPath)

	addr, err := net.ResolveUnixAddr("unix", s.opts.SocketPath)
	if err != nil {
		return err
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		s.log.Error("unable to bind control socket", "path", s.opts.SocketPath, "error", err)
		return err
	}
	defer listener.Close()
	defer os.Remove(s.opts.SocketPath)

	workers, err := pool.New("socket-server", poolConcurrency, poolQueueCapacity, s.log)
	if err != nil {
		return err
	}
	if err := workers.Start(); err != nil {
		return err
	}

	s.running.Store(true)
	s.log.Info("socket server started", "path", s.opts.SocketPath)

	for s.running.Load() && ctx.Err() == nil {
		if err := listener.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
			s.log.Error("unable to arm accept deadline", "error", err)
			break
		}

		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if s.running.Load() && ctx.Err() == nil {
				s.log.Error("accept failed", "error", err)
			}
			break
		}

		s.log.Debug("accepted connection")
		if err := workers.Queue("", s.handleClient, conn); err != nil {
			s.log.Error("unable to queue connection", "error", err)
			conn.Close()
		}
	}

	s.log.Info("socket server stopping")

	if err := workers.FinishAndStop(); err != nil {
		s.log.Error("unable to stop worker pool", "error", err)
	}
	_ = workers.Close()

	s.log.Info("socket server stopped")
	return nil
}

// Stop makes the accept loop exit within one timeout tick.
func (s *Server) Stop() {
	s.running.Store(false)
}

// handleClient runs on a pool worker: read the request, dispatch, write the
// NUL-terminated response, close.
func (s *Server) handleClient(args any) {
	conn := args.(net.Conn)
	defer conn.Close()

	input, err := readRequest(conn)
	if err != nil {
		s.log.Error("unable to read request", "error", err)
		return
	}

	var response []byte
	if len(input) == 0 {
		s.log.Debug("received health check")
		// The terminating NUL below is the whole reply.
	} else {
		s.log.Debug("received command", "command", string(input))
		response = []byte(s.opts.Dispatch(string(input)))
	}

	if _, err := conn.Write(append(response, 0)); err != nil {
		s.log.Error("unable to write response", "error", err)
	}
}

// readRequest consumes the connection until close or an in-band NUL and
// returns the payload without the terminator.
func readRequest(conn net.Conn) ([]byte, error) {
	var input []byte
	buffer := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buffer)
		input = append(input, buffer[:n]...)

		if i := bytes.IndexByte(input, 0); i >= 0 {
			return input[:i], nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return input, nil
			}
			return input, err
		}
	}
}

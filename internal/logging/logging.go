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

// Package logging builds the daemon's structured logger: an slog front-end
// backed by a zerolog console writer.
package logging // import "github.com/prixladi/conc/internal/logging"

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rs/zerolog"
	slogzerolog "github.com/samber/slog-zerolog/v2"
)

// Levels beyond the slog built-ins. Trace sits below Debug, Critical above
// Error, mirroring the daemon's six-letter level scale.
const (
	LevelTrace    = slog.LevelDebug - 4
	LevelCritical = slog.LevelError + 4
)

// ParseLevel converts a single-letter level flag (T|D|I|W|E|C) to a slog
// level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "T":
		return LevelTrace, nil
	case "D":
		return slog.LevelDebug, nil
	case "I":
		return slog.LevelInfo, nil
	case "W":
		return slog.LevelWarn, nil
	case "E":
		return slog.LevelError, nil
	case "C":
		return LevelCritical, nil
	}
	return 0, fmt.Errorf("invalid log level %q", s)
}

// New creates a logger writing human-readable lines to w at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	zl := zerolog.
		New(zerolog.ConsoleWriter{Out: w}).
		With().
		Timestamp().
		Logger()

	handler := slogzerolog.Option{Level: level, Logger: &zl}.NewZerologHandler()
	return slog.New(handler)
}

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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "I", cfg.LogLevel)
	require.Empty(t, cfg.WorkDir)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("CONC_LOG_LEVEL", "D")
	t.Setenv("CONC_WORK_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "D", cfg.LogLevel)
	require.NotEmpty(t, cfg.WorkDir)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := &App{LogLevel: "verbose"}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingWorkDir(t *testing.T) {
	cfg := &App{LogLevel: "I", WorkDir: "/definitely/not/here"}
	require.Error(t, cfg.Validate())
}

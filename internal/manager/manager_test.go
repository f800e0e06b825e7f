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

package manager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prixladi/conc/internal/driver"
	"github.com/prixladi/conc/internal/settings"
	"github.com/prixladi/conc/internal/testinfra"
)

func newTestManager(t *testing.T) (*Manager, *testinfra.FakeOS, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "projects")
	fos := testinfra.NewFakeOS()
	log := testinfra.DiscardLogger()
	m := New(driver.New(root, fos, fos, log), log)
	return m, fos, root
}

func demoSettings(name string) settings.Project {
	return settings.Project{
		Name: name,
		Cwd:  "/tmp",
		Services: []settings.Service{
			{Name: "svc", Command: []string{"/bin/sleep", "60"}},
			{Name: "aux", Command: []string{"/bin/sleep", "60"}},
		},
	}
}

func TestUpsertAndInfo(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.Equal(t, OK, m.Init())
	defer m.Stop()

	require.Equal(t, OK, m.ProjectUpsert(demoSettings("demo")))

	info, code := m.ProjectInfo("demo")
	require.Equal(t, OK, code)
	require.Equal(t, "demo", info.Name)
	require.Len(t, info.Services, 2)
	for _, svc := range info.Services {
		require.Equal(t, Idle, svc.Status)
		require.Zero(t, svc.Pid)
		require.Empty(t, svc.LogfilePath)
	}
}

func TestUpsertReplaces(t *testing.T) {
	m, fos, _ := newTestManager(t)
	require.Equal(t, OK, m.Init())
	defer m.Stop()

	require.Equal(t, OK, m.ProjectUpsert(demoSettings("demo")))
	require.Equal(t, OK, m.ProjectStart("demo", nil))
	require.Equal(t, 2, fos.LiveCount())

	replacement := demoSettings("demo")
	replacement.Services = replacement.Services[:1]
	require.Equal(t, OK, m.ProjectUpsert(replacement))

	// Exactly one project of that name, with the new settings, and the
	// old children stopped.
	all := m.ProjectsSettings()
	require.Len(t, all, 1)
	require.Len(t, all[0].Services, 1)
	require.Equal(t, 0, fos.LiveCount())
}

func TestUpsertPrependsNewest(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.Equal(t, OK, m.Init())
	defer m.Stop()

	require.Equal(t, OK, m.ProjectUpsert(demoSettings("first")))
	require.Equal(t, OK, m.ProjectUpsert(demoSettings("second")))

	all := m.ProjectsSettings()
	require.Len(t, all, 2)
	require.Equal(t, "second", all[0].Name)
	require.Equal(t, "first", all[1].Name)
}

func TestStartStopLifecycle(t *testing.T) {
	m, fos, _ := newTestManager(t)
	require.Equal(t, OK, m.Init())
	defer m.Stop()

	require.Equal(t, OK, m.ProjectUpsert(demoSettings("demo")))

	require.Equal(t, OK, m.ServiceStart("demo", "svc", nil))
	info, code := m.ServiceInfo("demo", "svc")
	require.Equal(t, OK, code)
	require.Equal(t, Running, info.Status)
	require.NotZero(t, info.Pid)
	require.NotEmpty(t, info.LogfilePath)

	// Starting a running service is accepted but changes nothing.
	require.Equal(t, NoAction, m.ServiceStart("demo", "svc", nil))
	require.Equal(t, 1, fos.StartedCount())

	require.Equal(t, OK, m.ServiceStop("demo", "svc"))
	info, _ = m.ServiceInfo("demo", "svc")
	require.Equal(t, Stopped, info.Status)

	require.Equal(t, NoAction, m.ServiceStop("demo", "svc"))
}

func TestServiceRestartChangesPid(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.Equal(t, OK, m.Init())
	defer m.Stop()

	require.Equal(t, OK, m.ProjectUpsert(demoSettings("demo")))
	require.Equal(t, OK, m.ServiceStart("demo", "svc", nil))
	before, _ := m.ServiceInfo("demo", "svc")

	require.Equal(t, OK, m.ServiceRestart("demo", "svc", nil))
	after, _ := m.ServiceInfo("demo", "svc")
	require.Equal(t, Running, after.Status)
	require.NotEqual(t, before.Pid, after.Pid)
}

func TestProjectAggregation(t *testing.T) {
	m, fos, _ := newTestManager(t)
	require.Equal(t, OK, m.Init())
	defer m.Stop()

	require.Equal(t, OK, m.ProjectUpsert(demoSettings("demo")))

	// Nothing running: stop is a project-wide no-action.
	require.Equal(t, NoAction, m.ProjectStop("demo"))

	// One service already running: start still reports OK because the
	// other one actually started.
	require.Equal(t, OK, m.ServiceStart("demo", "svc", nil))
	require.Equal(t, OK, m.ProjectStart("demo", nil))

	// All running: a further start is a no-action.
	require.Equal(t, NoAction, m.ProjectStart("demo", nil))

	// A failing service launch dominates the aggregate.
	require.Equal(t, OK, m.ProjectStop("demo"))
	fos.FailLaunches("demo/aux")
	require.Equal(t, DriverError, m.ProjectStart("demo", nil))
}

func TestNotFoundCodes(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.Equal(t, OK, m.Init())
	defer m.Stop()

	_, code := m.ProjectInfo("missing")
	require.Equal(t, ProjectNotFound, code)
	require.Equal(t, ProjectNotFound, m.ProjectStart("missing", nil))

	require.Equal(t, OK, m.ProjectUpsert(demoSettings("demo")))
	_, code = m.ServiceInfo("demo", "missing")
	require.Equal(t, ServiceNotFound, code)
	require.Equal(t, ServiceNotFound, m.ServiceStop("demo", "missing"))
}

func TestProjectRemove(t *testing.T) {
	m, fos, root := newTestManager(t)
	require.Equal(t, OK, m.Init())
	defer m.Stop()

	require.Equal(t, OK, m.ProjectUpsert(demoSettings("demo")))
	require.Equal(t, OK, m.ProjectStart("demo", nil))

	require.Equal(t, OK, m.ProjectRemove("demo"))
	require.Equal(t, 0, fos.LiveCount())
	require.Empty(t, m.ProjectsSettings())
	_, err := os.Stat(filepath.Join(root, "demo"))
	require.True(t, os.IsNotExist(err))

	require.Equal(t, ProjectNotFound, m.ProjectRemove("demo"))
}

func TestInitRecoversPersistedProjects(t *testing.T) {
	root := filepath.Join(t.TempDir(), "projects")
	fos := testinfra.NewFakeOS()
	log := testinfra.DiscardLogger()

	first := New(driver.New(root, fos, fos, log), log)
	require.Equal(t, OK, first.Init())
	require.Equal(t, OK, first.ProjectUpsert(demoSettings("demo")))
	require.Equal(t, OK, first.ServiceStart("demo", "svc", nil))
	require.Equal(t, 1, fos.LiveCount())

	// Simulate an abrupt exit: no Stop. A new manager over the same root
	// must pick the project up and sweep the leftover child.
	second := New(driver.New(root, fos, fos, log), log)
	require.Equal(t, OK, second.Init())
	defer second.Stop()

	require.Equal(t, 0, fos.LiveCount(), "leftover child must be stopped during init")

	all := second.ProjectsSettings()
	require.Len(t, all, 1)
	require.Equal(t, "demo", all[0].Name)

	info, code := second.ServiceInfo("demo", "svc")
	require.Equal(t, OK, code)
	require.Equal(t, Stopped, info.Status)
}

func TestInitSkipsMalformedSettings(t *testing.T) {
	root := filepath.Join(t.TempDir(), "projects")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "broken"), 0o777))
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken", "meta"), []byte("{nope"), 0o644))

	fos := testinfra.NewFakeOS()
	log := testinfra.DiscardLogger()
	m := New(driver.New(root, fos, fos, log), log)
	require.Equal(t, OK, m.Init())
	defer m.Stop()

	require.Empty(t, m.ProjectsSettings())
}

func TestStopSweepsAllProjects(t *testing.T) {
	m, fos, _ := newTestManager(t)
	require.Equal(t, OK, m.Init())

	require.Equal(t, OK, m.ProjectUpsert(demoSettings("a")))
	require.Equal(t, OK, m.ProjectUpsert(demoSettings("b")))
	require.Equal(t, OK, m.ProjectStart("a", nil))
	require.Equal(t, OK, m.ProjectStart("b", nil))
	require.Equal(t, 4, fos.LiveCount())

	require.Equal(t, OK, m.Stop())
	require.Equal(t, 0, fos.LiveCount())
}

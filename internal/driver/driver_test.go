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

package driver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prixladi/conc/internal/settings"
	"github.com/prixladi/conc/internal/testinfra"
)

func testProject() settings.Project {
	return settings.Project{
		Name: "demo",
		Cwd:  "/tmp",
		Services: []settings.Service{
			{Name: "svc", Command: []string{"/bin/sleep", "60"}},
			{Name: "other", Command: []string{"/bin/true"}},
		},
	}
}

func newTestDriver(t *testing.T) (*Driver, *testinfra.FakeOS, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "projects")
	fos := testinfra.NewFakeOS()
	d := New(root, fos, fos, testinfra.DiscardLogger())
	require.Equal(t, OK, d.Mount())
	return d, fos, root
}

func TestProjectInitLayout(t *testing.T) {
	d, _, root := newTestDriver(t)
	p := testProject()

	require.Equal(t, OK, d.ProjectInit(p))

	meta, err := os.ReadFile(filepath.Join(root, "demo", "meta"))
	require.NoError(t, err)
	parsed, err := settings.Parse(string(meta))
	require.NoError(t, err)
	require.Equal(t, p.Name, parsed.Name)

	for _, svc := range p.Services {
		_, err := os.Stat(filepath.Join(root, "demo", svc.Name, "log"))
		require.NoError(t, err)
	}

	// Idempotent: a second init just rewrites.
	require.Equal(t, OK, d.ProjectInit(p))
}

func TestServiceStartRecordsMeta(t *testing.T) {
	d, fos, root := newTestDriver(t)
	p := testProject()
	require.Equal(t, OK, d.ProjectInit(p))

	require.Equal(t, OK, d.ServiceStart(p, p.Services[0], nil))
	started := fos.Started()
	require.Len(t, started, 1)
	require.Equal(t, "demo/svc", started[0].ID)

	info, res := d.ServiceInfo("demo", "svc")
	require.Equal(t, OK, res)
	require.Equal(t, StatusRunning, info.Status)
	require.NotZero(t, info.Pid)
	require.Equal(t, filepath.Join(root, "demo", "svc", "log"), info.LogfilePath)

	// At most one child: a second start is a no-action and launches
	// nothing new.
	require.Equal(t, NoAction, d.ServiceStart(p, p.Services[0], nil))
	require.Equal(t, 1, fos.StartedCount())
}

func TestServiceStartFailureIsProcError(t *testing.T) {
	d, fos, _ := newTestDriver(t)
	p := testProject()
	require.Equal(t, OK, d.ProjectInit(p))

	fos.FailLaunches("demo/svc")
	require.Equal(t, ProcError, d.ServiceStart(p, p.Services[0], nil))

	info, _ := d.ServiceInfo("demo", "svc")
	require.Equal(t, StatusNone, info.Status)
}

func TestServiceInfoDetectsPidReuse(t *testing.T) {
	d, fos, _ := newTestDriver(t)
	p := testProject()
	require.Equal(t, OK, d.ProjectInit(p))
	require.Equal(t, OK, d.ServiceStart(p, p.Services[0], nil))

	info, _ := d.ServiceInfo("demo", "svc")
	require.Equal(t, StatusRunning, info.Status)
	recorded := info.Pid

	fos.Reuse(recorded)

	// The PID exists but belongs to someone else now; never RUNNING.
	info, _ = d.ServiceInfo("demo", "svc")
	require.Equal(t, StatusStopped, info.Status)
	require.Equal(t, recorded, info.Pid)
}

func TestServiceStopKeepsRecordedPid(t *testing.T) {
	d, _, _ := newTestDriver(t)
	p := testProject()
	require.Equal(t, OK, d.ProjectInit(p))
	require.Equal(t, OK, d.ServiceStart(p, p.Services[0], nil))

	running, _ := d.ServiceInfo("demo", "svc")
	require.Equal(t, StatusRunning, running.Status)

	require.Equal(t, OK, d.ServiceStop("demo", p.Services[0]))

	stopped, _ := d.ServiceInfo("demo", "svc")
	require.Equal(t, StatusStopped, stopped.Status)
	require.Equal(t, running.Pid, stopped.Pid)

	// Stopping again changes nothing.
	require.Equal(t, NoAction, d.ServiceStop("demo", p.Services[0]))
}

func TestServiceInfoWithoutMeta(t *testing.T) {
	d, _, _ := newTestDriver(t)
	p := testProject()
	require.Equal(t, OK, d.ProjectInit(p))

	info, res := d.ServiceInfo("demo", "svc")
	require.Equal(t, OK, res)
	require.Equal(t, StatusNone, info.Status)
	require.Zero(t, info.Pid)
	require.Empty(t, info.LogfilePath)
}

func TestReadServiceMetaAcceptsLegacyThirdLine(t *testing.T) {
	d, _, root := newTestDriver(t)
	p := testProject()
	require.Equal(t, OK, d.ProjectInit(p))

	require.Equal(t, OK, d.ServiceStart(p, p.Services[0], nil))
	info, _ := d.ServiceInfo("demo", "svc")

	// Append a legacy third line (stop time) to the fresh record.
	metaPath := filepath.Join(root, "demo", "svc", "meta")
	content, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(metaPath, append(content, "\n123456"...), 0o644))

	legacy, _ := d.ServiceInfo("demo", "svc")
	require.Equal(t, StatusRunning, legacy.Status)
	require.Equal(t, info.Pid, legacy.Pid)
}

func TestStoredSettingsSkipsBrokenEntries(t *testing.T) {
	d, _, root := newTestDriver(t)
	require.Equal(t, OK, d.ProjectInit(testProject()))

	// A project directory with no meta file must not break listing.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "broken"), 0o777))

	stored := d.StoredSettings()
	require.Len(t, stored, 1)
	parsed, err := settings.Parse(stored[0])
	require.NoError(t, err)
	require.Equal(t, "demo", parsed.Name)
}

func TestProjectRemove(t *testing.T) {
	d, _, root := newTestDriver(t)
	p := testProject()
	require.Equal(t, OK, d.ProjectInit(p))
	require.Equal(t, OK, d.ServiceStart(p, p.Services[0], nil))

	require.Equal(t, OK, d.ProjectRemove(p))
	_, err := os.Stat(filepath.Join(root, "demo"))
	require.True(t, os.IsNotExist(err))
}

func TestServiceClearLogs(t *testing.T) {
	d, _, root := newTestDriver(t)
	p := testProject()
	require.Equal(t, OK, d.ProjectInit(p))

	logPath := filepath.Join(root, "demo", "svc", "log")
	require.NoError(t, os.WriteFile(logPath, []byte("output\n"), 0o644))

	require.Equal(t, OK, d.ServiceClearLogs("demo", p.Services[0]))
	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Empty(t, content)

	require.NoError(t, os.Remove(logPath))
	require.Equal(t, NoAction, d.ServiceClearLogs("demo", p.Services[0]))
}

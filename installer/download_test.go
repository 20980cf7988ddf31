// Copyright 2024 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
package installer

import (
	"bytes"
	"os"
	"path"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendersoftware/mender-updateclient/system"
)

type testPayload struct {
	name string
	*bytes.Reader
}

func newTestPayload(name, content string) *testPayload {
	return &testPayload{name: name, Reader: bytes.NewReader([]byte(content))}
}

func (p *testPayload) Name() string { return p.name }

func helperScriptPath(t *testing.T) string {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	return path.Join(cwd, "testdata", "download_test_helper.sh")
}

func startDownloadHelper(t *testing.T, workDir string, args ...string) (*moduleDownload, *delayKiller) {
	require.NoError(t, os.MkdirAll(path.Join(workDir, "streams"), 0700))
	require.NoError(t, syscall.Mkfifo(path.Join(workDir, "stream-next"), 0600))

	cmdArgs := append([]string{helperScriptPath(t)}, args...)
	cmd := system.Command(cmdArgs[0], cmdArgs[1:]...)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())

	killer := newDelayKiller(cmd.Process, 5*time.Second, time.Second)
	download := newModuleDownload(workDir, cmd, killer, "test-module")
	go download.detachedDownloadProcess()
	return download, killer
}

func TestModuleDownloadSuccess(t *testing.T) {
	workDir := t.TempDir()
	download, killer := startDownloadHelper(t, workDir, "success")
	defer killer.Stop()

	err := download.downloadStream(newTestPayload("rootfs", "payload bytes"))
	assert.NoError(t, err)

	err = download.finishDownloadProcess()
	assert.NoError(t, err)
}

func TestModuleDownloadFallbackToFiles(t *testing.T) {
	workDir := t.TempDir()
	download, killer := startDownloadHelper(t, workDir, "fallback")
	defer killer.Stop()

	err := download.downloadStream(newTestPayload("rootfs", "payload bytes"))
	assert.NoError(t, err)

	err = download.finishDownloadProcess()
	assert.NoError(t, err)

	content, err := os.ReadFile(path.Join(workDir, "files", "rootfs"))
	require.NoError(t, err)
	assert.Equal(t, "payload bytes", string(content))
}

func TestModuleDownloadMultiplePayloadsFallback(t *testing.T) {
	workDir := t.TempDir()
	download, killer := startDownloadHelper(t, workDir, "fallback")
	defer killer.Stop()

	require.NoError(t, download.downloadStream(newTestPayload("rootfs", "first")))
	require.NoError(t, download.downloadStream(newTestPayload("rootfs2", "second")))
	require.NoError(t, download.finishDownloadProcess())

	c1, err := os.ReadFile(path.Join(workDir, "files", "rootfs"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(c1))

	c2, err := os.ReadFile(path.Join(workDir, "files", "rootfs2"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(c2))
}

func TestModuleDownloadExitNonZero(t *testing.T) {
	workDir := t.TempDir()
	download, killer := startDownloadHelper(t, workDir, "exitcode", "2")
	defer killer.Stop()

	err := download.finishDownloadProcess()
	require.Error(t, err)
	var exitErr *NonZeroExitStatusError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode)
	assert.Contains(t, err.Error(), " 2")
}

func TestModuleDownloadTimeout(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(path.Join(workDir, "streams"), 0700))
	require.NoError(t, syscall.Mkfifo(path.Join(workDir, "stream-next"), 0600))

	cmd := system.Command(helperScriptPath(t), "sleep", "5")
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())

	// Short timeout: the helper sleeps far longer than this, so the
	// killer must fire and downloadProcessLoop must report ErrTimedOut.
	killer := newDelayKiller(cmd.Process, time.Second, 500*time.Millisecond)
	defer killer.Stop()

	download := newModuleDownload(workDir, cmd, killer, "test-module")
	go download.detachedDownloadProcess()

	err := download.finishDownloadProcess()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimedOut)
}

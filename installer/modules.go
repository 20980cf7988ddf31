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
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mendersoftware/mender-updateclient/system"
)

const defaultModuleTimeoutSecs = 4 * 60 * 60 // 4 hours

// ModuleInstaller drives one update module through the full install
// lifecycle for one payload of one deployment: Download, ArtifactInstall,
// NeedsReboot, ArtifactReboot, ArtifactCommit/ArtifactRollback, Cleanup.
type ModuleInstaller struct {
	modulesDir        string
	modulesWorkPath   string
	programPath       string
	artifactInfo      ArtifactInfoGetter
	deviceInfo        DeviceInfoGetter
	moduleTimeoutSecs int

	payloadIndex int
	updateType   string

	downloader *moduleDownload
	killer     *delayKiller
}

// payloadPath is the work directory for this payload's file tree, rooted
// under modulesWorkPath and keyed by a zero-padded payload index so that
// multiple payloads in one artifact never collide.
func (mod *ModuleInstaller) payloadPath() string {
	index := fmt.Sprintf("%04d", mod.payloadIndex)
	return path.Join(mod.modulesWorkPath, "payloads", index, "tree")
}

func (mod *ModuleInstaller) prepareFileTree(header ArtifactHeader) error {
	currName, err := mod.artifactInfo.GetCurrentArtifactName()
	if err != nil {
		return err
	}
	currGroup, err := mod.artifactInfo.GetCurrentArtifactGroup()
	if err != nil {
		return err
	}
	deviceType, err := mod.deviceInfo.GetDeviceType()
	if err != nil {
		return err
	}
	headerInfoJSON, err := header.GetHeaderInfoJSON()
	if err != nil {
		return err
	}
	typeInfoJSON, err := header.GetTypeInfoJSON()
	if err != nil {
		return err
	}
	metaDataJSON, err := header.GetMetaDataJSON()
	if err != nil {
		return err
	}

	return PrepareFileTree(mod.payloadPath(), FileTreeInfo{
		CurrentArtifactName:  currName,
		CurrentArtifactGroup: currGroup,
		CurrentDeviceType:    deviceType,
		ArtifactName:         header.GetArtifactName(),
		ArtifactGroup:        header.GetArtifactGroup(),
		PayloadType:          header.GetPayloadType(),
		HeaderInfoJSON:       headerInfoJSON,
		TypeInfoJSON:         typeInfoJSON,
		MetaDataJSON:         metaDataJSON,
	})
}

// startModule spawns the module in its own process group, running the given
// phase against the work directory, and arms the timeout killer.
func (mod *ModuleInstaller) startModule(phase string, stdout io.Writer) (*system.Cmd, *delayKiller, error) {
	payloadPath := mod.payloadPath()

	log.Debugf("installer: running %s %s %s", mod.programPath, phase, payloadPath)
	cmd := system.Command(mod.programPath, phase, payloadPath)
	cmd.Dir = payloadPath
	if stdout != nil {
		cmd.Stdout = stdout
	}
	cmd.Stderr = system.NewCmdLoggerStderr(mod.updateType + " " + phase)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, nil, errors.Wrapf(err, "installer: could not start update module for phase %s", phase)
	}

	timeout := time.Duration(mod.moduleTimeoutSecs) * time.Second
	killer := newDelayKiller(cmd.Process, timeout, time.Minute)
	return cmd, killer, nil
}

// Download runs the module's Download phase, streaming each of the
// artifact's payloads to it (or to files/ on fallback) per the stream-next
// handshake. The first fatal error encountered is returned;
// finishDownloadProcess is always run first so the process is reaped and the work directory left
// in a diagnosable state either way.
func (mod *ModuleInstaller) Download(artifact Artifact) error {
	if mod.downloader != nil {
		return errors.New("installer: internal error: Download called while a download is already active")
	}

	header := artifact.Header()
	if err := mod.prepareFileTree(header); err != nil {
		return err
	}

	cmd, killer, err := mod.startModule("Download", nil)
	if err != nil {
		return err
	}
	mod.killer = killer
	mod.downloader = newModuleDownload(mod.payloadPath(), cmd, killer, mod.updateType)
	go mod.downloader.detachedDownloadProcess()

	var firstErr error
	for {
		payload, nextErr := artifact.Next()
		if nextErr == io.EOF {
			break
		} else if nextErr != nil {
			firstErr = nextErr
			break
		}
		if err := mod.downloader.downloadStream(payload); err != nil {
			firstErr = err
			break
		}
	}

	finishErr := mod.downloader.finishDownloadProcess()
	mod.killer.Stop()
	mod.downloader = nil
	mod.killer = nil

	if firstErr != nil {
		return firstErr
	}
	return finishErr
}

// callModule runs one of the non-streaming phases to completion, optionally
// capturing its first line of stdout for phases that answer a query
// (SupportsRollback, NeedsReboot).
func (mod *ModuleInstaller) callModule(phase string, capture bool) (string, error) {
	var buf *bytes.Buffer
	var stdout io.Writer
	if capture {
		buf = bytes.NewBuffer(nil)
		stdout = buf
	}

	cmd, killer, err := mod.startModule(phase, stdout)
	if err != nil {
		return "", err
	}
	defer killer.Stop()

	err = cmd.Wait()
	if err != nil {
		if killer.firedByTimeout() {
			return "", ErrTimedOut
		}
		if exitCode, ok := errAsExitError(err); ok {
			return "", &NonZeroExitStatusError{Module: mod.updateType, Phase: phase, ExitCode: exitCode}
		}
		return "", errors.Wrap(err, "update module terminated abnormally")
	}

	output := ""
	if capture {
		output = strings.TrimSuffix(buf.String(), "\n")
		if idx := strings.IndexByte(output, '\n'); idx >= 0 {
			output = output[:idx]
		}
	}
	return output, nil
}

func (mod *ModuleInstaller) InstallUpdate() error {
	_, err := mod.callModule("ArtifactInstall", false)
	return err
}

func (mod *ModuleInstaller) NeedsReboot() (RebootAction, error) {
	output, err := mod.callModule("NeedsArtifactReboot", true)
	if err != nil {
		return NoReboot, err
	}
	switch output {
	case "", "No":
		return NoReboot, nil
	case "Yes":
		return RebootRequired, nil
	case "Automatic":
		return AutomaticReboot, nil
	default:
		return NoReboot, errors.Errorf(
			"installer: unexpected reply from update module NeedsArtifactReboot query: %q", output)
	}
}

func (mod *ModuleInstaller) Reboot() error {
	_, err := mod.callModule("ArtifactReboot", false)
	return err
}

func (mod *ModuleInstaller) SupportsRollback() (bool, error) {
	output, err := mod.callModule("SupportsRollback", true)
	if err != nil {
		return false, err
	}
	switch output {
	case "", "No":
		return false, nil
	case "Yes":
		return true, nil
	default:
		return false, errors.Errorf(
			"installer: unexpected reply from update module SupportsRollback query: %q", output)
	}
}

func (mod *ModuleInstaller) CommitUpdate() error {
	_, err := mod.callModule("ArtifactCommit", false)
	return err
}

func (mod *ModuleInstaller) Rollback() error {
	_, err := mod.callModule("ArtifactRollback", false)
	return err
}

func (mod *ModuleInstaller) RollbackReboot() error {
	_, err := mod.callModule("ArtifactRollbackReboot", false)
	return err
}

func (mod *ModuleInstaller) VerifyReboot() error {
	_, err := mod.callModule("ArtifactVerifyReboot", false)
	return err
}

func (mod *ModuleInstaller) VerifyRollbackReboot() error {
	_, err := mod.callModule("ArtifactVerifyRollbackReboot", false)
	return err
}

func (mod *ModuleInstaller) Failure() error {
	_, err := mod.callModule("ArtifactFailure", false)
	return err
}

// Cleanup removes the module's work directory. It is the only thing that
// does so: on any earlier failure the tree is left intact for diagnostics.
// A missing work directory is treated as "already cleaned up", which covers
// the spontaneous-reboot-after-Cleanup-ran case.
func (mod *ModuleInstaller) Cleanup() error {
	payloadPath := mod.payloadPath()

	if _, err := os.Stat(payloadPath); err != nil {
		log.Infof("installer: %s already gone, assuming cleanup already ran: %s", payloadPath, err)
		return nil
	}

	_, modErr := mod.callModule("Cleanup", false)

	if err := DeleteFileTree(payloadPath); err != nil {
		log.Errorf("installer: error removing module work directory: %s", err)
	}

	return modErr
}

func (mod *ModuleInstaller) GetType() string {
	return mod.updateType
}

// ModuleInstallerFactory discovers available update modules (under
// <dataStoreDir>/modules/v3) and builds a ModuleInstaller bound to one of
// them for one payload.
type ModuleInstallerFactory struct {
	dataStoreDir      string
	modulesWorkPath   string
	artifactInfo      ArtifactInfoGetter
	deviceInfo        DeviceInfoGetter
	moduleTimeoutSecs int
}

func NewModuleInstallerFactory(
	dataStoreDir, modulesWorkPath string,
	artifactInfo ArtifactInfoGetter,
	deviceInfo DeviceInfoGetter,
	moduleTimeoutSecs int,
) *ModuleInstallerFactory {
	if moduleTimeoutSecs <= 0 {
		moduleTimeoutSecs = defaultModuleTimeoutSecs
		log.Debugf("installer: module_timeout_seconds not set, defaulting to %d", moduleTimeoutSecs)
	}
	return &ModuleInstallerFactory{
		dataStoreDir:      dataStoreDir,
		modulesWorkPath:   modulesWorkPath,
		artifactInfo:      artifactInfo,
		deviceInfo:        deviceInfo,
		moduleTimeoutSecs: moduleTimeoutSecs,
	}
}

func (mf *ModuleInstallerFactory) NewModuleInstaller(updateType string, payloadIndex int) (*ModuleInstaller, error) {
	if payloadIndex < 0 || payloadIndex > 9999 {
		return nil, errors.Errorf("installer: payload index out of range 0-9999: %d", payloadIndex)
	}
	return &ModuleInstaller{
		payloadIndex:      payloadIndex,
		modulesDir:        path.Join(mf.dataStoreDir, ModulesSubdir),
		modulesWorkPath:   mf.modulesWorkPath,
		updateType:        updateType,
		programPath:       path.Join(mf.dataStoreDir, ModulesSubdir, updateType),
		artifactInfo:      mf.artifactInfo,
		deviceInfo:        mf.deviceInfo,
		moduleTimeoutSecs: mf.moduleTimeoutSecs,
	}, nil
}

// GetModuleTypes lists the executable update modules currently installed.
func (mf *ModuleInstallerFactory) GetModuleTypes() []string {
	modules, err := ListModules(mf.dataStoreDir)
	if err != nil {
		log.Infof("installer: could not list update modules: %s", err)
		return []string{}
	}
	return modules
}

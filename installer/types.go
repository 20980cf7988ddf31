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

// Package installer drives the external update-module protocol (C4/C5/C6):
// module discovery, the file tree a module reads its input from, the FIFO
// streaming handshake of the Download phase, and the other lifecycle phases
// (ArtifactInstall, NeedsReboot, ArtifactCommit, ...).
package installer

import (
	"fmt"

	"github.com/pkg/errors"
)

// ArtifactInfoGetter is the state-store facing half of the file tree: what
// is currently installed. device.Context implements this.
type ArtifactInfoGetter interface {
	GetCurrentArtifactName() (string, error)
	GetCurrentArtifactGroup() (string, error)
}

// DeviceInfoGetter supplies the device_type line of the file tree.
// device.Context implements this.
type DeviceInfoGetter interface {
	GetDeviceType() (string, error)
}

// RebootAction is the module's answer to the NeedsReboot query.
type RebootAction int

const (
	NoReboot RebootAction = iota
	RebootRequired
	AutomaticReboot
)

// ErrBrokenPipe is the cause of errors returned when the module closes one
// of the driver's FIFOs (stream-next or a payload stream) before the driver
// finished writing to it.
var ErrBrokenPipe = errors.New("update module closed the pipe before the driver finished writing")

// ErrTimedOut is the cause of errors returned when the module's wall-clock
// timeout expires. The process is killed and any pending I/O unblocked.
var ErrTimedOut = errors.New("update module timed out")

// NonZeroExitStatusError is returned when an update-module invocation exits
// with a non-zero status. The decimal exit code is always present in the
// error string.
type NonZeroExitStatusError struct {
	Module   string
	Phase    string
	ExitCode int
}

func (e *NonZeroExitStatusError) Error() string {
	return fmt.Sprintf("update module %s %s exited with status %d", e.Module, e.Phase, e.ExitCode)
}

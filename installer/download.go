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
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mendersoftware/mender-updateclient/system"
	"github.com/mendersoftware/mender-updateclient/utils"
)

// newStringReader is a small local shim so publishNameInStreamNext doesn't
// need to pull in bytes.Buffer for what is always a one-shot, fully
// buffered write.
func newStringReader(s string) io.Reader {
	return strings.NewReader(s)
}

// errAsExitError extracts a process exit code from the error returned by
// exec.Cmd.Wait, if that's what it is.
func errAsExitError(err error) (int, bool) {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return 0, false
	}
	return exitErr.ExitCode(), true
}

// delayKiller enforces the wall-clock timeout on a running module process:
// SIGTERM at the deadline, SIGKILL a minute later if it hasn't gone away.
// Killing the process group (note the minus sign) so a module that spawned
// its own children doesn't leave orphans behind.
type delayKiller struct {
	proc       *os.Process
	killer     *time.Timer
	hardKiller *time.Timer
	timedOut   int32
}

func newDelayKiller(proc *os.Process, killAfter, kill9After time.Duration) *delayKiller {
	k := &delayKiller{proc: proc}
	k.killer = time.AfterFunc(killAfter, func() {
		atomic.StoreInt32(&k.timedOut, 1)
		log.Errorf("Process %d timed out. Sending SIGTERM", k.proc.Pid)
		_ = syscall.Kill(-k.proc.Pid, syscall.SIGTERM)
	})
	k.hardKiller = time.AfterFunc(killAfter+kill9After, func() {
		atomic.StoreInt32(&k.timedOut, 1)
		log.Errorf("Process %d timed out. Sending SIGKILL", k.proc.Pid)
		_ = syscall.Kill(-k.proc.Pid, syscall.SIGKILL)
	})
	return k
}

func (k *delayKiller) Stop() {
	k.killer.Stop()
	k.hardKiller.Stop()
}

func (k *delayKiller) firedByTimeout() bool {
	return atomic.LoadInt32(&k.timedOut) != 0
}

// stream pumps one io.Reader into one named pipe (or regular file) on a
// goroutine, reporting the outcome on a channel. Opening a FIFO for writing
// blocks until a reader shows up on the other end, which is the suspension
// point the handshake relies on.
type stream struct {
	r         io.Reader
	name      string
	openFlags int
	status    chan error

	// progress, when set, is ticked with every chunk written to the
	// destination. Left nil for control messages (stream-next
	// announcements) that shouldn't move a progress bar.
	progress *utils.ProgressWriter
}

func newStream(r io.Reader, name string, openFlags int) *stream {
	return &stream{r: r, name: name, openFlags: openFlags}
}

func (s *stream) start() {
	s.status = make(chan error)
	runtime.SetFinalizer(s, func(s *stream) {
		s.cancel()
	})
	// Pass state as function arguments so the garbage collector can
	// collect the outer object and run our finalizer even while this
	// goroutine is still blocked in the open/copy below.
	go func(r io.Reader, name string, openFlags int, status chan error, progress *utils.ProgressWriter) {
		defer close(status)

		fd, err := os.OpenFile(name, openFlags, 0600)
		if err != nil {
			status <- errors.Wrapf(err, "installer: unable to open %s", name)
			return
		}
		defer fd.Close()

		var w io.Writer = fd
		if progress != nil {
			w = io.MultiWriter(fd, progress)
		}

		_, err = io.Copy(w, r)
		if err != nil {
			status <- errors.Wrap(ErrBrokenPipe, fmt.Sprintf("installer: streaming into %s (%v)", name, err))
			return
		}

		status <- nil
	}(s.r, s.name, s.openFlags, s.status, s.progress)
}

// cancel shakes the goroutine in start() loose by opening and immediately
// closing the read end non-blocking, so a hung writer doesn't leak forever.
func (s *stream) cancel() {
	for {
		select {
		case <-s.status:
			return
		default:
			cancel, err := os.OpenFile(s.name, os.O_RDONLY|syscall.O_NONBLOCK, 0600)
			if err == nil {
				cancel.Close()
			}
			runtime.Gosched()
		}
	}
}

func (s *stream) statusChannel() chan error {
	return s.status
}

const (
	unknownDownloader int = iota
	moduleDownloader
	menderDownloader
)

// moduleDownload is the single owner of the FIFO handshake state for one
// Download invocation. It is driven entirely from downloadProcessLoop, a
// single-threaded select loop, so none of these fields need locking: the
// spec's "no two callbacks in the same loop execute concurrently" property
// holds by construction.
type moduleDownload struct {
	payloadPath string
	proc        *system.Cmd
	killer      *delayKiller
	moduleName  string

	nextArtifactStream chan Payload
	status             chan error
	finishChannel      chan bool
	cmdErr             chan error

	downloaderType int
	currentStream  Payload
	finishFlag     bool
	streamNext     *stream
	stream         *stream
	progress       *utils.ProgressWriter
}

func newModuleDownload(payloadPath string, proc *system.Cmd, killer *delayKiller, moduleName string) *moduleDownload {
	return &moduleDownload{
		payloadPath:        payloadPath,
		proc:               proc,
		killer:             killer,
		moduleName:         moduleName,
		nextArtifactStream: make(chan Payload),
		status:             make(chan error),
		finishChannel:      make(chan bool),
		cmdErr:             make(chan error),
		progress:           utils.NewProgressWriter(0),
	}
}

// Should be called in a subroutine.
func (d *moduleDownload) detachedDownloadProcess() {
	err := d.downloadProcessLoop()
	d.status <- err
}

func (d *moduleDownload) handleCmdErr(err error) error {
	d.proc = nil

	if err != nil {
		if d.killer != nil && d.killer.firedByTimeout() {
			return ErrTimedOut
		}
		if exitCode, ok := errAsExitError(err); ok {
			return &NonZeroExitStatusError{
				Module:   d.moduleName,
				Phase:    "Download",
				ExitCode: exitCode,
			}
		}
		return errors.Wrap(err, "update module terminated abnormally")

	} else if d.finishFlag {
		// Process terminated, we are done.
		return nil

	} else if d.downloaderType == unknownDownloader {
		d.downloaderType = menderDownloader

		// We could still be trying to write to "stream-next" in a
		// goroutine; cancel that.
		if d.streamNext != nil {
			d.streamNext.cancel()
			d.streamNext = nil
		}

		if err := d.initializeMenderDownload(); err != nil {
			return err
		}

		if d.currentStream != nil {
			// Already have a stream queued up; spool it straight
			// into "files".
			filePath := path.Join(d.payloadPath, "files", d.currentStream.Name())
			d.stream = newStream(d.currentStream, filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
			d.stream.progress = d.progress
			d.stream.start()
		}

	} else if d.downloaderType == moduleDownloader {
		// Should always see finishFlag before this happens.
		return errors.New("update module terminated in the middle of the download")
	}

	return nil
}

func (d *moduleDownload) handleNextArtifactStream() error {
	if d.downloaderType == menderDownloader {
		filePath := path.Join(d.payloadPath, "files", d.currentStream.Name())
		d.stream = newStream(d.currentStream, filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
		d.stream.progress = d.progress
		d.stream.start()
	} else {
		var err error
		d.streamNext, err = d.publishNameInStreamNext(d.currentStream.Name())
		if err != nil {
			return err
		}
		d.streamNext.start()
	}
	return nil
}

func (d *moduleDownload) handleStreamNextChannel(err error) error {
	d.streamNext = nil

	if d.downloaderType == menderDownloader {
		// Fallback already decided; this status is stale.
		return nil
	}
	if err != nil {
		return err
	}
	if d.downloaderType == unknownDownloader {
		d.downloaderType = moduleDownloader
	}
	if d.finishFlag {
		return nil
	}

	filePath := path.Join(d.payloadPath, "streams", d.currentStream.Name())
	d.stream = newStream(d.currentStream, filePath, os.O_WRONLY)
	d.stream.progress = d.progress
	d.stream.start()

	return nil
}

func (d *moduleDownload) handleStreamChannel(err error) error {
	d.stream = nil
	if err != nil {
		return err
	}
	if d.downloaderType == moduleDownloader {
		// The payload has been fully written; its FIFO is no longer needed.
		fifoPath := path.Join(d.payloadPath, "streams", d.currentStream.Name())
		if err := os.Remove(fifoPath); err != nil {
			return errors.Wrapf(err, "installer: unable to remove %s", fifoPath)
		}
	}
	d.status <- nil
	return nil
}

func (d *moduleDownload) handleFinishChannel() error {
	d.finishFlag = true

	if d.downloaderType == menderDownloader {
		syscall.Sync()
	} else {
		var err error
		d.streamNext, err = d.publishNameInStreamNext("")
		if err != nil {
			return err
		}
		d.streamNext.start()
	}
	return nil
}

// downloadProcessLoop is the reactor that owns the whole Download handshake.
// It selects over five event sources: the module process exiting, a new
// payload being offered by the caller, the "stream-next" write completing,
// the current payload stream completing, and the caller signalling that all
// payloads have been offered.
func (d *moduleDownload) downloadProcessLoop() error {
	go func() {
		err := d.proc.Wait()
		d.cmdErr <- err
	}()

	defer func() {
		if d.streamNext != nil {
			d.streamNext.cancel()
		}
		if d.stream != nil {
			d.stream.cancel()
		}
	}()

	for {
		var streamNextChannel chan error
		if d.streamNext != nil {
			streamNextChannel = d.streamNext.statusChannel()
		}
		var streamChannel chan error
		if d.stream != nil {
			streamChannel = d.stream.statusChannel()
		}

		var err error
		select {
		case err = <-d.cmdErr:
			err = d.handleCmdErr(err)
		case d.currentStream = <-d.nextArtifactStream:
			err = d.handleNextArtifactStream()
		case err = <-streamNextChannel:
			err = d.handleStreamNextChannel(err)
		case err = <-streamChannel:
			err = d.handleStreamChannel(err)
		case <-d.finishChannel:
			err = d.handleFinishChannel()
		}

		if d.finishFlag && d.proc == nil {
			return err
		} else if err != nil {
			d.status <- err
		}
	}
}

func (d *moduleDownload) publishNameInStreamNext(name string) (*stream, error) {
	if name != "" {
		streamName := path.Join(d.payloadPath, "streams", name)
		if err := syscall.Mkfifo(streamName, 0600); err != nil {
			return nil, errors.Wrapf(err, "installer: unable to create %s", streamName)
		}
	}

	var line string
	if name != "" {
		line = fmt.Sprintf("streams/%s\n", name)
	}

	streamPath := path.Join(d.payloadPath, "stream-next")
	return newStream(newStringReader(line), streamPath, os.O_WRONLY), nil
}

func (d *moduleDownload) initializeMenderDownload() error {
	if err := os.RemoveAll(path.Join(d.payloadPath, "streams")); err != nil {
		return err
	}
	if err := os.Remove(path.Join(d.payloadPath, "stream-next")); err != nil {
		return err
	}
	return os.Mkdir(path.Join(d.payloadPath, "files"), 0700)
}

// downloadStream offers one artifact payload to the running module. It
// blocks until the module has consumed it (or spooled it to files, or
// failed).
func (d *moduleDownload) downloadStream(p Payload) error {
	d.nextArtifactStream <- p
	return <-d.status
}

// finishDownloadProcess signals end-of-payloads and waits for the module to
// exit. It must be called even if a prior downloadStream returned an error,
// so the process is reaped and the loop torn down.
func (d *moduleDownload) finishDownloadProcess() error {
	d.finishChannel <- true
	return <-d.status
}

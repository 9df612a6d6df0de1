// Copyright 2024 The runiso Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package isolate

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// pidfdCell holds the pidfd of the single child of this process, for the
// signal forwarder to read lock-free. At most one child exists per parent
// lifetime, so the cell is published exactly once and never reset.
type pidfdCell struct {
	val atomic.Int32
}

func (c *pidfdCell) publish(fd int) {
	if !c.val.CompareAndSwap(0, int32(fd)) {
		panic("isolate: child pidfd published twice")
	}
}

func (c *pidfdCell) load() int {
	return int(c.val.Load())
}

var childPidfd pidfdCell

// forwardedSignals are relayed from the parent to the isolated child.
var forwardedSignals = []os.Signal{
	unix.SIGTERM,
	unix.SIGINT,
	unix.SIGHUP,
	unix.SIGQUIT,
	unix.SIGUSR1,
	unix.SIGUSR2,
}

// runParent spawns the isolated child and supervises it. It returns only on
// setup failures that leave the caller in a usable state; once the child has
// been released, the parent's lifetime ends with the child's.
func (i *Isolator) runParent() error {
	if err := gate(); err != nil {
		return err
	}

	// The parent maps are read up front: the child derives its identity
	// mapping from them, and a failure here must not leave a child behind.
	uidMap, gidMap, err := readParentMaps()
	if err != nil {
		return err
	}

	// The child waits for the ID maps on the read end of this pipe. The
	// parent releases it by closing the write end once the maps are
	// committed; a parent that dies early closes it too, and the child then
	// fails on the first operation that needs a usable mapping.
	pipeR, pipeW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPipeCreation, err)
	}
	defer pipeW.Close()

	cmd := exec.Command("/proc/self/exe", os.Args[1:]...)
	cmd.Args[0] = os.Args[0]
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{pipeR}
	cmd.Env = append(os.Environ(),
		stageEnv+"="+stageAwait,
		// ExtraFiles start at fd 3 in the child.
		syncFDEnv+"=3",
	)
	cmd.SysProcAttr = &unix.SysProcAttr{
		Pdeathsig:  unix.SIGKILL,
		Cloneflags: i.cloneFlags(),
	}

	if err := cmd.Start(); err != nil {
		pipeR.Close()
		return fmt.Errorf("%w: %w", ErrCloneFailed, err)
	}
	pipeR.Close()
	pid := cmd.Process.Pid
	logrus.Debugf("isolated child started, PID: %d", pid)

	// The pidfd is the signaling handle for the whole supervision phase;
	// without it the child cannot be reliably reached, so there is no
	// graceful way out of this failure.
	pidfd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		logrus.Errorf("isolation failed: unable to open pidfd for child %d: %v", pid, err)
		os.Exit(1)
	}
	childPidfd.publish(pidfd)

	if err := writeMaps(pid, identityMap(uidMap), identityMap(gidMap)); err != nil {
		destroyChild(pid)
		return err
	}

	// Forwarding is installed after the maps are written and before the
	// barrier is released: the first moment the child can observe its
	// namespace-privileged state is also the first moment parent signals
	// reach it.
	startSignalForwarder(childPidfd.load())

	pipeW.Close()

	ws := waitChild(cmd)
	if ws.Signaled() {
		os.Exit(128 + int(ws.Signal()))
	}
	os.Exit(ws.ExitStatus())
	panic("unreachable")
}

// cloneFlags returns the namespace flags for the child. User and mount
// namespaces are always created; a PID namespace only on request.
func (i *Isolator) cloneFlags() uintptr {
	flags := uintptr(unix.CLONE_NEWUSER | unix.CLONE_NEWNS)
	if i.newPIDNamespace {
		flags |= unix.CLONE_NEWPID
	}
	return flags
}

// startSignalForwarder relays the forwarded signal set to the child through
// its pidfd, which stays valid regardless of PID reuse.
func startSignalForwarder(pidfd int) {
	ch := make(chan os.Signal, 32)
	signal.Notify(ch, forwardedSignals...)
	go relaySignals(pidfd, ch, sendSignal)
}

// sendSignal delivers sig to the process behind pidfd. Replaced in tests.
var sendSignal = func(pidfd int, sig unix.Signal) error {
	return unix.PidfdSendSignal(pidfd, sig, nil, 0)
}

// relaySignals forwards every signal received on ch exactly once. It returns
// when ch is closed.
func relaySignals(pidfd int, ch <-chan os.Signal, send func(int, unix.Signal) error) {
	for sig := range ch {
		s, ok := sig.(syscall.Signal)
		if !ok {
			continue
		}
		if err := send(pidfd, unix.Signal(s)); err != nil {
			logrus.Debugf("forwarding signal %v to child: %v", s, err)
		}
	}
}

// destroyChild kills a child whose setup failed and reaps it, so that the
// setup error can be surfaced without leaving a zombie or an orphan behind.
// If even the kill fails there is no way to recover the process tree.
func destroyChild(pid int) {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		logrus.Errorf("isolation failed: unable to kill child %d: %v", pid, err)
		os.Exit(1)
	}
	op := func() error {
		var ws unix.WaitStatus
		reaped, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if reaped == 0 {
			return fmt.Errorf("child %d still running", pid)
		}
		return nil
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 50)
	if err := backoff.Retry(op, b); err != nil {
		logrus.Warnf("unable to reap child %d: %v", pid, err)
	}
}

// waitChild waits until the child has exited or been killed by a signal and
// returns its wait status.
func waitChild(cmd *exec.Cmd) unix.WaitStatus {
	err := cmd.Wait()
	if err == nil {
		return unix.WaitStatus(0)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			return unix.WaitStatus(ws)
		}
	}
	logrus.Errorf("isolation failed: unable to wait for child process: %v", err)
	os.Exit(1)
	panic("unreachable")
}

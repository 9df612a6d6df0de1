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
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// awaitRelease blocks until the parent has committed the ID maps, then
// re-executes this binary to enter the setup stage.
//
// This incarnation of the child exec'd before the maps existed, so it holds
// no capabilities in the new user namespace even now that they do. The
// second exec runs with UID 0 inside the namespace and regains them; the PID
// is preserved across it, which keeps a requested PID namespace intact.
func awaitRelease() error {
	fdStr := os.Getenv(syncFDEnv)
	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return fmt.Errorf("%w: unexpected sync fd %q", ErrBarrierWait, fdStr)
	}
	pipeR := os.NewFile(uintptr(fd), "sync pipe")

	// The parent releases the barrier by closing its write end; EOF is the
	// signal. A parent that died before committing the maps is
	// indistinguishable, and this process then fails closed on its first
	// privileged mount.
	buf := make([]byte, 1)
	if _, err := pipeR.Read(buf); err != nil && err != io.EOF {
		return fmt.Errorf("%w: %w", ErrBarrierWait, err)
	}
	pipeR.Close()

	os.Unsetenv(syncFDEnv)
	os.Setenv(stageEnv, stageSetup)
	if err := unix.Exec("/proc/self/exe", os.Args, os.Environ()); err != nil {
		return fmt.Errorf("%w: re-executing for namespace capabilities: %w", ErrBarrierWait, err)
	}
	panic("unreachable")
}

// setupChild applies the configured isolation inside the new namespaces:
// mount propagation, bind mounts in configuration order, then chroot. On
// success control returns to the caller, which typically replaces the
// process with the payload command.
func (i *Isolator) setupChild() error {
	// Without this, the bind mounts below would propagate back into the
	// caller's mount namespace on systems with shared root propagation.
	if err := unix.Mount("none", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("%w: %w", ErrMountPrivate, err)
	}

	for _, bm := range i.bindMounts {
		flags := uintptr(unix.MS_BIND)
		if bm.Recursive {
			flags |= unix.MS_REC
		}
		logrus.Debugf("bind mounting %q -> %q (recursive=%t)", bm.Source, bm.Target, bm.Recursive)
		if err := unix.Mount(bm.Source, bm.Target, "", flags, ""); err != nil {
			return fmt.Errorf("%w: %q -> %q: %w", ErrBindMount, bm.Source, bm.Target, err)
		}
	}

	if i.chrootPath != "" {
		logrus.Debugf("chrooting to %q", i.chrootPath)
		if err := unix.Chroot(i.chrootPath); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrChroot, i.chrootPath, err)
		}
		if err := unix.Chdir("/"); err != nil {
			return fmt.Errorf("%w: %w", ErrChdir, err)
		}
	}
	return nil
}

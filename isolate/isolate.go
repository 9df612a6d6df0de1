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

// Package isolate transfers the execution of the current program into a child
// process running in a fresh set of Linux namespaces.
//
// An Isolator creates a new user and mount namespace for the child and,
// optionally, a new PID namespace. The parent writes the child's uid_map and
// gid_map so that UID 0 inside the new user namespace corresponds to the
// caller's UID outside, then supervises the child: it forwards signals
// through a pidfd, waits for the child to exit, and exits itself with the
// child's status. Isolate returns only in the child; in the parent it either
// returns an error or does not return at all. This effectively hands the
// ongoing execution over to the isolated child.
//
// Since a Go process cannot fork without exec, the handover is implemented by
// re-executing /proc/self/exe with the namespace clone flags set. The child
// is the same binary with the same arguments; on re-entry, Isolate detects
// the stage it is running in from the environment and takes the child side.
// Callers must therefore route execution back into Isolate with an identical
// configuration, which any driver that builds its Isolator from argv does by
// construction.
package isolate

import (
	"fmt"
	"os"
)

// Environment carried from the parent to the child incarnations. The stage
// selects the role on re-entry; the sync fd number locates the barrier pipe.
const (
	stageEnv  = "_RUNISO_STAGE"
	syncFDEnv = "_RUNISO_SYNC_FD"

	stageAwait = "await"
	stageSetup = "setup"
)

// BindMount exposes a source path at a target path inside the child's mount
// namespace. The target must already exist; it is never created.
type BindMount struct {
	Source    string
	Target    string
	Recursive bool
}

// Isolator describes an isolated environment to hand execution over to.
//
// Isolator values are built once and must not be modified after Isolate has
// been called.
type Isolator struct {
	bindMounts      []BindMount
	chrootPath      string
	newPIDNamespace bool
}

// New returns an Isolator with default settings: no bind mounts, no chroot,
// and no new PID namespace.
func New() *Isolator {
	return &Isolator{}
}

// WithBindMount adds a bind mount to set up in the isolated child.
//
// Mounts are established in the order they were added, after the mount
// namespace has been made private and before the chroot (if any). The target
// path must exist beforehand.
func (i *Isolator) WithBindMount(src, dst string) *Isolator {
	i.bindMounts = append(i.bindMounts, BindMount{Source: src, Target: dst})
	return i
}

// WithRecursiveBindMount is like WithBindMount, but also binds the mounts
// below the source path.
func (i *Isolator) WithRecursiveBindMount(src, dst string) *Isolator {
	i.bindMounts = append(i.bindMounts, BindMount{Source: src, Target: dst, Recursive: true})
	return i
}

// WithChroot makes the child chroot to path after all bind mounts are set up.
func (i *Isolator) WithChroot(path string) *Isolator {
	i.chrootPath = path
	return i
}

// WithNewPIDNamespace spawns the child in a new PID namespace. The child
// becomes PID 1 inside it.
func (i *Isolator) WithNewPIDNamespace() *Isolator {
	i.newPIDNamespace = true
	return i
}

// Isolate transfers the execution into an isolated child process.
//
// On success it returns nil only in the child. The parent does not return:
// it waits for the child, forwarding signals to it, and exits with the
// child's exit code, or with 128 plus the signal number if the child was
// killed by a signal. On failure in the parent, the child (if one was
// created) is killed and reaped before the error is returned.
//
// Isolate may be used at most once per process.
func (i *Isolator) Isolate() error {
	switch stage := os.Getenv(stageEnv); stage {
	case "":
		return i.runParent()
	case stageAwait:
		return awaitRelease()
	case stageSetup:
		os.Unsetenv(stageEnv)
		return i.setupChild()
	default:
		return fmt.Errorf("unexpected isolation stage %q", stage)
	}
}

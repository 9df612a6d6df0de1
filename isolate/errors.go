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

import "errors"

// Errors returned by Isolate. They classify the failure; the wrapped chain
// carries the specific paths and OS causes. Match with errors.Is.
var (
	// ErrNotSingleThreaded is returned when other goroutines are running at
	// the time of the handover.
	ErrNotSingleThreaded = errors.New("process has concurrent goroutines")

	// ErrThreadCountUnknown is returned when the OS thread count of the
	// process cannot be determined from /proc/self/status.
	ErrThreadCountUnknown = errors.New("unable to determine thread count")

	// ErrParentMapRead is returned when the parent's own uid_map or gid_map
	// cannot be read.
	ErrParentMapRead = errors.New("unable to read parent ID map")

	// ErrPipeCreation is returned when the barrier pipe cannot be created.
	ErrPipeCreation = errors.New("unable to create pipe")

	// ErrCloneFailed is returned when the child process cannot be started in
	// new namespaces.
	ErrCloneFailed = errors.New("unable to clone process")

	// ErrMapWrite is returned when writing the child's uid_map or gid_map
	// fails and the helper fallback does not apply.
	ErrMapWrite = errors.New("unable to write ID map")

	// ErrSubIDParse is returned when /etc/subuid or /etc/subgid cannot be
	// read.
	ErrSubIDParse = errors.New("unable to parse subordinate ID file")

	// ErrSubIDEntryMissing is returned when no subordinate ID range is
	// declared for the current user.
	ErrSubIDEntryMissing = errors.New("no subordinate ID entry found")

	// ErrUserLookup is returned when the current UID has no entry in the
	// password database.
	ErrUserLookup = errors.New("unable to look up username")

	// ErrHelperInvocation is returned when newuidmap or newgidmap cannot be
	// executed.
	ErrHelperInvocation = errors.New("unable to execute ID map helper")

	// ErrHelperExit is returned when newuidmap or newgidmap exits non-zero.
	ErrHelperExit = errors.New("ID map helper failed")

	// ErrMountPrivate is returned by the child when it cannot make its mount
	// namespace private.
	ErrMountPrivate = errors.New("unable to make / private")

	// ErrBindMount is returned by the child when a configured bind mount
	// cannot be established.
	ErrBindMount = errors.New("bind mount failed")

	// ErrChroot is returned by the child when the configured chroot fails.
	ErrChroot = errors.New("chroot failed")

	// ErrChdir is returned by the child when it cannot change to the new
	// root directory after chroot.
	ErrChdir = errors.New("unable to change directory to / after chroot")

	// ErrBarrierWait is returned by the child when waiting for the parent
	// fails.
	ErrBarrierWait = errors.New("unable to wait for parent")
)

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
	"os"
	"testing"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
)

func TestRelaySignalsForwardsEachSignalOnce(t *testing.T) {
	const pidfd = 7
	var sent []unix.Signal
	send := func(fd int, sig unix.Signal) error {
		assert.Equal(t, fd, pidfd)
		sent = append(sent, sig)
		return nil
	}

	ch := make(chan os.Signal, 8)
	ch <- unix.SIGTERM
	ch <- unix.SIGUSR1
	ch <- unix.SIGTERM
	close(ch)

	relaySignals(pidfd, ch, send)

	assert.DeepEqual(t, sent, []unix.Signal{unix.SIGTERM, unix.SIGUSR1, unix.SIGTERM})
}

// fakeSignal is an os.Signal with no underlying signal number.
type fakeSignal struct{}

func (fakeSignal) String() string { return "fake" }
func (fakeSignal) Signal()        {}

func TestRelaySignalsIgnoresNonPosixSignals(t *testing.T) {
	calls := 0
	send := func(int, unix.Signal) error {
		calls++
		return nil
	}

	ch := make(chan os.Signal, 2)
	ch <- fakeSignal{}
	ch <- unix.SIGHUP
	close(ch)

	relaySignals(3, ch, send)
	assert.Equal(t, calls, 1)
}

func TestCloneFlags(t *testing.T) {
	base := New()
	assert.Equal(t, base.cloneFlags(), uintptr(unix.CLONE_NEWUSER|unix.CLONE_NEWNS))

	withPID := New().WithNewPIDNamespace()
	assert.Equal(t, withPID.cloneFlags(), uintptr(unix.CLONE_NEWUSER|unix.CLONE_NEWNS|unix.CLONE_NEWPID))
}

func TestForwardedSignalSet(t *testing.T) {
	assert.DeepEqual(t, forwardedSignals, []os.Signal{
		unix.SIGTERM, unix.SIGINT, unix.SIGHUP, unix.SIGQUIT, unix.SIGUSR1, unix.SIGUSR2,
	})
}

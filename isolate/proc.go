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
	"bufio"
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const selfStatusPath = "/proc/self/status"

// gate verifies that execution can be handed over safely. It must run before
// any child process is created.
//
// The process cannot be single-OS-threaded (the Go runtime owns several
// threads from startup), so the gate applies to the runtime's own unit of
// concurrency instead: goroutines running concurrently with the handover
// would be duplicated in the child or silently abandoned in the parent. The
// gate is deliberately strict; a false positive is preferable to corrupted
// state after the handover.
//
// The OS thread count is still probed: a process whose /proc is unusable
// cannot have its child's ID maps written later, so an undeterminable count
// fails here rather than halfway through the setup.
func gate() error {
	data, err := os.ReadFile(selfStatusPath)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", ErrThreadCountUnknown, selfStatusPath, err)
	}
	if _, err := parseThreadCount(data); err != nil {
		return fmt.Errorf("%w: %w", ErrThreadCountUnknown, err)
	}
	if n := runtime.NumGoroutine(); n > 1 {
		return fmt.Errorf("%w: %d goroutines running", ErrNotSingleThreaded, n)
	}
	return nil
}

// parseThreadCount extracts the thread count from the content of a
// /proc/<pid>/status file.
func parseThreadCount(data []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		rest, ok := strings.CutPrefix(scanner.Text(), "Threads:")
		if !ok {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return 0, fmt.Errorf("malformed Threads line %q", scanner.Text())
		}
		return count, nil
	}
	return 0, fmt.Errorf("no Threads line in process status")
}

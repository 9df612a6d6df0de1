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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// readParentMaps reads this process' own uid_map and gid_map. They are read
// before the child exists so that a failure surfaces before anything needs to
// be cleaned up.
func readParentMaps() (uidMap, gidMap []specs.LinuxIDMapping, err error) {
	for _, m := range []struct {
		path string
		dst  *[]specs.LinuxIDMapping
	}{
		{"/proc/self/uid_map", &uidMap},
		{"/proc/self/gid_map", &gidMap},
	} {
		data, err := os.ReadFile(m.path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: reading %s: %w", ErrParentMapRead, m.path, err)
		}
		*m.dst = parseIDMap(data)
	}
	return uidMap, gidMap, nil
}

// parseIDMap parses kernel ID map content, one "inside outside count" triple
// per line. Lines that do not parse are skipped.
func parseIDMap(data []byte) []specs.LinuxIDMapping {
	var mappings []specs.LinuxIDMapping
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		inside, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		outside, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			continue
		}
		count, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		mappings = append(mappings, specs.LinuxIDMapping{
			ContainerID: uint32(inside),
			HostID:      uint32(outside),
			Size:        uint32(count),
		})
	}
	return mappings
}

// identityMap derives the child's ID map from the parent's: each range maps
// onto itself. When the parent is already inside a user namespace that was
// granted subordinate ranges, this propagates exactly those ranges into the
// child, neither widening nor narrowing them. An empty parent map derives the
// default single-ID root mapping.
func identityMap(parent []specs.LinuxIDMapping) []specs.LinuxIDMapping {
	if len(parent) == 0 {
		return []specs.LinuxIDMapping{{ContainerID: 0, HostID: 0, Size: 1}}
	}
	mappings := make([]specs.LinuxIDMapping, 0, len(parent))
	for _, m := range parent {
		mappings = append(mappings, specs.LinuxIDMapping{
			ContainerID: m.ContainerID,
			HostID:      m.ContainerID,
			Size:        m.Size,
		})
	}
	return mappings
}

// formatIDMap serializes mappings into the format accepted by the kernel's
// uid_map and gid_map files. The content must be written in a single write.
func formatIDMap(mappings []specs.LinuxIDMapping) []byte {
	var buf bytes.Buffer
	for _, m := range mappings {
		fmt.Fprintf(&buf, "%d %d %d\n", m.ContainerID, m.HostID, m.Size)
	}
	return buf.Bytes()
}

// writeMaps establishes the child's ID mappings. The direct write requires
// the parent to hold CAP_SETUID/CAP_SETGID over the child's user namespace;
// when the uid_map write is denied, the setuid helpers take over instead so
// that rootless callers with subordinate ranges still work. A gid_map denial
// after a successful uid_map write has no fallback. The direct path does not
// touch /proc/<pid>/setgroups and therefore serves privileged parents only.
func writeMaps(pid int, uidMap, gidMap []specs.LinuxIDMapping) error {
	uidPath := fmt.Sprintf("/proc/%d/uid_map", pid)
	err := os.WriteFile(uidPath, formatIDMap(uidMap), 0)
	if errors.Is(err, unix.EPERM) {
		logrus.Debugf("writing %s denied, falling back to ID map helpers", uidPath)
		return writeMapsWithHelpers(pid)
	}
	if err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrMapWrite, uidPath, err)
	}

	gidPath := fmt.Sprintf("/proc/%d/gid_map", pid)
	if err := os.WriteFile(gidPath, formatIDMap(gidMap), 0); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrMapWrite, gidPath, err)
	}
	return nil
}

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
	"strconv"
	"strings"

	"github.com/moby/sys/user"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/gocapability/capability"
)

const (
	subUIDPath = "/etc/subuid"
	subGIDPath = "/etc/subgid"
)

// SubID is a subordinate ID range granted to a user in /etc/subuid or
// /etc/subgid.
type SubID struct {
	Start uint32
	Count uint32
}

// parseSubIDFile finds the subordinate ID range declared for name. Lines are
// colon-delimited "name:start:count" triples; lines whose start or count does
// not parse are skipped; the first matching parseable line wins.
func parseSubIDFile(path, name string) (SubID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SubID{}, fmt.Errorf("%w: %s: %w", ErrSubIDParse, path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		parts := strings.Split(line, ":")
		if len(parts) < 3 || strings.TrimSpace(parts[0]) != name {
			continue
		}
		start, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
		if err != nil {
			continue
		}
		count, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 32)
		if err != nil {
			continue
		}
		return SubID{Start: uint32(start), Count: uint32(count)}, nil
	}
	return SubID{}, fmt.Errorf("%w: no entry for %q in %s", ErrSubIDEntryMissing, name, path)
}

// helperArgs builds the argument vector for newuidmap/newgidmap: container ID
// 0 maps to the caller's real ID, and container IDs starting at 1 map to the
// subordinate range.
func helperArgs(pid, realID int, sub SubID) []string {
	return []string{
		strconv.Itoa(pid),
		"0", strconv.Itoa(realID), "1",
		"1", strconv.FormatUint(uint64(sub.Start), 10), strconv.FormatUint(uint64(sub.Count), 10),
	}
}

// writeMapsWithHelpers sets the child's ID mappings through the setuid
// newuidmap and newgidmap helpers. This is the rootless path: the helpers
// perform the privileged write on behalf of users that were granted
// subordinate ID ranges.
func writeMapsWithHelpers(pid int) error {
	realUID := os.Getuid()
	realGID := os.Getgid()

	u, err := user.LookupUid(realUID)
	if err != nil {
		return fmt.Errorf("%w: uid %d: %w", ErrUserLookup, realUID, err)
	}

	subUID, err := parseSubIDFile(subUIDPath, u.Name)
	if err != nil {
		return err
	}
	subGID, err := parseSubIDFile(subGIDPath, u.Name)
	if err != nil {
		return err
	}

	if err := runHelper("newuidmap", helperArgs(pid, realUID, subUID), capability.CAP_SETUID, os.ModeSetuid); err != nil {
		return err
	}
	return runHelper("newgidmap", helperArgs(pid, realGID, subGID), capability.CAP_SETGID, os.ModeSetgid)
}

// runHelper executes one of the ID map helpers and interprets its exit.
func runHelper(name string, args []string, fileCap capability.Cap, mode os.FileMode) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrHelperInvocation, name, err)
	}
	logrus.Debugf("running %s %v", path, args)
	out, err := exec.Command(path, args...).CombinedOutput()
	if err == nil {
		return nil
	}
	if !isSetID(path, mode, fileCap) {
		logrus.Warnf("%s should be setuid/setgid or have the file capability %v", path, fileCap)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return fmt.Errorf("%w: %s exited with code %d: %s", ErrHelperExit, name, ee.ExitCode(), strings.TrimSpace(string(out)))
	}
	return fmt.Errorf("%w: %s: %w", ErrHelperInvocation, name, err)
}

// isSetID reports whether path carries the given set-ID mode bit or the
// matching file capability. Used for diagnostics only: a helper without
// either cannot perform the privileged map write.
func isSetID(path string, mode os.FileMode, fileCap capability.Cap) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Mode()&mode == mode {
		return true
	}
	caps, err := capability.NewFile2(path)
	if err != nil {
		return false
	}
	if err := caps.Load(); err != nil {
		return false
	}
	return caps.Get(capability.EFFECTIVE, fileCap)
}

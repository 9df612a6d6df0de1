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
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func writeSubIDFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subid")
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseSubIDFile(t *testing.T) {
	const content = "alice:100000:65536\nbob:200000:65536\n"

	testCases := []struct {
		doc      string
		content  string
		name     string
		expected SubID
		errIs    error
	}{
		{
			doc:      "first user",
			content:  content,
			name:     "alice",
			expected: SubID{Start: 100000, Count: 65536},
		},
		{
			doc:      "second user",
			content:  content,
			name:     "bob",
			expected: SubID{Start: 200000, Count: 65536},
		},
		{
			doc:     "unknown user",
			content: content,
			name:    "carol",
			errIs:   ErrSubIDEntryMissing,
		},
		{
			doc:      "malformed line is skipped",
			content:  "alice:bad:1\nalice:100000:65536\n",
			name:     "alice",
			expected: SubID{Start: 100000, Count: 65536},
		},
		{
			doc:     "only malformed lines yields absent entry",
			content: "alice:bad:1\nalice:1:bad\n",
			name:    "alice",
			errIs:   ErrSubIDEntryMissing,
		},
		{
			doc:      "first matching line wins",
			content:  "alice:100000:65536\nalice:500000:1000\n",
			name:     "alice",
			expected: SubID{Start: 100000, Count: 65536},
		},
		{
			doc:      "fields are trimmed",
			content:  " alice : 100000 : 65536 \n",
			name:     "alice",
			expected: SubID{Start: 100000, Count: 65536},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.doc, func(t *testing.T) {
			sub, err := parseSubIDFile(writeSubIDFile(t, tc.content), tc.name)
			if tc.errIs != nil {
				assert.ErrorIs(t, err, tc.errIs)
				return
			}
			assert.NilError(t, err)
			assert.Equal(t, sub, tc.expected)
		})
	}
}

func TestParseSubIDFileMissing(t *testing.T) {
	_, err := parseSubIDFile(filepath.Join(t.TempDir(), "nonexistent"), "alice")
	assert.ErrorIs(t, err, ErrSubIDParse)
}

func TestHelperArgs(t *testing.T) {
	// The helpers receive the documented schema: container ID 0 maps to the
	// caller's real ID, container IDs from 1 to the subordinate range.
	args := helperArgs(4321, 1000, SubID{Start: 100000, Count: 65536})
	assert.DeepEqual(t, args, []string{"4321", "0", "1000", "1", "1", "100000", "65536"})
}

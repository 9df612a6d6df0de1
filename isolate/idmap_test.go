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
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"gotest.tools/v3/assert"
)

// deriveIdentity runs the full parse/transform/serialize chain, the way the
// parent derives a child map from its own.
func deriveIdentity(parentMap string) string {
	return string(formatIDMap(identityMap(parseIDMap([]byte(parentMap)))))
}

func TestIdentityMapDerivation(t *testing.T) {
	testCases := []struct {
		doc      string
		in       string
		expected string
	}{
		{
			doc:      "empty map derives the default root mapping",
			in:       "",
			expected: "0 0 1\n",
		},
		{
			doc:      "single range",
			in:       "         0       1000          1\n",
			expected: "0 0 1\n",
		},
		{
			doc:      "root plus subordinate range",
			in:       "0 1000 1\n1 100000 65536\n",
			expected: "0 0 1\n1 1 65536\n",
		},
		{
			doc:      "short lines are skipped",
			in:       "0 1000\n5 2000 10\n",
			expected: "5 5 10\n",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.doc, func(t *testing.T) {
			assert.Equal(t, deriveIdentity(tc.in), tc.expected)
		})
	}
}

func TestIdentityMapIdempotent(t *testing.T) {
	derived := deriveIdentity("0 1000 1\n1 100000 65536\n")
	assert.Equal(t, deriveIdentity(derived), derived)
}

func TestParseIDMap(t *testing.T) {
	mappings := parseIDMap([]byte("0 1000 1\n1 100000 65536\n"))
	assert.DeepEqual(t, mappings, []specs.LinuxIDMapping{
		{ContainerID: 0, HostID: 1000, Size: 1},
		{ContainerID: 1, HostID: 100000, Size: 65536},
	})
}

func TestFormatIDMapSingleWrite(t *testing.T) {
	// The kernel only accepts a single write; the serialized form carries
	// every range at once, newline-terminated.
	out := formatIDMap([]specs.LinuxIDMapping{
		{ContainerID: 0, HostID: 0, Size: 1},
		{ContainerID: 1, HostID: 1, Size: 65536},
	})
	assert.Equal(t, string(out), "0 0 1\n1 1 65536\n")
}

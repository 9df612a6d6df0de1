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

	"gotest.tools/v3/assert"
)

func TestNewDefaults(t *testing.T) {
	iso := New()
	assert.Equal(t, len(iso.bindMounts), 0)
	assert.Equal(t, iso.chrootPath, "")
	assert.Equal(t, iso.newPIDNamespace, false)
}

func TestBuilderPreservesBindMountOrder(t *testing.T) {
	// Order is meaningful: a mount below another mount's target must be
	// established after it.
	iso := New().
		WithBindMount("/host/a", "/x").
		WithRecursiveBindMount("/host/b", "/x/sub").
		WithBindMount("/host/c", "/y")

	assert.DeepEqual(t, iso.bindMounts, []BindMount{
		{Source: "/host/a", Target: "/x"},
		{Source: "/host/b", Target: "/x/sub", Recursive: true},
		{Source: "/host/c", Target: "/y"},
	})
}

func TestBuilderChrootAndPIDNamespace(t *testing.T) {
	iso := New().WithChroot("/tmp/root").WithNewPIDNamespace()
	assert.Equal(t, iso.chrootPath, "/tmp/root")
	assert.Equal(t, iso.newPIDNamespace, true)
}

func TestIsolateRejectsUnknownStage(t *testing.T) {
	t.Setenv(stageEnv, "bogus")
	err := New().Isolate()
	assert.ErrorContains(t, err, "unexpected isolation stage")
}

func TestIsolateGatesBeforeSpawning(t *testing.T) {
	// Inside the test binary there are always concurrent goroutines, so the
	// gate must fail, and it must do so before any child is created.
	err := New().Isolate()
	assert.ErrorIs(t, err, ErrNotSingleThreaded)
}

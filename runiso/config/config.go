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

// Package config holds reusable isolation profiles.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Profile is a predeclared isolation setup, loaded from a TOML file and
// merged with command-line flags (a chroot from the flags wins; a PID
// namespace is created if either the profile or the flags request it; bind
// mounts from flags are appended after the profile's).
//
//	binds = ["/host/data:/tmp/root/data"]
//	recursive_binds = ["/dev:/tmp/root/dev"]
//	chroot = "/tmp/root"
//	pid_namespace = true
type Profile struct {
	// Binds are bind mount specifications in "src:dst" form, established in
	// the order given.
	Binds []string `toml:"binds"`

	// RecursiveBinds are like Binds but include the mounts below the source.
	RecursiveBinds []string `toml:"recursive_binds"`

	// Chroot is the path the child changes its root to, if non-empty.
	Chroot string `toml:"chroot"`

	// PIDNamespace spawns the child in a new PID namespace.
	PIDNamespace bool `toml:"pid_namespace"`
}

// LoadProfile reads a profile from a TOML file.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return nil, errors.Wrapf(err, "loading profile %q", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("loading profile %q: unknown keys %v", path, undecoded)
	}
	return &p, nil
}

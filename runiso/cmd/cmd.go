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

// Package cmd implements the subcommands of runiso.
package cmd

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/runiso/runiso/isolate"
	"github.com/runiso/runiso/runiso/config"
)

// stringSlice collects the values of a repeatable flag, in order.
type stringSlice []string

// String implements flag.Value.String.
func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

// Set implements flag.Value.Set.
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// isolationFlags are the flags shared by every command that isolates before
// executing something.
type isolationFlags struct {
	binds        stringSlice
	rbinds       stringSlice
	chroot       string
	pidNamespace bool
	profile      string
}

func (fl *isolationFlags) setFlags(f *flag.FlagSet) {
	f.Var(&fl.binds, "bind", "bind mount a source path to a destination path (format: src:dst); may be repeated")
	f.Var(&fl.rbinds, "rbind", "recursively bind mount a source path to a destination path (format: src:dst); may be repeated")
	f.StringVar(&fl.chroot, "chroot", "", "chroot to the specified path")
	f.BoolVar(&fl.pidNamespace, "pid-namespace", false, "create a new PID namespace")
	f.StringVar(&fl.profile, "profile", "", "load an isolation profile from a TOML file")
}

// isolator builds the Isolator described by the profile (if any) and the
// flags. Profile bind mounts come first; flag values override the profile's
// chroot and OR into its PID namespace setting.
func (fl *isolationFlags) isolator() (*isolate.Isolator, error) {
	iso := isolate.New()

	var p config.Profile
	if fl.profile != "" {
		loaded, err := config.LoadProfile(fl.profile)
		if err != nil {
			return nil, err
		}
		p = *loaded
	}

	for _, spec := range p.Binds {
		src, dst, err := parseBindSpec(spec)
		if err != nil {
			return nil, err
		}
		iso = iso.WithBindMount(src, dst)
	}
	for _, spec := range p.RecursiveBinds {
		src, dst, err := parseBindSpec(spec)
		if err != nil {
			return nil, err
		}
		iso = iso.WithRecursiveBindMount(src, dst)
	}
	for _, spec := range fl.binds {
		src, dst, err := parseBindSpec(spec)
		if err != nil {
			return nil, err
		}
		iso = iso.WithBindMount(src, dst)
	}
	for _, spec := range fl.rbinds {
		src, dst, err := parseBindSpec(spec)
		if err != nil {
			return nil, err
		}
		iso = iso.WithRecursiveBindMount(src, dst)
	}

	chroot := p.Chroot
	if fl.chroot != "" {
		chroot = fl.chroot
	}
	if chroot != "" {
		iso = iso.WithChroot(chroot)
	}
	if fl.pidNamespace || p.PIDNamespace {
		iso = iso.WithNewPIDNamespace()
	}
	return iso, nil
}

// parseBindSpec splits a "src:dst" bind mount specification.
func parseBindSpec(spec string) (src, dst string, err error) {
	src, dst, ok := strings.Cut(spec, ":")
	if !ok || src == "" || dst == "" {
		return "", "", errors.Errorf("invalid bind mount specification %q: expected format 'src:dst'", spec)
	}
	return src, dst, nil
}

// execCommand replaces the current process with the given command, resolving
// it on PATH. It returns only on failure.
func execCommand(args []string) error {
	path, err := exec.LookPath(args[0])
	if err != nil {
		return errors.Wrapf(err, "looking up %q", args[0])
	}
	if err := unix.Exec(path, args, os.Environ()); err != nil {
		return fmt.Errorf("executing %q: %w", path, err)
	}
	panic("unreachable")
}

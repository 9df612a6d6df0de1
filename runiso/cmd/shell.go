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

package cmd

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/runiso/runiso/runiso/cmd/util"
)

// defaultShell is used when $SHELL is not set.
const defaultShell = "/bin/sh"

// Shell implements subcommands.Command for the "shell" command.
type Shell struct {
	isolationFlags
}

// Name implements subcommands.Command.Name.
func (*Shell) Name() string {
	return "shell"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Shell) Synopsis() string {
	return "spawn a shell in an isolated environment"
}

// Usage implements subcommands.Command.Usage.
func (*Shell) Usage() string {
	return `shell [flags] - spawn a shell in an isolated environment.

Runs $SHELL, or /bin/sh if unset. This is primarily intended for debugging
isolation setups interactively.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Shell) SetFlags(f *flag.FlagSet) {
	s.setFlags(f)
}

// Execute implements subcommands.Command.Execute.
func (s *Shell) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	iso, err := s.isolator()
	if err != nil {
		util.Fatalf("%v", err)
	}

	if err := iso.Isolate(); err != nil {
		util.Fatalf("isolation failed: %v", err)
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = defaultShell
	}
	if err := execCommand([]string{shell}); err != nil {
		util.Fatalf("%v", err)
	}
	panic("unreachable")
}

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

	"github.com/google/subcommands"

	"github.com/runiso/runiso/runiso/cmd/util"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	isolationFlags
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "spawn a command in an isolated environment"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <command> [args...] - spawn a command in an isolated environment.

The process is handed over to a child in fresh user and mount namespaces,
with the configured bind mounts and chroot applied, and the command replaces
the child. Bind mount destinations must already exist.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	r.setFlags(f)
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	iso, err := r.isolator()
	if err != nil {
		util.Fatalf("%v", err)
	}

	// Only the isolated child gets here; the parent waits inside Isolate and
	// exits with the child's status.
	if err := iso.Isolate(); err != nil {
		util.Fatalf("isolation failed: %v", err)
	}

	if err := execCommand(f.Args()); err != nil {
		util.Fatalf("%v", err)
	}
	panic("unreachable")
}

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

// Package cli is the main entrypoint for runiso.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/runiso/runiso/runiso/cmd"
	"github.com/runiso/runiso/runiso/cmd/util"
	"github.com/runiso/runiso/runiso/version"
)

var (
	showVersion = flag.Bool("version", false, "show version and exit.")
	debug       = flag.Bool("debug", false, "enable debug logging.")
	logFormat   = flag.String("log-format", "text", "log format: text or json.")
)

// Main is the main entrypoint.
func Main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(cmd.Run), "")
	subcommands.Register(new(cmd.Shell), "")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if *showVersion {
		fmt.Fprintf(os.Stdout, "runiso version %s\n", version.Version())
		os.Exit(0)
	}

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	switch *logFormat {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		util.Fatalf("invalid log format %q, must be 'text' or 'json'", *logFormat)
	}

	// Diagnostics belong on stderr; stdout is reserved for the isolated
	// command.
	logrus.SetOutput(os.Stderr)

	os.Exit(int(subcommands.Execute(context.Background())))
}

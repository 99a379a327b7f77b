// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Sudokeeper.
//
// Usage:
//
//	go run . [flags]
//	./sudokeeper [flags]
//
// See --help for the available commands.
package main

import (
	"os"

	"github.com/digsig/sudokeeper/internal/logging"
	"github.com/digsig/sudokeeper/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}

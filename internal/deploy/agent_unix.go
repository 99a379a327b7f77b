// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

//go:build !windows

package deploy

import (
	"net"
	"os"

	"golang.org/x/crypto/ssh/agent"

	"github.com/digsig/sudokeeper/internal/logging"
)

// getSSHAgent returns the operator's agent, used when no key file is set or
// the key file is refused. A missing or dead agent yields nil.
func getSSHAgent() agent.Agent {
	sock := os.Getenv(agentSockEnv)
	if sock == "" {
		return nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		logging.Debugf("ssh agent at %s unavailable: %v", sock, err)
		return nil
	}
	return agent.NewClient(conn)
}

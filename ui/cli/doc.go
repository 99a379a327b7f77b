// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the sudokeeper command line with Cobra. Commands
// stay thin: they load configuration and delegate to the policy, verify,
// deploy, system and db packages.
package cli

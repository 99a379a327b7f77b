// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package system

import (
	"bufio"
	"bytes"
	"context"
	"strings"
)

const smartResultPrefix = "SMART overall-health self-assessment test result:"

// SmartUnknown is reported when smartctl prints no health verdict.
const SmartUnknown = "UNKNOWN"

// SmartDevices lists SMART capable devices.
func (e *Executor) SmartDevices(ctx context.Context) ([]string, error) {
	out, err := e.sudo(ctx, Smartctl, "--scan-open")
	if err != nil {
		return nil, err
	}
	var devices []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		devices = append(devices, strings.Fields(line)[0])
	}
	return devices, sc.Err()
}

// SmartHealth returns the overall health verdict for one device.
func (e *Executor) SmartHealth(ctx context.Context, device string) (string, error) {
	out, err := e.sudo(ctx, Smartctl, "-H", device)
	// smartctl sets exit status bits for failing disks while still
	// printing a verdict, so parse before looking at err.
	if res := parseSmartHealth(out); res != SmartUnknown {
		return res, nil
	}
	if err != nil {
		return "", err
	}
	return SmartUnknown, nil
}

func parseSmartHealth(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, smartResultPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, smartResultPrefix))
		}
	}
	return SmartUnknown
}

// SmartStates maps every SMART capable device to its health verdict.
func (e *Executor) SmartStates(ctx context.Context) (map[string]string, error) {
	if err := e.supported(); err != nil {
		return nil, err
	}
	devices, err := e.SmartDevices(ctx)
	if err != nil {
		return nil, err
	}
	states := make(map[string]string, len(devices))
	for _, d := range devices {
		res, err := e.SmartHealth(ctx, d)
		if err != nil {
			return nil, err
		}
		states[d] = res
	}
	return states, nil
}

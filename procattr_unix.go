//go:build !windows

// Copyright 2026 The Soulvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package soulvisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcGroupAttr puts the child in its own process group, so that
// signals reach anything it spawned and a signal aimed at the supervisor's
// group does not reach the child.
func setProcGroupAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(proc *os.Process, sig syscall.Signal) error {
	if proc == nil || proc.Pid <= 0 {
		return nil
	}
	err := unix.Kill(-proc.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func signalTerm(proc *os.Process) error {
	return signalGroup(proc, unix.SIGTERM)
}

func signalKill(proc *os.Process) error {
	return signalGroup(proc, unix.SIGKILL)
}

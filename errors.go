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
	"fmt"
)

var (
	ErrNotFound       = errors.New("project not found")
	ErrExists         = errors.New("project already exists")
	ErrAlreadyRunning = errors.New("process already running")
	ErrStoreCorrupt   = errors.New("project store corrupt")
	ErrInvalidName    = errors.New("invalid project name")
	ErrReservedName   = errors.New("project name is reserved")
	ErrSpawn          = errors.New("process spawn failed")

	errNoCommand = errors.New("no command configured")
)

// SpawnError reports a process that could not be started.  It matches
// ErrSpawn with errors.Is, and unwraps to the underlying exec error.
type SpawnError struct {
	Name    string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: %s (%s): %v", ErrSpawn, e.Name, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

func (e *SpawnError) Is(target error) bool {
	return target == ErrSpawn
}

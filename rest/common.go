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

// Package rest exposes a soulvisor Host over HTTP, and provides a client
// for it.
package rest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/soulvisor/soulvisor"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollEtagHeader and PollTimeHeader turn a GET into a long poll: the
	// server waits up to PollTimeHeader seconds for the resource to move
	// away from PollEtagHeader before answering.
	PollEtagHeader = "X-Poll-Etag"
	PollTimeHeader = "X-Poll-Time"

	// MaxPollTime caps the wait a client may ask for.
	MaxPollTime = 300
)

var ok struct{}

// Error is the body of every non-2xx response.
type Error struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

var kinds = []struct {
	kind string
	err  error
}{
	{"not-found", soulvisor.ErrNotFound},
	{"exists", soulvisor.ErrExists},
	{"already-running", soulvisor.ErrAlreadyRunning},
	{"invalid-name", soulvisor.ErrInvalidName},
	{"reserved-name", soulvisor.ErrReservedName},
	{"store-corrupt", soulvisor.ErrStoreCorrupt},
	{"spawn", soulvisor.ErrSpawn},
}

func kindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

// Is lets callers test a client side error with errors.Is against the
// soulvisor sentinels.
func (e *Error) Is(target error) bool {
	for _, k := range kinds {
		if k.kind == e.Kind && k.err == target {
			return true
		}
	}
	return false
}

// CreateRequest is the body of POST /projects.
type CreateRequest struct {
	Name string `json:"name"`
}

// ProjectPatch is the body of PATCH /projects/{name}.  Nil fields are
// left alone.  A project cannot be renamed.
type ProjectPatch struct {
	Link      *string           `json:"githubLink,omitempty"`
	AutoStart *bool             `json:"autoStart,omitempty"`
	Command   *string           `json:"command,omitempty"`
	Args      *[]string         `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	EnvUnset  []string          `json:"envUnset,omitempty"`
}

func (pp *ProjectPatch) validate() error {
	for k := range pp.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return fmt.Errorf("invalid environment variable name %q", k)
		}
	}
	return nil
}

func (pp *ProjectPatch) apply(p *soulvisor.Project) {
	if pp.Link != nil {
		p.SetLink(*pp.Link)
	}
	if pp.AutoStart != nil {
		p.SetAutoStart(*pp.AutoStart)
	}
	if pp.Command != nil {
		p.SetCommand(*pp.Command)
	}
	if pp.Args != nil {
		p.SetArgs(*pp.Args)
	}
	for _, k := range pp.EnvUnset {
		p.UnsetEnv(k)
	}
	for k, v := range pp.Env {
		p.SetEnv(k, v)
	}
}

// SyncAccepted is the body of a 202 answer to POST /projects/{name}/sync.
type SyncAccepted struct {
	ID string `json:"id"`
}

func formatEtag(v int64) string {
	return strconv.FormatInt(v, 16)
}

func parseEtag(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 16, 64)
	return v, err == nil
}

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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DescriptorFile is the per-project run descriptor, at the root of the
// project's working tree.
const DescriptorFile = ".soul"

// namePattern allows alphanumerics, dots, hyphens and underscores, and
// must not start with a dot.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Project is the persisted record of a deployable unit.  The JSON names
// are those of the on-disk document and must not change.
type Project struct {
	Name      string            `json:"name"`
	Link      string            `json:"githubLink"`
	Env       map[string]string `json:"env"`
	AutoStart bool              `json:"autoStart"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
}

// Descriptor is the run configuration declared by a project's ".soul" file.
type Descriptor struct {
	AutoStart bool     `json:"autoStart"`
	Command   string   `json:"command"`
	Args      []string `json:"args"`
}

// ValidateName checks that name is usable both as a store key and as a
// single path segment under the projects directory.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > 255 {
		return fmt.Errorf("%w: too long", ErrInvalidName)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q would escape the projects directory", ErrInvalidName, name)
	}
	if !namePattern.MatchString(name) || filepath.Clean(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// NewProject returns an empty record for name.
func NewProject(name string) (*Project, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &Project{
		Name: name,
		Env:  map[string]string{},
		Args: []string{},
	}, nil
}

func (p *Project) Validate() error {
	return ValidateName(p.Name)
}

// Clone returns a deep copy; the copy shares no maps or slices with p.
func (p *Project) Clone() *Project {
	c := *p
	c.Env = make(map[string]string, len(p.Env))
	for k, v := range p.Env {
		c.Env[k] = v
	}
	c.Args = append(make([]string, 0, len(p.Args)), p.Args...)
	return &c
}

func (p *Project) SetLink(link string) {
	p.Link = link
}

func (p *Project) SetEnv(key, value string) {
	if p.Env == nil {
		p.Env = map[string]string{}
	}
	p.Env[key] = value
}

func (p *Project) UnsetEnv(key string) {
	delete(p.Env, key)
}

func (p *Project) SetCommand(command string) {
	p.Command = command
}

func (p *Project) SetArgs(args []string) {
	p.Args = append(make([]string, 0, len(args)), args...)
}

func (p *Project) SetAutoStart(v bool) {
	p.AutoStart = v
}

// ApplyDescriptor copies the run configuration from d into the record.
func (p *Project) ApplyDescriptor(d *Descriptor) {
	p.AutoStart = d.AutoStart
	p.Command = d.Command
	p.SetArgs(d.Args)
}

// MarshalJSON always emits env as an object and args as an array.
func (p *Project) MarshalJSON() ([]byte, error) {
	type plain Project
	c := plain(*p.Clone())
	return json.Marshal(&c)
}

// UnmarshalJSON decodes a stored record.  It fails on unknown fields, on
// a missing or invalid name, and on wrongly typed values.  Args stored
// as a single string are split on whitespace.
func (p *Project) UnmarshalJSON(b []byte) error {
	var raw struct {
		Name      *string           `json:"name"`
		Link      string            `json:"githubLink"`
		Env       map[string]string `json:"env"`
		AutoStart bool              `json:"autoStart"`
		Command   string            `json:"command"`
		Args      json.RawMessage   `json:"args"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw.Name == nil {
		return errors.New("record has no name")
	}
	if err := ValidateName(*raw.Name); err != nil {
		return err
	}
	args, err := decodeArgs(raw.Args)
	if err != nil {
		return fmt.Errorf("project %s: %w", *raw.Name, err)
	}
	if raw.Env == nil {
		raw.Env = map[string]string{}
	}
	*p = Project{
		Name:      *raw.Name,
		Link:      raw.Link,
		Env:       raw.Env,
		AutoStart: raw.AutoStart,
		Command:   raw.Command,
		Args:      args,
	}
	return nil
}

// ParseDescriptor decodes the contents of a ".soul" file.
func ParseDescriptor(b []byte) (*Descriptor, error) {
	var raw struct {
		AutoStart bool            `json:"autoStart"`
		Command   string          `json:"command"`
		Args      json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	args, err := decodeArgs(raw.Args)
	if err != nil {
		return nil, err
	}
	return &Descriptor{AutoStart: raw.AutoStart, Command: raw.Command, Args: args}, nil
}

// decodeArgs accepts either a JSON array of strings or a single string,
// which older documents used for space separated arguments.
func decodeArgs(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []string{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return strings.Fields(s), nil
	}
	var args []string
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("args: %w", err)
	}
	if args == nil {
		args = []string{}
	}
	return args, nil
}

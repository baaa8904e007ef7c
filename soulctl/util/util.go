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

// Package util is used for internal implementation bits in the CLI/UI.
package util

import (
	"fmt"
	"sort"
	"time"

	"github.com/soulvisor/soulvisor"
)

// Status is a one word summary of a process handle.
func Status(p *soulvisor.ProcessInfo) string {
	if p.Self {
		return "self"
	}
	return string(p.State)
}

// FormatUptime renders d as "Nd Nh Nm Ns".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	hours := int((d % (24 * time.Hour)) / time.Hour)
	mins := int((d % time.Hour) / time.Minute)
	secs := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, mins, secs)
}

// FormatDuration renders d as h:mm:ss, for fixed width columns.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

// Uptime is the age of the handle as seen now.  Uptime in the record is
// as of when the server answered; a running handle keeps ageing.
func Uptime(p *soulvisor.ProcessInfo) time.Duration {
	if p.State == soulvisor.StateRunning && !p.StartedAt.IsZero() {
		return time.Since(p.StartedAt)
	}
	return p.Uptime
}

type sorted []*soulvisor.ProcessInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	if a.Self != b.Self {
		// the supervisor goes first
		return a.Self
	}
	aUp := a.State == soulvisor.StateRunning
	bUp := b.State == soulvisor.StateRunning
	if aUp != bUp {
		// put exited items in front, they want attention
		return bUp
	}
	return a.Name < b.Name
}

func SortProcesses(items []*soulvisor.ProcessInfo) {
	sort.Sort(sorted(items))
}

// Entry is one row of the UI: a project, its process, or both.  The
// supervisor itself has a process but no project.
type Entry struct {
	Name    string
	Project *soulvisor.Project
	Process *soulvisor.ProcessInfo
}

// Status is "stopped" for a project without a process.
func (e *Entry) Status() string {
	if e.Process == nil {
		return "stopped"
	}
	return Status(e.Process)
}

func (e *Entry) rank() int {
	switch {
	case e.Process == nil:
		return 3
	case e.Process.Self:
		return 0
	case e.Process.State == soulvisor.StateRunning:
		return 2
	}
	return 1
}

// Merge pairs projects with their processes by name, ordered like
// SortProcesses with stopped projects last.
func Merge(projects []*soulvisor.Project, procs []*soulvisor.ProcessInfo) []*Entry {
	byName := make(map[string]*Entry, len(projects)+len(procs))
	entries := make([]*Entry, 0, len(projects)+len(procs))
	for _, p := range procs {
		e := &Entry{Name: p.Name, Process: p}
		byName[p.Name] = e
		entries = append(entries, e)
	}
	for _, p := range projects {
		if e, ok := byName[p.Name]; ok {
			e.Project = p
			continue
		}
		entries = append(entries, &Entry{Name: p.Name, Project: p})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.rank() != b.rank() {
			return a.rank() < b.rank()
		}
		return a.Name < b.Name
	})
	return entries
}

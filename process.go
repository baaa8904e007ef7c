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
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of a process handle.
type State string

const (
	// StateRunning is a handle whose process has been spawned and has not
	// been observed to exit.
	StateRunning State = "running"
	// StateExited is a handle whose process ended on its own.  The handle
	// stays registered until it is killed or restarted.
	StateExited State = "exited"
	// StateStopped is a handle that was killed by the supervisor.
	StateStopped State = "stopped"
)

// ProcessInfo is a point in time view of a handle.
type ProcessInfo struct {
	Name      string        `json:"name"`
	Command   string        `json:"command"`
	Args      []string      `json:"args"`
	Dir       string        `json:"dir"`
	Pid       int           `json:"pid"`
	State     State         `json:"state"`
	StartedAt time.Time     `json:"startedAt"`
	Uptime    time.Duration `json:"uptime"`
	ExitedAt  time.Time     `json:"exitedAt,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Self      bool          `json:"self,omitempty"`
}

// Process is the supervisor's handle on one spawned child.  It is never
// persisted; it is associated with a Project only by name.
type Process struct {
	name     string
	command  string
	args     []string
	env      []string
	dir      string
	started  time.Time
	exited   time.Time
	state    State
	reason   error
	cmd      *exec.Cmd
	log      *Log
	stdout   *LineWriter
	stderr   *LineWriter
	logger   *zap.Logger
	stopTime time.Duration

	lock   sync.Mutex
	waiter sync.WaitGroup
}

// mergeEnv overlays extra onto base ("KEY=VALUE" entries); keys in extra
// win.  The result is sorted for stable output.
func mergeEnv(base []string, extra map[string]string) []string {
	vars := make(map[string]string, len(base)+len(extra))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			vars[k] = v
		}
	}
	for k, v := range extra {
		vars[k] = v
	}
	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

func copyArray(src []string) []string {
	rv := make([]string, 0, len(src))
	rv = append(rv, src...)
	return rv
}

func newProcess(name, command string, args, env []string, dir string,
	stopTime time.Duration, logger *zap.Logger) *Process {
	return &Process{
		name:     name,
		command:  command,
		args:     copyArray(args),
		env:      copyArray(env),
		dir:      dir,
		log:      NewLog(),
		logger:   logger.With(zap.String("project", name)),
		stopTime: stopTime,
	}
}

func (p *Process) Name() string {
	return p.name
}

// Log returns the process output buffer.
func (p *Process) Log() *Log {
	return p.log
}

// output returns the writer for stream s, which also mirrors each line
// to the supervisor's own log.
func (p *Process) output(s Stream) *LineWriter {
	w := p.log.Writer(s)
	w.onLine = func(line string) {
		p.logger.Debug(line, zap.String("stream", string(s)))
	}
	return w
}

// start spawns the child.  The caller holds the supervisor lock.
func (p *Process) start() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.command == "" {
		return &SpawnError{Name: p.name, Err: errNoCommand}
	}
	cmd := exec.Command(p.command, p.args...)
	cmd.Dir = p.dir
	cmd.Env = p.env
	// Going through io.Writers rather than pipes lets Wait own the copy
	// goroutines; WaitDelay bounds Wait when a grandchild keeps the
	// descriptors open after the child is gone.
	p.stdout = p.output(Stdout)
	p.stderr = p.output(Stderr)
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	cmd.WaitDelay = p.stopTime
	setProcGroupAttr(cmd)

	if e := cmd.Start(); e != nil {
		p.state = StateStopped
		p.reason = e
		return &SpawnError{Name: p.name, Command: p.command, Err: e}
	}
	p.cmd = cmd
	p.started = time.Now()
	p.state = StateRunning
	p.reason = nil
	p.logger.Info("started process",
		zap.String("command", p.command),
		zap.Strings("args", p.args),
		zap.Int("pid", cmd.Process.Pid))

	p.waiter.Add(1)
	go p.doWait()
	return nil
}

func (p *Process) doWait() {
	e := p.cmd.Wait()
	// Wait has stopped the copying, so what is held back is final.
	p.stdout.Flush()
	p.stderr.Flush()
	p.lock.Lock()
	p.exited = time.Now()
	if p.state == StateRunning {
		// Nobody asked for this.  Record it, but leave the handle
		// registered; see Supervisor.
		p.state = StateExited
		p.reason = e
		if e != nil {
			p.logger.Warn("process exited", zap.Error(e))
		} else {
			p.logger.Info("process exited")
		}
		p.log.Append(Stderr, "process exited: "+exitText(e))
	}
	p.lock.Unlock()
	p.waiter.Done()
}

func exitText(e error) string {
	if e == nil {
		return "status 0"
	}
	return e.Error()
}

// stop asks the process to terminate, escalating to a kill after
// stopTime, and waits for it to be reaped.
func (p *Process) stop() {
	p.lock.Lock()
	if p.cmd == nil {
		p.lock.Unlock()
		return
	}
	wasRunning := p.state == StateRunning
	p.state = StateStopped
	var timer *time.Timer
	if wasRunning {
		if e := signalTerm(p.cmd.Process); e != nil {
			p.logger.Warn("failed sending SIGTERM", zap.Error(e))
		}
		if p.stopTime > 0 {
			proc := p.cmd.Process
			timer = time.AfterFunc(p.stopTime, func() {
				p.logger.Warn("graceful shutdown timed out, killing")
				if e := signalKill(proc); e != nil {
					p.logger.Warn("failed killing", zap.Error(e))
				}
			})
		}
	}
	p.lock.Unlock()
	p.waiter.Wait()
	if timer != nil {
		timer.Stop()
	}
	p.logger.Info("stopped process")
}

// Elapsed is the wall clock time since the process was started.
func (p *Process) Elapsed() time.Duration {
	p.lock.Lock()
	defer p.lock.Unlock()
	return time.Since(p.started)
}

// Info returns a snapshot of the handle.
func (p *Process) Info() *ProcessInfo {
	p.lock.Lock()
	defer p.lock.Unlock()
	info := &ProcessInfo{
		Name:      p.name,
		Command:   p.command,
		Args:      copyArray(p.args),
		Dir:       p.dir,
		State:     p.state,
		StartedAt: p.started,
		Uptime:    time.Since(p.started),
	}
	if p.cmd != nil && p.cmd.Process != nil {
		info.Pid = p.cmd.Process.Pid
	}
	if p.state != StateRunning {
		info.ExitedAt = p.exited
		if !p.exited.IsZero() {
			info.Uptime = p.exited.Sub(p.started)
		}
	}
	if p.reason != nil {
		info.Reason = p.reason.Error()
	}
	return info
}

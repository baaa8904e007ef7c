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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultSelfName    = "soul"
	DefaultStopTimeout = 10 * time.Second
)

type SupervisorOptions struct {
	// ProjectsDir holds one working directory per project.
	ProjectsDir string
	// BaseEnv is the environment every child inherits before its
	// project's own variables are applied.  Nil means os.Environ().
	BaseEnv []string
	// SelfName is the name under which the supervisor lists itself.  It
	// can never be started, killed, created or deleted.
	SelfName string
	// StopTimeout is how long Kill waits after SIGTERM before SIGKILL.
	StopTimeout time.Duration
	Logger      *zap.Logger
}

// Supervisor is the registry of running child processes, keyed by
// project name.  It reads project records but never writes them.
//
// A process that exits on its own is noticed and recorded on its handle
// (StateExited) but is not removed from the registry: it takes a Kill or
// Restart to clear it, and Start keeps reporting ErrAlreadyRunning until
// then.
type Supervisor struct {
	procs      map[string]*Process
	stopping   map[string]*Process
	retired    map[string]*Log
	dir        string
	baseEnv    []string
	self       string
	stopTime   time.Duration
	logger     *zap.Logger
	serial     int64
	createTime time.Time
	mx         sync.Mutex
	cvs        map[*sync.Cond]bool
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BaseEnv == nil {
		opts.BaseEnv = os.Environ()
	}
	if opts.SelfName == "" {
		opts.SelfName = DefaultSelfName
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	return &Supervisor{
		procs:    make(map[string]*Process),
		stopping: make(map[string]*Process),
		retired:  make(map[string]*Log),
		dir:      opts.ProjectsDir,
		baseEnv:  copyArray(opts.BaseEnv),
		self:     opts.SelfName,
		stopTime: opts.StopTimeout,
		logger:   opts.Logger.Named("supervisor"),
		// Starting from the clock lets clients that cache by serial
		// notice a supervisor restart.
		serial:     time.Now().UnixNano(),
		createTime: time.Now(),
		cvs:        make(map[*sync.Cond]bool),
	}
}

func (s *Supervisor) lock() {
	s.mx.Lock()
}

func (s *Supervisor) unlock() {
	s.mx.Unlock()
}

// bumpSerial must be called with the lock held, so that woken watchers
// see the new value.
func (s *Supervisor) bumpSerial() {
	s.serial++
	for cv := range s.cvs {
		cv.Broadcast()
	}
}

// IsSelf reports whether name is the supervisor's own identifier.
func (s *Supervisor) IsSelf(name string) bool {
	return name == s.self
}

// SelfName returns the identifier the supervisor lists itself under.
func (s *Supervisor) SelfName() string {
	return s.self
}

// ProjectDir returns the working directory for the named project.
func (s *Supervisor) ProjectDir(name string) string {
	return filepath.Join(s.dir, name)
}

// Start spawns p's command in its working directory, with the base
// environment overlaid by p.Env.  At most one handle exists per name:
// the registry check and the spawn happen under one lock.
func (s *Supervisor) Start(p *Project) (*ProcessInfo, error) {
	if s.IsSelf(p.Name) {
		return nil, fmt.Errorf("%w: %s", ErrReservedName, p.Name)
	}
	if err := ValidateName(p.Name); err != nil {
		return nil, err
	}
	return s.spawn(p.Name, p.Command, p.Args, mergeEnv(s.baseEnv, p.Env))
}

func (s *Supervisor) spawn(name, command string, args, env []string) (*ProcessInfo, error) {
	s.lock()
	defer s.unlock()

	if _, ok := s.procs[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	if _, ok := s.stopping[name]; ok {
		return nil, fmt.Errorf("%w: %s is still stopping", ErrAlreadyRunning, name)
	}
	proc := newProcess(name, command, args, env, s.ProjectDir(name), s.stopTime, s.logger)
	if err := proc.start(); err != nil {
		s.logger.Warn("failed to start process", zap.String("project", name), zap.Error(err))
		return nil, err
	}
	s.procs[name] = proc
	delete(s.retired, name)
	s.bumpSerial()
	return proc.Info(), nil
}

// Kill terminates and deregisters the named process.  Killing a name
// with no handle is not an error.
func (s *Supervisor) Kill(name string) error {
	if s.IsSelf(name) {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	s.lock()
	proc, ok := s.procs[name]
	if !ok {
		s.unlock()
		return nil
	}
	delete(s.procs, name)
	s.stopping[name] = proc
	s.bumpSerial()
	s.unlock()

	proc.stop()

	s.lock()
	delete(s.stopping, name)
	s.retired[name] = proc.log
	s.bumpSerial()
	s.unlock()
	return nil
}

// Forget kills the named process, if any, and drops the log kept for
// it.  It is for projects that no longer exist.
func (s *Supervisor) Forget(name string) error {
	if err := s.Kill(name); err != nil {
		return err
	}
	s.lock()
	delete(s.retired, name)
	s.unlock()
	return nil
}

// Restart kills the named process and starts it again with the same
// command, arguments and environment.
func (s *Supervisor) Restart(name string) (*ProcessInfo, error) {
	if s.IsSelf(name) {
		return nil, fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	s.lock()
	proc, ok := s.procs[name]
	s.unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no process for %s", ErrNotFound, name)
	}
	if err := s.Kill(name); err != nil {
		return nil, err
	}
	s.logger.Info("restarting process", zap.String("project", name))
	return s.spawn(name, proc.command, proc.args, proc.env)
}

func (s *Supervisor) find(name string) (*Process, error) {
	s.lock()
	defer s.unlock()
	if proc, ok := s.procs[name]; ok {
		return proc, nil
	}
	return nil, fmt.Errorf("%w: no process for %s", ErrNotFound, name)
}

// Running reports whether a handle is registered for name.
func (s *Supervisor) Running(name string) bool {
	_, err := s.find(name)
	return err == nil
}

// Elapsed returns the wall clock time since the named process started.
func (s *Supervisor) Elapsed(name string) (time.Duration, error) {
	if s.IsSelf(name) {
		return time.Since(s.createTime), nil
	}
	proc, err := s.find(name)
	if err != nil {
		return 0, err
	}
	return proc.Elapsed(), nil
}

// Info returns a snapshot of the named handle.
func (s *Supervisor) Info(name string) (*ProcessInfo, error) {
	if s.IsSelf(name) {
		return s.selfInfo(), nil
	}
	proc, err := s.find(name)
	if err != nil {
		return nil, err
	}
	return proc.Info(), nil
}

func (s *Supervisor) selfInfo() *ProcessInfo {
	return &ProcessInfo{
		Name:      s.self,
		Command:   os.Args[0],
		Args:      copyArray(os.Args[1:]),
		Pid:       os.Getpid(),
		State:     StateRunning,
		StartedAt: s.createTime,
		Uptime:    time.Since(s.createTime),
		Self:      true,
	}
}

// Processes returns every registered handle plus the supervisor itself,
// sorted by name.
func (s *Supervisor) Processes() []*ProcessInfo {
	s.lock()
	procs := make([]*Process, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.unlock()

	infos := make([]*ProcessInfo, 0, len(procs)+1)
	infos = append(infos, s.selfInfo())
	for _, p := range procs {
		infos = append(infos, p.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// LogFor returns the log of the named process.  After a Kill, the log of
// the last handle remains available until the name is started again.
func (s *Supervisor) LogFor(name string) (*Log, error) {
	s.lock()
	defer s.unlock()
	if p, ok := s.procs[name]; ok {
		return p.log, nil
	}
	if p, ok := s.stopping[name]; ok {
		return p.log, nil
	}
	if l, ok := s.retired[name]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("%w: no log for %s", ErrNotFound, name)
}

// Logs returns a copy of the named process's buffered output.
func (s *Supervisor) Logs(name string) ([]LogRecord, error) {
	l, err := s.LogFor(name)
	if err != nil {
		return nil, err
	}
	recs, _ := l.Records(0)
	return recs, nil
}

// Serial changes whenever a handle is registered or removed.
func (s *Supervisor) Serial() int64 {
	s.lock()
	defer s.unlock()
	return s.serial
}

// WatchSerial blocks until the serial differs from old or expire passes.
func (s *Supervisor) WatchSerial(old int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&s.mx)
	var timer *time.Timer

	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			s.lock()
			expired = true
			cv.Broadcast()
			s.unlock()
		})
	} else {
		expired = true
	}

	s.lock()
	s.cvs[cv] = true
	for s.serial == old && !expired {
		cv.Wait()
	}
	rv := s.serial
	delete(s.cvs, cv)
	s.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// Shutdown kills every registered process.
func (s *Supervisor) Shutdown() {
	s.lock()
	names := make([]string, 0, len(s.procs))
	for name := range s.procs {
		names = append(names, name)
	}
	s.unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			s.Kill(name)
		}(name)
	}
	wg.Wait()
	s.logger.Info("supervisor shut down", zap.Int("stopped", len(names)))
}

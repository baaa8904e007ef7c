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
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// maxFinishedJobs bounds how many completed sync jobs are remembered.
const maxFinishedJobs = 64

// SyncJob is a sync running in the background.
type SyncJob struct {
	id       string
	project  string
	started  time.Time
	finished time.Time
	result   *SyncResult
	err      error
	done     chan struct{}
	cancel   context.CancelFunc
	mx       sync.Mutex
}

// SyncJobStatus is the externally visible state of a SyncJob.
type SyncJobStatus struct {
	ID         string         `json:"id"`
	Project    string         `json:"project"`
	Done       bool           `json:"done"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt,omitempty"`
	Errors     []SyncErrorTag `json:"errors"`
	Messages   []string       `json:"messages,omitempty"`
	Failure    string         `json:"failure,omitempty"`
}

func (j *SyncJob) ID() string {
	return j.id
}

func (j *SyncJob) Project() string {
	return j.project
}

// Done is closed when the job has finished.
func (j *SyncJob) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends.  The error is set when
// the sync could not run at all (or its result could not be saved); sync
// failures themselves are in the result's tags.
func (j *SyncJob) Wait(ctx context.Context) (*SyncResult, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	j.mx.Lock()
	defer j.mx.Unlock()
	return j.result, j.err
}

func (j *SyncJob) Status() *SyncJobStatus {
	j.mx.Lock()
	defer j.mx.Unlock()
	st := &SyncJobStatus{
		ID:         j.id,
		Project:    j.project,
		StartedAt:  j.started,
		FinishedAt: j.finished,
		Errors:     []SyncErrorTag{},
	}
	select {
	case <-j.done:
		st.Done = true
	default:
	}
	if j.result != nil {
		st.Errors = append(st.Errors, j.result.Tags...)
		for _, t := range j.result.Tags {
			st.Messages = append(st.Messages, t.Describe())
		}
	}
	if j.err != nil {
		st.Failure = j.err.Error()
	}
	return st
}

func (j *SyncJob) finish(res *SyncResult, err error) {
	j.mx.Lock()
	j.result = res
	j.err = err
	j.finished = time.Now()
	j.mx.Unlock()
	close(j.done)
}

// Host is the application's top level context.  It owns the store, the
// synchronizer and the supervisor, and exposes the operations a front end
// needs.  There is no package level state; everything hangs off a Host.
type Host struct {
	store    *Store
	syncer   *Synchronizer
	sup      *Supervisor
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	jobs     map[string]*SyncJob
	finished []string
	active   map[string]*SyncJob
	wg       sync.WaitGroup
	mx       sync.Mutex
}

func NewHost(store *Store, syncer *Synchronizer, sup *Supervisor, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		store:  store,
		syncer: syncer,
		sup:    sup,
		logger: logger.Named("host"),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*SyncJob),
		active: make(map[string]*SyncJob),
	}
}

func (h *Host) Store() *Store {
	return h.store
}

func (h *Host) Supervisor() *Supervisor {
	return h.sup
}

// checkName rejects names that are unusable, or that belong to the
// supervisor itself.
func (h *Host) checkName(name string) error {
	if h.sup.IsSelf(name) {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	return ValidateName(name)
}

func (h *Host) Create(name string) (*Project, error) {
	if err := h.checkName(name); err != nil {
		return nil, err
	}
	return h.store.Create(name)
}

func (h *Host) Get(name string) (*Project, error) {
	if err := h.checkName(name); err != nil {
		return nil, err
	}
	return h.store.Get(name)
}

func (h *Host) List() ([]*Project, error) {
	return h.store.Load()
}

// Update applies fn to the named record and persists it immediately.
func (h *Host) Update(name string, fn func(*Project) error) (*Project, error) {
	if err := h.checkName(name); err != nil {
		return nil, err
	}
	return h.store.Update(name, fn)
}

// Delete removes the record, cancels a running sync of the project,
// kills its process, drops its log and removes its working directory.
// Every step is attempted; the errors are combined.
func (h *Host) Delete(name string) error {
	if err := h.checkName(name); err != nil {
		return err
	}
	// SyncAsync registers jobs under h.mx, so once the record is gone
	// no new job can appear for it.
	h.mx.Lock()
	found, err := h.store.Remove(name)
	job := h.active[name]
	h.mx.Unlock()
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if job != nil {
		job.cancel()
		<-job.Done()
	}
	var errs error
	if err := h.sup.Forget(name); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := os.RemoveAll(h.syncer.ProjectDir(name)); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("removing working directory: %w", err))
	}
	if errs != nil {
		h.logger.Warn("project deleted with errors", zap.String("project", name), zap.Error(errs))
	}
	return errs
}

// Sync synchronizes the named project and saves the run configuration
// read from its descriptor.  Sync failures are reported in the result;
// the error is for failures to load or save the record.
func (h *Host) Sync(ctx context.Context, name string) (*SyncResult, error) {
	rec, err := h.Get(name)
	if err != nil {
		return nil, err
	}
	res := h.syncer.Sync(ctx, rec)
	if res.Descriptor != nil {
		d := res.Descriptor
		// Re-read under the store lock so edits made while cloning
		// are kept.
		if _, err := h.store.Update(name, func(p *Project) error {
			p.ApplyDescriptor(d)
			return nil
		}); err != nil {
			return res, err
		}
	}
	return res, nil
}

// SyncAsync starts a sync in the background and returns at once.  If a
// sync of the same project is already running, that job is returned.
func (h *Host) SyncAsync(name string) (*SyncJob, error) {
	h.mx.Lock()
	defer h.mx.Unlock()
	if _, err := h.Get(name); err != nil {
		return nil, err
	}
	if job, ok := h.active[name]; ok {
		return job, nil
	}
	ctx, cancel := context.WithCancel(h.ctx)
	job := &SyncJob{
		id:      uuid.NewString(),
		project: name,
		started: time.Now(),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	h.jobs[job.id] = job
	h.active[name] = job
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer cancel()
		res, err := h.Sync(ctx, name)
		if ctx.Err() != nil {
			res, err = nil, fmt.Errorf("sync of %s cancelled: %w", name, ctx.Err())
		}
		job.finish(res, err)
		h.retire(job)
	}()
	return job, nil
}

func (h *Host) retire(job *SyncJob) {
	h.mx.Lock()
	defer h.mx.Unlock()
	delete(h.active, job.project)
	h.finished = append(h.finished, job.id)
	for len(h.finished) > maxFinishedJobs {
		delete(h.jobs, h.finished[0])
		h.finished = h.finished[1:]
	}
}

// Job returns a running or recently finished sync job.
func (h *Host) Job(id string) (*SyncJob, error) {
	h.mx.Lock()
	defer h.mx.Unlock()
	if job, ok := h.jobs[id]; ok {
		return job, nil
	}
	return nil, fmt.Errorf("%w: no sync job %s", ErrNotFound, id)
}

// Start launches the named project using its persisted configuration.
func (h *Host) Start(name string) (*ProcessInfo, error) {
	rec, err := h.Get(name)
	if err != nil {
		return nil, err
	}
	return h.sup.Start(rec)
}

func (h *Host) Kill(name string) error {
	return h.sup.Kill(name)
}

func (h *Host) Restart(name string) (*ProcessInfo, error) {
	return h.sup.Restart(name)
}

func (h *Host) Elapsed(name string) (time.Duration, error) {
	return h.sup.Elapsed(name)
}

func (h *Host) Info(name string) (*ProcessInfo, error) {
	return h.sup.Info(name)
}

func (h *Host) Logs(name string) ([]LogRecord, error) {
	return h.sup.Logs(name)
}

func (h *Host) Processes() []*ProcessInfo {
	return h.sup.Processes()
}

// Reconcile starts every project marked AutoStart that has no process.
// A failure to start one project is logged and included in the returned
// error, but does not stop the others.  A store that cannot be read is
// returned as is, and nothing is started.
func (h *Host) Reconcile(ctx context.Context) ([]string, error) {
	records, err := h.store.Load()
	if err != nil {
		return nil, err
	}
	var started []string
	var errs error
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return started, multierr.Append(errs, err)
		}
		if !rec.AutoStart || h.sup.IsSelf(rec.Name) || h.sup.Running(rec.Name) {
			continue
		}
		if _, err := h.sup.Start(rec); err != nil {
			h.logger.Error("autostart failed", zap.String("project", rec.Name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", rec.Name, err))
			continue
		}
		started = append(started, rec.Name)
	}
	h.logger.Info("reconciled autostart projects",
		zap.Strings("started", started), zap.Int("failed", len(multierr.Errors(errs))))
	return started, errs
}

// Close cancels running syncs, waits for them, and stops every process.
func (h *Host) Close() {
	h.cancel()
	h.wg.Wait()
	h.sup.Shutdown()
}

// IsFatal reports whether err means the store can no longer be trusted.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStoreCorrupt)
}

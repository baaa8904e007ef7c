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
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// Store is the only owner of the persisted project document.  The whole
// document is read and rewritten on every mutation.  Mutations are
// serialized by a mutex within the process and by an advisory file lock
// across processes, so concurrent writers never lose each other's updates.
type Store struct {
	path   string
	flock  *flock.Flock
	logger *zap.Logger
	mx     sync.Mutex
}

// OpenStore opens the document at path, creating an empty one if none
// exists.  It does not validate existing content; use Load for that.
func OpenStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	s := &Store{
		path:   path,
		flock:  flock.New(path + ".lock"),
		logger: logger.Named("store"),
	}
	err := s.locked(func() error {
		if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("creating project store", zap.String("path", s.path))
			return s.write([]*Project{})
		} else if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the location of the backing document.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) locked(fn func() error) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.flock.Lock(); err != nil {
		return fmt.Errorf("locking project store: %w", err)
	}
	defer func() {
		if err := s.flock.Unlock(); err != nil {
			s.logger.Warn("unlocking project store", zap.Error(err))
		}
	}()
	return fn()
}

func (s *Store) read() ([]*Project, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []*Project{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading project store: %w", err)
	}
	projects, err := decodeProjects(b)
	if err != nil {
		s.logger.Error("project store is corrupt", zap.String("path", s.path), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreCorrupt, s.path, err)
	}
	return projects, nil
}

func decodeProjects(b []byte) ([]*Project, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return []*Project{}, nil
	}
	var projects []*Project
	if err := json.Unmarshal(b, &projects); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(projects))
	for i, p := range projects {
		if p == nil {
			return nil, fmt.Errorf("record %d is null", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate project %q", p.Name)
		}
		seen[p.Name] = true
	}
	if projects == nil {
		projects = []*Project{}
	}
	return projects, nil
}

// write replaces the document atomically: the new content goes to a
// temporary file in the same directory, which is then renamed over it.
func (s *Store) write(projects []*Project) error {
	b, err := json.MarshalIndent(projects, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("writing project store: %w", err)
	}
	name := tmp.Name()
	if _, err = tmp.Write(append(b, '\n')); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(name, s.path)
	}
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("writing project store: %w", err)
	}
	return nil
}

func find(projects []*Project, name string) int {
	for i, p := range projects {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Load returns every record, in stored order.  Malformed content is
// reported as ErrStoreCorrupt rather than skipped.
func (s *Store) Load() ([]*Project, error) {
	var projects []*Project
	err := s.locked(func() error {
		var err error
		projects, err = s.read()
		return err
	})
	return projects, err
}

// List returns the names of all projects, in stored order.
func (s *Store) List() ([]string, error) {
	projects, err := s.Load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(projects))
	for _, p := range projects {
		names = append(names, p.Name)
	}
	return names, nil
}

func (s *Store) Exists(name string) (bool, error) {
	_, err := s.Get(name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Get(name string) (*Project, error) {
	projects, err := s.Load()
	if err != nil {
		return nil, err
	}
	if i := find(projects, name); i >= 0 {
		return projects[i], nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Create adds an empty record for name; it fails with ErrExists if the
// name is taken.
func (s *Store) Create(name string) (*Project, error) {
	p, err := NewProject(name)
	if err != nil {
		return nil, err
	}
	err = s.locked(func() error {
		projects, err := s.read()
		if err != nil {
			return err
		}
		if find(projects, name) >= 0 {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		return s.write(append(projects, p))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("created project", zap.String("project", name))
	return p.Clone(), nil
}

// Upsert inserts p, or replaces the record with the same name.
func (s *Store) Upsert(p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	rec := p.Clone()
	return s.locked(func() error {
		projects, err := s.read()
		if err != nil {
			return err
		}
		if i := find(projects, rec.Name); i >= 0 {
			projects[i] = rec
		} else {
			projects = append(projects, rec)
		}
		return s.write(projects)
	})
}

// Update applies fn to the named record and persists the result, all
// under the store lock.  fn must not rename the record.
func (s *Store) Update(name string, fn func(*Project) error) (*Project, error) {
	var rec *Project
	err := s.locked(func() error {
		projects, err := s.read()
		if err != nil {
			return err
		}
		i := find(projects, name)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		rec = projects[i].Clone()
		if err := fn(rec); err != nil {
			return err
		}
		if rec.Name != name {
			return fmt.Errorf("%w: records cannot be renamed", ErrInvalidName)
		}
		projects[i] = rec
		return s.write(projects)
	})
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Remove deletes the named record.  It reports whether it was present.
func (s *Store) Remove(name string) (bool, error) {
	found := false
	err := s.locked(func() error {
		projects, err := s.read()
		if err != nil {
			return err
		}
		i := find(projects, name)
		if i < 0 {
			return nil
		}
		found = true
		return s.write(append(projects[:i], projects[i+1:]...))
	})
	if err == nil && found {
		s.logger.Info("removed project", zap.String("project", name))
	}
	return found, err
}

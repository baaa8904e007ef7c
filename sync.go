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
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SyncErrorTag names one class of failure during a sync.
type SyncErrorTag string

const (
	SyncCloneError        SyncErrorTag = "clone-error"
	SyncFSError           SyncErrorTag = "sync-error"
	SyncDescriptorMissing SyncErrorTag = "descriptor-missing"
	SyncDescriptorInvalid SyncErrorTag = "descriptor-invalid"
)

// Describe returns an operator facing sentence for the tag.
func (t SyncErrorTag) Describe() string {
	switch t {
	case SyncCloneError:
		return "An error occurred while cloning the repository."
	case SyncFSError:
		return "An error occurred while syncing the project files."
	case SyncDescriptorMissing:
		return "No " + DescriptorFile + " file found in the root of the project."
	case SyncDescriptorInvalid:
		return "The " + DescriptorFile + " file could not be read."
	}
	return "Unknown sync error."
}

// SyncResult is the outcome of one sync.  Failures are aggregated, so one
// cause (an unreachable repository) does not hide another, and does not
// prevent recovering the run configuration from an earlier sync.
type SyncResult struct {
	Tags       []SyncErrorTag `json:"errors"`
	Descriptor *Descriptor    `json:"descriptor,omitempty"`
	Err        error          `json:"-"`
}

// OK reports whether the sync completed without any failure.
func (r *SyncResult) OK() bool {
	return len(r.Tags) == 0
}

// Has reports whether tag was recorded.
func (r *SyncResult) Has(tag SyncErrorTag) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (r *SyncResult) add(tag SyncErrorTag, err error) {
	if !r.Has(tag) {
		r.Tags = append(r.Tags, tag)
	}
	r.Err = multierr.Append(r.Err, err)
}

// Cloner fetches the tree at url into the (absent) directory dir.
type Cloner interface {
	Clone(ctx context.Context, url, dir string) error
}

// GitCloner makes shallow, single branch clones with go-git.
type GitCloner struct{}

func (GitCloner) Clone(ctx context.Context, url, dir string) error {
	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	})
	return err
}

// Synchronizer materializes project working trees under a projects
// directory, one subdirectory per project.
type Synchronizer struct {
	dir    string
	cloner Cloner
	logger *zap.Logger
}

// NewSynchronizer returns a Synchronizer rooted at dir.  A nil cloner
// means GitCloner.
func NewSynchronizer(dir string, cloner Cloner, logger *zap.Logger) *Synchronizer {
	if cloner == nil {
		cloner = GitCloner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{dir: dir, cloner: cloner, logger: logger.Named("sync")}
}

// ProjectDir returns the working directory of the named project.
func (s *Synchronizer) ProjectDir(name string) string {
	return filepath.Join(s.dir, name)
}

// Sync refreshes p's working tree from p.Link (when set) and then reads
// the descriptor, applying it to p.  The caller persists p.
func (s *Synchronizer) Sync(ctx context.Context, p *Project) *SyncResult {
	res := &SyncResult{Tags: []SyncErrorTag{}}
	logger := s.logger.With(zap.String("project", p.Name))

	if err := ValidateName(p.Name); err != nil {
		res.add(SyncFSError, err)
		return res
	}
	work := s.ProjectDir(p.Name)
	if err := os.MkdirAll(work, 0o755); err != nil {
		res.add(SyncFSError, fmt.Errorf("creating %s: %w", work, err))
		logger.Error("sync failed", zap.Error(res.Err))
		return res
	}

	if p.Link != "" {
		s.fetch(ctx, p.Link, work, res)
	}

	b, err := os.ReadFile(filepath.Join(work, DescriptorFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		res.add(SyncDescriptorMissing, err)
	case err != nil:
		res.add(SyncDescriptorInvalid, err)
	default:
		if d, err := ParseDescriptor(b); err != nil {
			res.add(SyncDescriptorInvalid, fmt.Errorf("%s: %w", DescriptorFile, err))
		} else {
			p.ApplyDescriptor(d)
			res.Descriptor = d
		}
	}

	if res.OK() {
		logger.Info("sync complete")
	} else {
		logger.Warn("sync finished with errors",
			zap.Any("tags", res.Tags), zap.Error(res.Err))
	}
	return res
}

// fetch clones link into a scratch directory next to work, and overlays
// it onto work.  The scratch directory never outlives the call.
func (s *Synchronizer) fetch(ctx context.Context, link, work string, res *SyncResult) {
	// A clock value alone collides when syncs are fired back to back.
	scratch := filepath.Join(s.dir, fmt.Sprintf(".sync-%s-%d-%s",
		filepath.Base(work), time.Now().UnixNano(), uuid.NewString()))

	if err := s.cloner.Clone(ctx, link, scratch); err != nil {
		res.add(SyncCloneError, fmt.Errorf("cloning %s: %w", link, err))
	} else if err := overlay(scratch, work); err != nil {
		res.add(SyncFSError, err)
	}
	if err := os.RemoveAll(scratch); err != nil {
		res.add(SyncFSError, fmt.Errorf("removing scratch directory: %w", err))
	}
}

// overlay moves every top level entry of src into dst, replacing entries
// with the same name.  Version control metadata is not carried over, and
// any left in dst is removed.
func overlay(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("reading clone: %w", err)
	}
	var errs error
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		errs = multierr.Append(errs,
			replaceEntry(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())))
	}
	if err := os.RemoveAll(filepath.Join(dst, ".git")); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("removing .git: %w", err))
	}
	return errs
}

// replaceEntry renames src over dst.  An existing dst is first moved
// aside, so that at every instant dst holds either the old or the new
// content, and it is put back if the new content cannot be moved in.
func replaceEntry(src, dst string) error {
	aside := ""
	if _, err := os.Lstat(dst); err == nil {
		aside = filepath.Join(filepath.Dir(dst),
			fmt.Sprintf(".%s.old-%s", filepath.Base(dst), uuid.NewString()))
		if err := os.Rename(dst, aside); err != nil {
			return fmt.Errorf("moving %s aside: %w", dst, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("inspecting %s: %w", dst, err)
	}

	if err := os.Rename(src, dst); err != nil {
		err = fmt.Errorf("moving %s into place: %w", dst, err)
		if aside != "" {
			if rerr := os.Rename(aside, dst); rerr != nil {
				err = multierr.Append(err, fmt.Errorf("restoring %s: %w", dst, rerr))
			}
		}
		return err
	}
	if aside != "" {
		if err := os.RemoveAll(aside); err != nil {
			return fmt.Errorf("removing old %s: %w", dst, err)
		}
	}
	return nil
}

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
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

type testHost struct {
	*Host
	dir       string
	storePath string
}

func newTestHost(t *testing.T, cloner Cloner) *testHost {
	root := t.TempDir()
	dir := filepath.Join(root, "projects")
	storePath := filepath.Join(root, "projects.json")
	logger := zaptest.NewLogger(t)

	store, err := OpenStore(storePath, logger)
	if err != nil {
		t.Fatal(err)
	}
	sup := NewSupervisor(SupervisorOptions{
		ProjectsDir: dir,
		BaseEnv:     []string{"PATH=" + os.Getenv("PATH")},
		StopTimeout: 2 * time.Second,
		Logger:      logger,
	})
	h := NewHost(store, NewSynchronizer(dir, cloner, logger), sup, logger)
	t.Cleanup(h.Close)
	return &testHost{Host: h, dir: dir, storePath: storePath}
}

func (th *testHost) shell(t *testing.T, name, script string, autoStart bool) {
	if _, err := th.Create(name); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(th.dir, name), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := th.Update(name, func(p *Project) error {
		p.SetCommand("/bin/sh")
		p.SetArgs([]string{"-c", script})
		p.SetAutoStart(autoStart)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestHostProjects(t *testing.T) {
	Convey("Given a host", t, func() {
		h := newTestHost(t, &fakeCloner{})

		Convey("the supervisor's name cannot be used", func() {
			_, err := h.Create(DefaultSelfName)
			So(errors.Is(err, ErrReservedName), ShouldBeTrue)
			So(errors.Is(h.Delete(DefaultSelfName), ErrReservedName), ShouldBeTrue)
			_, err = h.Get(DefaultSelfName)
			So(errors.Is(err, ErrReservedName), ShouldBeTrue)
		})

		Convey("invalid names are refused", func() {
			_, err := h.Create("../etc")
			So(errors.Is(err, ErrInvalidName), ShouldBeTrue)
		})

		Convey("a created project can be edited and listed", func() {
			_, err := h.Create("api")
			So(err, ShouldBeNil)
			_, err = h.Create("api")
			So(errors.Is(err, ErrExists), ShouldBeTrue)

			p, err := h.Update("api", func(p *Project) error {
				p.SetLink("https://github.com/example/api")
				p.SetEnv("PORT", "8080")
				return nil
			})
			So(err, ShouldBeNil)
			So(p.Env["PORT"], ShouldEqual, "8080")

			all, err := h.List()
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 1)
			So(all[0].Link, ShouldEqual, "https://github.com/example/api")
		})

		Convey("deleting an unknown project is NotFound", func() {
			So(errors.Is(h.Delete("ghost"), ErrNotFound), ShouldBeTrue)
		})

		Convey("deleting a running project kills it and removes its directory", func() {
			h.shell(t, "api", "exec sleep 3600", false)
			writeFile(t, filepath.Join(h.dir, "api", "data.txt"), "x")
			_, err := h.Start("api")
			So(err, ShouldBeNil)

			So(h.Delete("api"), ShouldBeNil)
			So(h.Supervisor().Running("api"), ShouldBeFalse)
			_, err = os.Stat(filepath.Join(h.dir, "api"))
			So(os.IsNotExist(err), ShouldBeTrue)
			_, err = h.Get("api")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			_, err = h.Logs("api")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("starting an unknown project is NotFound", func() {
			_, err := h.Start("ghost")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestHostSync(t *testing.T) {
	Convey("Given a project whose repository carries a descriptor", t, func() {
		cloner := &fakeCloner{files: map[string]string{
			DescriptorFile: `{"autoStart": true, "command": "./run", "args": ["--port", "80"]}`,
			"run":          "#!/bin/sh\n",
		}}
		h := newTestHost(t, cloner)
		_, err := h.Create("api")
		So(err, ShouldBeNil)
		_, err = h.Update("api", func(p *Project) error {
			p.SetLink("https://github.com/example/api")
			p.SetEnv("KEEP", "me")
			return nil
		})
		So(err, ShouldBeNil)

		Convey("Sync saves the run configuration", func() {
			res, err := h.Sync(context.Background(), "api")
			So(err, ShouldBeNil)
			So(res.OK(), ShouldBeTrue)

			p, err := h.Get("api")
			So(err, ShouldBeNil)
			So(p.AutoStart, ShouldBeTrue)
			So(p.Command, ShouldEqual, "./run")
			So(p.Args, ShouldResemble, []string{"--port", "80"})
			So(p.Env["KEEP"], ShouldEqual, "me")
			So(readFile(filepath.Join(h.dir, "api", "run")), ShouldEqual, "#!/bin/sh\n")
		})

		Convey("SyncAsync runs in the background", func() {
			job, err := h.SyncAsync("api")
			So(err, ShouldBeNil)
			So(job.Project(), ShouldEqual, "api")

			found, err := h.Job(job.ID())
			So(err, ShouldBeNil)
			So(found, ShouldEqual, job)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			res, err := job.Wait(ctx)
			So(err, ShouldBeNil)
			So(res.OK(), ShouldBeTrue)

			st := job.Status()
			So(st.Done, ShouldBeTrue)
			So(st.Errors, ShouldBeEmpty)

			p, _ := h.Get("api")
			So(p.Command, ShouldEqual, "./run")
		})

		Convey("an unknown job is NotFound", func() {
			_, err := h.Job("nope")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("a failed clone is reported in the job, not as an error", func() {
			cloner.err = errors.New("unreachable")
			job, err := h.SyncAsync("api")
			So(err, ShouldBeNil)
			res, err := job.Wait(context.Background())
			So(err, ShouldBeNil)
			So(res.Has(SyncCloneError), ShouldBeTrue)
			So(res.Has(SyncDescriptorMissing), ShouldBeTrue)

			p, _ := h.Get("api")
			So(p.Command, ShouldEqual, "")
		})
	})
}

func TestHostReconcile(t *testing.T) {
	Convey("Reconcile starts the autostart projects that are not running", t, func() {
		h := newTestHost(t, &fakeCloner{})
		h.shell(t, "auto", "exec sleep 3600", true)
		h.shell(t, "manual", "exec sleep 3600", false)
		h.shell(t, "broken", "", true)
		_, err := h.Update("broken", func(p *Project) error {
			p.SetCommand("/nonexistent/command")
			return nil
		})
		So(err, ShouldBeNil)

		started, err := h.Reconcile(context.Background())
		So(started, ShouldResemble, []string{"auto"})
		So(err, ShouldNotBeNil)
		So(errors.Is(err, ErrSpawn), ShouldBeTrue)
		So(len(multierr.Errors(err)), ShouldEqual, 1)
		So(IsFatal(err), ShouldBeFalse)

		So(h.Supervisor().Running("auto"), ShouldBeTrue)
		So(h.Supervisor().Running("manual"), ShouldBeFalse)

		Convey("and does nothing the second time", func() {
			started, _ := h.Reconcile(context.Background())
			So(started, ShouldBeEmpty)
		})
	})

	Convey("A corrupt store is fatal", t, func() {
		h := newTestHost(t, &fakeCloner{})
		So(os.WriteFile(h.storePath, []byte("{not json"), 0o644), ShouldBeNil)

		started, err := h.Reconcile(context.Background())
		So(started, ShouldBeEmpty)
		So(IsFatal(err), ShouldBeTrue)
	})
}

// blockingCloner holds every clone until its context ends.
type blockingCloner struct {
	started chan struct{}
}

func (c *blockingCloner) Clone(ctx context.Context, url, dir string) error {
	close(c.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestHostDeleteDuringSync(t *testing.T) {
	Convey("Deleting a project cancels its sync", t, func() {
		cloner := &blockingCloner{started: make(chan struct{})}
		h := newTestHost(t, cloner)
		_, err := h.Create("api")
		So(err, ShouldBeNil)
		_, err = h.Update("api", func(p *Project) error {
			p.SetLink("https://github.com/example/api")
			return nil
		})
		So(err, ShouldBeNil)

		job, err := h.SyncAsync("api")
		So(err, ShouldBeNil)
		<-cloner.started

		So(h.Delete("api"), ShouldBeNil)
		select {
		case <-job.Done():
		default:
			t.Fatal("sync still running after delete")
		}
		st := job.Status()
		So(st.Done, ShouldBeTrue)
		So(st.Errors, ShouldBeEmpty)
		So(st.Failure, ShouldContainSubstring, "cancelled")
		_, err = job.Wait(context.Background())
		So(errors.Is(err, context.Canceled), ShouldBeTrue)

		_, err = os.Stat(filepath.Join(h.dir, "api"))
		So(os.IsNotExist(err), ShouldBeTrue)

		_, err = h.SyncAsync("api")
		So(errors.Is(err, ErrNotFound), ShouldBeTrue)
	})
}

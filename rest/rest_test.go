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

package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/soulvisor/soulvisor"
)

// treeCloner stands in for git: it writes a descriptor into the clone.
type treeCloner struct {
	descriptor string
}

func (tc *treeCloner) Clone(ctx context.Context, url, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, soulvisor.DescriptorFile), []byte(tc.descriptor), 0o644)
}

type fixture struct {
	host    *soulvisor.Host
	handler *Handler
	server  *httptest.Server
	client  *Client
	dir     string
}

func newFixture(t *testing.T) *fixture {
	root := t.TempDir()
	dir := filepath.Join(root, "projects")
	logger := zaptest.NewLogger(t)

	store, err := soulvisor.OpenStore(filepath.Join(root, "projects.json"), logger)
	if err != nil {
		t.Fatal(err)
	}
	sup := soulvisor.NewSupervisor(soulvisor.SupervisorOptions{
		ProjectsDir: dir,
		BaseEnv:     []string{"PATH=" + os.Getenv("PATH")},
		StopTimeout: 2 * time.Second,
		Logger:      logger,
	})
	cloner := &treeCloner{descriptor: `{"command": "/bin/sh", "args": ["-c", "echo hello; exec sleep 3600"]}`}
	host := soulvisor.NewHost(store, soulvisor.NewSynchronizer(dir, cloner, logger), sup, logger)
	h := NewHandler(host, logger)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		host.Close()
	})
	return &fixture{
		host:    host,
		handler: h,
		server:  srv,
		client:  NewClient(nil, srv.URL),
		dir:     dir,
	}
}

func strp(s string) *string { return &s }

func TestProjectsAPI(t *testing.T) {
	Convey("Given a running server", t, func() {
		f := newFixture(t)
		c := f.client
		ctx := context.Background()

		Convey("projects can be created and listed", func() {
			p, err := c.CreateProject(ctx, "api")
			So(err, ShouldBeNil)
			So(p.Name, ShouldEqual, "api")
			So(p.Env, ShouldBeEmpty)

			all, err := c.Projects(ctx)
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 1)

			Convey("a duplicate is a conflict", func() {
				_, err := c.CreateProject(ctx, "api")
				So(errors.Is(err, soulvisor.ErrExists), ShouldBeTrue)
				var re *Error
				So(errors.As(err, &re), ShouldBeTrue)
				So(re.Code, ShouldEqual, http.StatusConflict)
			})

			Convey("and patched", func() {
				args := []string{"-c", "true"}
				yes := true
				p, err := c.PatchProject(ctx, "api", &ProjectPatch{
					Link:      strp("https://github.com/example/api"),
					AutoStart: &yes,
					Command:   strp("/bin/sh"),
					Args:      &args,
					Env:       map[string]string{"PORT": "80", "MODE": "dev"},
				})
				So(err, ShouldBeNil)
				So(p.Link, ShouldEqual, "https://github.com/example/api")
				So(p.AutoStart, ShouldBeTrue)
				So(p.Args, ShouldResemble, args)

				p, err = c.PatchProject(ctx, "api", &ProjectPatch{EnvUnset: []string{"MODE"}})
				So(err, ShouldBeNil)
				So(p.Env, ShouldResemble, map[string]string{"PORT": "80"})
				So(p.Command, ShouldEqual, "/bin/sh")

				stored, err := f.host.Get("api")
				So(err, ShouldBeNil)
				So(stored.Env, ShouldResemble, map[string]string{"PORT": "80"})
			})

			Convey("but not renamed", func() {
				req, _ := http.NewRequest("PATCH", f.server.URL+"/projects/api",
					strings.NewReader(`{"name": "other"}`))
				res, err := http.DefaultClient.Do(req)
				So(err, ShouldBeNil)
				res.Body.Close()
				So(res.StatusCode, ShouldEqual, http.StatusBadRequest)
			})

			Convey("and deleted", func() {
				So(c.DeleteProject(ctx, "api"), ShouldBeNil)
				_, err := c.Project(ctx, "api")
				So(errors.Is(err, soulvisor.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("the supervisor's name is refused", func() {
			_, err := c.CreateProject(ctx, soulvisor.DefaultSelfName)
			So(errors.Is(err, soulvisor.ErrReservedName), ShouldBeTrue)
			So(err.(*Error).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("unknown projects are not found", func() {
			_, err := c.Project(ctx, "ghost")
			So(errors.Is(err, soulvisor.ErrNotFound), ShouldBeTrue)
			So(errors.Is(c.DeleteProject(ctx, "ghost"), soulvisor.ErrNotFound), ShouldBeTrue)
			_, err = c.Sync(ctx, "ghost")
			So(errors.Is(err, soulvisor.ErrNotFound), ShouldBeTrue)
		})

		Convey("an empty environment name is refused", func() {
			c.CreateProject(ctx, "api")
			_, err := c.PatchProject(ctx, "api", &ProjectPatch{Env: map[string]string{"": "x"}})
			var re *Error
			So(errors.As(err, &re), ShouldBeTrue)
			So(re.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestSyncAPI(t *testing.T) {
	Convey("Syncing a project runs in the background", t, func() {
		f := newFixture(t)
		c := f.client
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := c.CreateProject(ctx, "api")
		So(err, ShouldBeNil)
		_, err = c.PatchProject(ctx, "api", &ProjectPatch{Link: strp("https://github.com/example/api")})
		So(err, ShouldBeNil)

		id, err := c.Sync(ctx, "api")
		So(err, ShouldBeNil)
		So(id, ShouldNotBeEmpty)

		st, err := c.WaitSync(ctx, id, 10*time.Millisecond)
		So(err, ShouldBeNil)
		So(st.Done, ShouldBeTrue)
		So(st.Errors, ShouldBeEmpty)

		p, err := c.Project(ctx, "api")
		So(err, ShouldBeNil)
		So(p.Command, ShouldEqual, "/bin/sh")

		_, err = c.SyncStatus(ctx, "no-such-job")
		So(errors.Is(err, soulvisor.ErrNotFound), ShouldBeTrue)
	})
}

func TestProcessesAPI(t *testing.T) {
	Convey("Given a project with a command", t, func() {
		f := newFixture(t)
		c := f.client
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		_, err := c.CreateProject(ctx, "api")
		So(err, ShouldBeNil)
		So(os.MkdirAll(filepath.Join(f.dir, "api"), 0o755), ShouldBeNil)
		args := []string{"-c", "echo hello; exec sleep 3600"}
		_, err = c.PatchProject(ctx, "api", &ProjectPatch{Command: strp("/bin/sh"), Args: &args})
		So(err, ShouldBeNil)

		Convey("the process table starts with the supervisor alone", func() {
			list, err := c.Processes(ctx)
			So(err, ShouldBeNil)
			So(len(list.Processes), ShouldEqual, 1)
			So(list.Processes[0].Self, ShouldBeTrue)

			Convey("and a watcher sees a start", func() {
				ch := make(chan *ProcessList, 1)
				go func() {
					next, _ := c.WatchProcesses(ctx, list)
					ch <- next
				}()
				time.Sleep(50 * time.Millisecond)
				_, err := c.Start(ctx, "api")
				So(err, ShouldBeNil)

				var next *ProcessList
				select {
				case next = <-ch:
				case <-time.After(10 * time.Second):
				}
				So(next, ShouldNotBeNil)
				So(len(next.Processes), ShouldEqual, 2)
			})
		})

		Convey("it can be started once", func() {
			info, err := c.Start(ctx, "api")
			So(err, ShouldBeNil)
			So(info.State, ShouldEqual, soulvisor.StateRunning)

			_, err = c.Start(ctx, "api")
			So(errors.Is(err, soulvisor.ErrAlreadyRunning), ShouldBeTrue)
			So(err.(*Error).Code, ShouldEqual, http.StatusConflict)

			got, err := c.Process(ctx, "api")
			So(err, ShouldBeNil)
			So(got.Pid, ShouldEqual, info.Pid)

			Convey("its log can be read", func() {
				var log *LogInfo
				for i := 0; i < 100; i++ {
					log, err = c.GetLog(ctx, "api")
					So(err, ShouldBeNil)
					if len(log.Records) > 0 {
						break
					}
					time.Sleep(20 * time.Millisecond)
				}
				So(log.Records[0].Text, ShouldEqual, "hello")

				Convey("and watched", func() {
					ch := make(chan *LogInfo, 1)
					go func() {
						next, _ := c.WatchLog(ctx, "api", log)
						ch <- next
					}()
					time.Sleep(50 * time.Millisecond)
					l, err := f.host.Supervisor().LogFor("api")
					So(err, ShouldBeNil)
					l.Append(soulvisor.Stderr, "something happened")

					var next *LogInfo
					select {
					case next = <-ch:
					case <-time.After(10 * time.Second):
					}
					So(next, ShouldNotBeNil)
					So(next.Records[len(next.Records)-1].Text, ShouldEqual, "something happened")
				})
			})

			Convey("restarted", func() {
				again, err := c.Restart(ctx, "api")
				So(err, ShouldBeNil)
				So(again.Pid, ShouldNotEqual, info.Pid)
			})

			Convey("and killed", func() {
				So(c.Kill(ctx, "api"), ShouldBeNil)
				So(c.Kill(ctx, "api"), ShouldBeNil)
				_, err := c.Process(ctx, "api")
				So(errors.Is(err, soulvisor.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("a bad command is a server error", func() {
			_, err := c.PatchProject(ctx, "api", &ProjectPatch{Command: strp("/nonexistent/command")})
			So(err, ShouldBeNil)
			_, err = c.Start(ctx, "api")
			So(errors.Is(err, soulvisor.ErrSpawn), ShouldBeTrue)
			So(err.(*Error).Code, ShouldEqual, http.StatusInternalServerError)
		})
	})
}

func TestAuth(t *testing.T) {
	Convey("With basic auth configured", t, func() {
		f := newFixture(t)
		hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
		So(err, ShouldBeNil)
		So(f.handler.SetAuth("admin", string(hash)), ShouldBeNil)
		ctx := context.Background()

		Convey("anonymous requests are refused", func() {
			_, err := f.client.Projects(ctx)
			var re *Error
			So(errors.As(err, &re), ShouldBeTrue)
			So(re.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("a wrong password is refused", func() {
			f.client.SetAuth("admin", "guess")
			_, err := f.client.Projects(ctx)
			So(err, ShouldNotBeNil)
		})

		Convey("the right credentials are accepted", func() {
			f.client.SetAuth("admin", "s3cret")
			_, err := f.client.Projects(ctx)
			So(err, ShouldBeNil)
		})

		Convey("a malformed hash is rejected up front", func() {
			So(f.handler.SetAuth("admin", "plaintext"), ShouldNotBeNil)
		})
	})
}

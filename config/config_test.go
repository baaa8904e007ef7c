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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "soulvisor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	Convey("Without a file the defaults apply", t, func() {
		cfg, err := Load("")
		So(err, ShouldBeNil)
		So(cfg, ShouldResemble, Default())
		So(cfg.Supervisor.SelfName, ShouldEqual, "soul")
		So(cfg.Supervisor.StopTimeout, ShouldEqual, 10*time.Second)
		So(cfg.AuthEnabled(), ShouldBeFalse)
	})
}

func TestLoadFile(t *testing.T) {
	Convey("Given a YAML file", t, func() {
		path := writeConfig(t, `
server:
  listen: ":9000"
  max_conns: 8
projects:
  dir: /srv/souls
supervisor:
  stop_timeout: 3s
log:
  level: debug
  format: json
`)
		cfg, err := Load(path)
		So(err, ShouldBeNil)

		Convey("the keys it sets override the defaults", func() {
			So(cfg.Server.Listen, ShouldEqual, ":9000")
			So(cfg.Server.MaxConns, ShouldEqual, 8)
			So(cfg.Projects.Dir, ShouldEqual, "/srv/souls")
			So(cfg.Supervisor.StopTimeout, ShouldEqual, 3*time.Second)
			So(cfg.Log.Level, ShouldEqual, "debug")
			So(cfg.Log.Format, ShouldEqual, "json")
		})

		Convey("the others keep theirs", func() {
			So(cfg.Projects.Store, ShouldEqual, "projects.json")
			So(cfg.Supervisor.SelfName, ShouldEqual, "soul")
			So(cfg.Log.MaxBackups, ShouldEqual, 3)
		})
	})

	Convey("A missing file is an error", t, func() {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		So(err, ShouldNotBeNil)
	})

	Convey("A file that is not YAML is an error", t, func() {
		_, err := Load(writeConfig(t, "server: [unterminated"))
		So(err, ShouldNotBeNil)
	})

	Convey("An oversized file is refused", t, func() {
		_, err := Load(writeConfig(t, "# "+strings.Repeat("x", maxConfigFileSize)))
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "too large")
	})
}

func TestLoadEnv(t *testing.T) {
	Convey("Environment variables override the file", t, func() {
		t.Setenv("SOULVISOR_SERVER_LISTEN", "0.0.0.0:7000")
		t.Setenv("SOULVISOR_SERVER_MAX_CONNS", "12")
		t.Setenv("SOULVISOR_SUPERVISOR_SELF_NAME", "keeper")
		t.Setenv("SOULVISOR_LOG_MAX_SIZE_MB", "5")

		cfg, err := Load(writeConfig(t, "server:\n  listen: \":9000\"\n"))
		So(err, ShouldBeNil)
		So(cfg.Server.Listen, ShouldEqual, "0.0.0.0:7000")
		So(cfg.Server.MaxConns, ShouldEqual, 12)
		So(cfg.Supervisor.SelfName, ShouldEqual, "keeper")
		So(cfg.Log.MaxSizeMB, ShouldEqual, 5)
	})
}

func TestEnvKey(t *testing.T) {
	Convey("Environment names map onto section.field keys", t, func() {
		So(envKey("SOULVISOR_SERVER_LISTEN"), ShouldEqual, "server.listen")
		So(envKey("SOULVISOR_SERVER_AUTH_HASH"), ShouldEqual, "server.auth_hash")
		So(envKey("SOULVISOR_LOG_MAX_BACKUPS"), ShouldEqual, "log.max_backups")
		So(envKey("SOULVISOR_DEBUG"), ShouldEqual, "debug")
	})
}

func TestValidate(t *testing.T) {
	Convey("Validate rejects unusable settings", t, func() {
		cases := []struct {
			name   string
			mutate func(*Config)
		}{
			{"empty listen", func(c *Config) { c.Server.Listen = "" }},
			{"negative conns", func(c *Config) { c.Server.MaxConns = -1 }},
			{"user alone", func(c *Config) { c.Server.AuthUser = "admin" }},
			{"empty dir", func(c *Config) { c.Projects.Dir = "" }},
			{"empty store", func(c *Config) { c.Projects.Store = "" }},
			{"zero timeout", func(c *Config) { c.Supervisor.StopTimeout = 0 }},
			{"bad self name", func(c *Config) { c.Supervisor.SelfName = "../x" }},
			{"bad level", func(c *Config) { c.Log.Level = "loud" }},
			{"bad format", func(c *Config) { c.Log.Format = "xml" }},
			{"negative backups", func(c *Config) { c.Log.MaxBackups = -1 }},
		}
		for _, tc := range cases {
			Convey(tc.name, func() {
				cfg := Default()
				tc.mutate(cfg)
				err := cfg.Validate()
				So(errors.Is(err, ErrInvalid), ShouldBeTrue)
			})
		}

		Convey("and accepts credentials given together", func() {
			cfg := Default()
			cfg.Server.AuthUser = "admin"
			cfg.Server.AuthHash = "$2a$10$abcdefghijklmnopqrstuv"
			So(cfg.Validate(), ShouldBeNil)
			So(cfg.AuthEnabled(), ShouldBeTrue)
		})
	})
}

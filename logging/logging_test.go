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

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/soulvisor/soulvisor/config"
)

func TestNew(t *testing.T) {
	Convey("Given the default log configuration", t, func() {
		cfg := config.Default().Log
		var buf bytes.Buffer

		Convey("messages at or above the level reach the console", func() {
			l, err := New(cfg, &buf)
			So(err, ShouldBeNil)
			l.Debug("hidden")
			l.Info("shown")
			So(l.Close(), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, "shown")
			So(buf.String(), ShouldNotContainSubstring, "hidden")
		})

		Convey("an unknown level is refused", func() {
			cfg.Level = "loud"
			_, err := New(cfg, &buf)
			So(err, ShouldNotBeNil)
		})

		Convey("json format writes one object per line", func() {
			cfg.Format = "json"
			l, err := New(cfg, &buf)
			So(err, ShouldBeNil)
			l.Named("store").Info("saved")
			So(l.Close(), ShouldBeNil)
			So(buf.String(), ShouldStartWith, "{")
			So(buf.String(), ShouldContainSubstring, `"logger":"store"`)
		})

		Convey("a log file receives the same entries", func() {
			cfg.File = filepath.Join(t.TempDir(), "soulvisord.log")
			l, err := New(cfg, &buf)
			So(err, ShouldBeNil)
			l.Warn("careful")
			So(l.Close(), ShouldBeNil)

			b, err := os.ReadFile(cfg.File)
			So(err, ShouldBeNil)
			So(string(b), ShouldContainSubstring, `"msg":"careful"`)
			So(buf.String(), ShouldContainSubstring, "careful")
		})
	})
}

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
	"encoding/json"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestValidateName(t *testing.T) {
	Convey("Project names are checked before use as a path", t, func() {
		for _, name := range []string{"api", "my-app", "svc_2", "v1.2"} {
			So(ValidateName(name), ShouldBeNil)
		}
		for _, name := range []string{"", ".", "..", "../etc", "a/b", `a\b`,
			".hidden", "-flag", "a\x00b", "has space"} {
			err := ValidateName(name)
			So(err, ShouldNotBeNil)
			So(errors.Is(err, ErrInvalidName), ShouldBeTrue)
		}
	})
}

func TestProjectDecode(t *testing.T) {
	Convey("Decoding a stored record", t, func() {
		Convey("accepts the full schema", func() {
			var p Project
			err := json.Unmarshal([]byte(`{"name":"api","githubLink":"https://example.com/x/y.git",
				"env":{"PORT":"80"},"autoStart":true,"command":"node","args":["server.js"]}`), &p)
			So(err, ShouldBeNil)
			So(p.Name, ShouldEqual, "api")
			So(p.Link, ShouldEqual, "https://example.com/x/y.git")
			So(p.Env, ShouldResemble, map[string]string{"PORT": "80"})
			So(p.AutoStart, ShouldBeTrue)
			So(p.Args, ShouldResemble, []string{"server.js"})
		})
		Convey("splits args stored as a single string", func() {
			var p Project
			So(json.Unmarshal([]byte(`{"name":"api","args":"server.js --port 80"}`), &p), ShouldBeNil)
			So(p.Args, ShouldResemble, []string{"server.js", "--port", "80"})
			So(json.Unmarshal([]byte(`{"name":"api","args":"index.js"}`), &p), ShouldBeNil)
			So(p.Args, ShouldResemble, []string{"index.js"})
		})
		Convey("fills in a null env", func() {
			var p Project
			So(json.Unmarshal([]byte(`{"name":"api","env":null}`), &p), ShouldBeNil)
			So(p.Env, ShouldNotBeNil)
			So(p.Args, ShouldNotBeNil)
		})
		Convey("rejects records that do not match the schema", func() {
			for _, doc := range []string{
				`{"githubLink":""}`,
				`{"name":"../x"}`,
				`{"name":"api","autoStart":"yes"}`,
				`{"name":"api","args":[1,2]}`,
				`{"name":"api","extra":1}`,
			} {
				var p Project
				So(json.Unmarshal([]byte(doc), &p), ShouldNotBeNil)
			}
		})
	})
}

func TestProjectRoundTrip(t *testing.T) {
	Convey("A new project encodes env and args as empty values", t, func() {
		p, err := NewProject("api")
		So(err, ShouldBeNil)
		b, err := json.Marshal(p)
		So(err, ShouldBeNil)
		So(string(b), ShouldContainSubstring, `"env":{}`)
		So(string(b), ShouldContainSubstring, `"args":[]`)
	})
}

func TestProjectClone(t *testing.T) {
	Convey("Clones share nothing with the original", t, func() {
		p, _ := NewProject("api")
		p.SetEnv("A", "1")
		p.SetArgs([]string{"x"})
		c := p.Clone()
		c.SetEnv("A", "2")
		c.Args[0] = "y"
		So(p.Env["A"], ShouldEqual, "1")
		So(p.Args[0], ShouldEqual, "x")

		p.UnsetEnv("A")
		So(p.Env, ShouldBeEmpty)
		So(c.Env["A"], ShouldEqual, "2")
	})
}

func TestParseDescriptor(t *testing.T) {
	Convey("Descriptors carry the run configuration", t, func() {
		d, err := ParseDescriptor([]byte(`{"autoStart":true,"command":"node","args":["index.js"]}`))
		So(err, ShouldBeNil)
		So(d.AutoStart, ShouldBeTrue)
		So(d.Command, ShouldEqual, "node")
		So(d.Args, ShouldResemble, []string{"index.js"})

		p, _ := NewProject("api")
		p.ApplyDescriptor(d)
		So(p.Command, ShouldEqual, "node")
		So(p.AutoStart, ShouldBeTrue)

		_, err = ParseDescriptor([]byte(`{"command":`))
		So(err, ShouldNotBeNil)
	})
}

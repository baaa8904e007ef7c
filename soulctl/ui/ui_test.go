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

package ui

import (
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/soulvisor/soulvisor"
	"github.com/soulvisor/soulvisor/soulctl/util"
)

func TestKeyMarkup(t *testing.T) {
	Convey("Key words are marked up", t, func() {
		So(keyMarkup([]string{"[Q] Quit"}), ShouldEqual, "[%AQ%N] Quit")
		So(keyMarkup([]string{"[Q] Quit", "[H] Help"}), ShouldEqual,
			"[%AQ%N] Quit [%AH%N] Help")
		So(keyMarkup(nil), ShouldEqual, "")
	})
	Convey("Percent signs are escaped", t, func() {
		So(keyMarkup([]string{"100% done"}), ShouldEqual, "100%% done")
		So(keyMarkup([]string{"[%] Odd"}), ShouldEqual, "[%A%%%N] Odd")
	})
}

func TestEscapeMarkup(t *testing.T) {
	Convey("Only percent signs change", t, func() {
		So(escapeMarkup("http://host:8321"), ShouldEqual, "http://host:8321")
		So(escapeMarkup("a%b%%"), ShouldEqual, "a%%b%%%%")
	})
}

func TestFormatLine(t *testing.T) {
	Convey("Given table entries", t, func() {
		stopped := &util.Entry{Name: "idle", Project: &soulvisor.Project{Name: "idle"}}
		running := &util.Entry{
			Name:    "web",
			Project: &soulvisor.Project{Name: "web"},
			Process: &soulvisor.ProcessInfo{
				Name:      "web",
				Pid:       4242,
				State:     soulvisor.StateRunning,
				StartedAt: time.Now().Add(-90 * time.Second),
			},
		}
		exited := &util.Entry{
			Name:    "bot",
			Project: &soulvisor.Project{Name: "bot"},
			Process: &soulvisor.ProcessInfo{
				Name:   "bot",
				Pid:    17,
				State:  soulvisor.StateExited,
				Reason: "exit status 1",
			},
		}
		self := &util.Entry{
			Name:    "soul",
			Process: &soulvisor.ProcessInfo{Name: "soul", Self: true, State: soulvisor.StateRunning},
		}

		Convey("A stopped project has no pid", func() {
			line := formatLine(stopped)
			So(line, ShouldStartWith, "idle")
			So(line, ShouldContainSubstring, "stopped")
			So(line, ShouldNotContainSubstring, "0:00")
			So(styleFor(stopped), ShouldResemble, StyleWarn)
		})
		Convey("A running project shows pid and uptime", func() {
			line := formatLine(running)
			So(line, ShouldContainSubstring, "running")
			So(line, ShouldContainSubstring, "4242")
			So(line, ShouldContainSubstring, "0:01:3")
			So(styleFor(running), ShouldResemble, StyleGood)
		})
		Convey("An exited project shows why", func() {
			line := formatLine(exited)
			So(line, ShouldEndWith, "exit status 1")
			So(styleFor(exited), ShouldResemble, StyleError)
		})
		Convey("The supervisor is plain", func() {
			So(formatLine(self), ShouldContainSubstring, "self")
			So(styleFor(self), ShouldResemble, StyleNormal)
		})
	})
}

func TestFormatRecord(t *testing.T) {
	Convey("Log records carry their stream", t, func() {
		when := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
		out := formatRecord(soulvisor.LogRecord{Time: when, Stream: soulvisor.Stdout, Text: "hello"})
		So(out, ShouldEqual, when.Format(time.StampMilli)+"   hello")
		out = formatRecord(soulvisor.LogRecord{Time: when, Stream: soulvisor.Stderr, Text: "oops"})
		So(out, ShouldEqual, when.Format(time.StampMilli)+" ! oops")
	})
}

func TestInfoLines(t *testing.T) {
	Convey("Details list project and process fields", t, func() {
		e := &util.Entry{
			Name: "web",
			Project: &soulvisor.Project{
				Name:      "web",
				Link:      "https://github.com/acme/web",
				AutoStart: true,
				Command:   "node",
				Args:      []string{"index.js", "--port", "80"},
				Env:       map[string]string{"B": "2", "A": "1"},
			},
		}
		text := strings.Join(infoLines(e), "\n")
		So(text, ShouldContainSubstring, "https://github.com/acme/web")
		So(text, ShouldContainSubstring, "index.js --port 80")
		So(strings.Index(text, "A=1"), ShouldBeLessThan, strings.Index(text, "B=2"))
		So(text, ShouldNotContainSubstring, "Pid:")

		e.Process = &soulvisor.ProcessInfo{
			Name:   "web",
			Pid:    99,
			State:  soulvisor.StateExited,
			Reason: "signal: killed",
		}
		text = strings.Join(infoLines(e), "\n")
		So(text, ShouldContainSubstring, "Pid: 99")
		So(text, ShouldContainSubstring, "Reason: signal: killed")
	})
}

func TestFieldText(t *testing.T) {
	Convey("Input fields have a fixed width", t, func() {
		So(fieldText(nil, false), ShouldEqual, strings.Repeat(" ", fieldWidth))
		So(fieldText([]rune("bob"), true), ShouldEqual, "bob_"+strings.Repeat(" ", fieldWidth-4))
		long := []rune(strings.Repeat("x", 30) + "end")
		out := fieldText(long, true)
		So(len(out), ShouldEqual, fieldWidth)
		So(out, ShouldStartWith, "<")
		So(out, ShouldEndWith, "end_")
	})
}

func TestEntryState(t *testing.T) {
	Convey("Given entries in each state", t, func() {
		stopped := &util.Entry{Name: "a", Project: &soulvisor.Project{Name: "a"}}
		running := &util.Entry{Name: "b", Project: &soulvisor.Project{Name: "b"},
			Process: &soulvisor.ProcessInfo{Name: "b", State: soulvisor.StateRunning}}
		exited := &util.Entry{Name: "c", Project: &soulvisor.Project{Name: "c"},
			Process: &soulvisor.ProcessInfo{Name: "c", State: soulvisor.StateExited}}
		self := &util.Entry{Name: "soul",
			Process: &soulvisor.ProcessInfo{Name: "soul", Self: true, State: soulvisor.StateRunning}}

		Convey("levels follow the status", func() {
			So(levelOf(nil), ShouldEqual, levelNormal)
			So(levelOf(self), ShouldEqual, levelNormal)
			So(levelOf(stopped), ShouldEqual, levelWarn)
			So(levelOf(running), ShouldEqual, levelGood)
			So(levelOf(exited), ShouldEqual, levelError)
		})

		Convey("keys follow the process", func() {
			So(entryKeys(self), ShouldBeEmpty)
			So(entryKeys(stopped), ShouldResemble, []string{"[S] Sync", "[T] Start"})
			So(entryKeys(running), ShouldResemble, []string{"[S] Sync", "[R] Restart", "[K] Kill"})
			So(entryKeys(exited), ShouldResemble, []string{"[S] Sync", "[R] Restart", "[K] Kill"})
		})

		Convey("the summary is graded by the worst entry", func() {
			text, l := summarize([]*util.Entry{self, running})
			So(text, ShouldContainSubstring, "1 Projects")
			So(l, ShouldEqual, levelGood)
			_, l = summarize([]*util.Entry{self, running, stopped})
			So(l, ShouldEqual, levelWarn)
			text, l = summarize([]*util.Entry{self, running, stopped, exited})
			So(text, ShouldContainSubstring, "3 Projects")
			So(l, ShouldEqual, levelError)
			_, l = summarize([]*util.Entry{self})
			So(l, ShouldEqual, levelNormal)
		})
	})
}

func TestMainSelection(t *testing.T) {
	Convey("Given a table", t, func() {
		entry := func(name string) *util.Entry {
			return &util.Entry{Name: name, Project: &soulvisor.Project{Name: name}}
		}
		app := &App{}
		app.items = []*util.Entry{entry("one"), entry("two"), entry("three")}
		m := NewMainPanel(app, "http://server")
		m.update()
		model := tableModel{m}
		So(m.selected(), ShouldBeNil)

		Convey("the first movement selects the top row", func() {
			model.MoveCursor(0, 1)
			So(m.selected().Name, ShouldEqual, "one")
			model.MoveCursor(0, 1)
			So(m.selected().Name, ShouldEqual, "two")

			Convey("the selection follows the project when rows move", func() {
				app.items = []*util.Entry{entry("two"), entry("one"), entry("three")}
				m.update()
				So(m.cury, ShouldEqual, 0)
				So(m.selected().Name, ShouldEqual, "two")
			})

			Convey("and is dropped when the project goes away", func() {
				app.items = []*util.Entry{entry("one"), entry("three")}
				m.update()
				So(m.selected(), ShouldBeNil)
			})

			Convey("the cursor stays inside the table", func() {
				model.MoveCursor(0, 10)
				So(m.selected().Name, ShouldEqual, "three")
				model.MoveCursor(0, -10)
				So(m.selected().Name, ShouldEqual, "one")
			})
		})
	})
}

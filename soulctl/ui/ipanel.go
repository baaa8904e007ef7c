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
	"fmt"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/soulvisor/soulvisor/soulctl/util"
)

type InfoPanel struct {
	text *views.TextArea
	item *util.Entry
	name string // project name

	Panel
}

func NewInfoPanel(app *App) *InfoPanel {
	p := &InfoPanel{}

	p.Panel.Init(app)
	p.SetKeys([]string{"[Q] Quit", "[H] Help"})

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)

	return p
}

func (p *InfoPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *InfoPanel) HandleEvent(ev tcell.Event) bool {
	if ev, ok := ev.(*tcell.EventKey); ok {
		switch ev.Key() {
		case tcell.KeyEsc:
			p.app.ShowMain()
			return true
		case tcell.KeyF1:
			p.app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch r := ev.Rune(); r {
			case 'Q', 'q':
				p.app.ShowMain()
				return true
			case 'H', 'h':
				p.app.ShowHelp()
				return true
			case 'L', 'l':
				if p.item != nil && p.item.Project != nil {
					p.app.ShowLog(p.name)
					return true
				}
			default:
				if p.entryKey(p.item, r) {
					return true
				}
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *InfoPanel) SetName(name string) {
	p.name = name
}

// infoLines lays out what we know about one project.
func infoLines(e *util.Entry) []string {
	lines := make([]string, 0, 16)
	add := func(label string, v interface{}) {
		lines = append(lines, fmt.Sprintf("%13s %v", label+":", v))
	}
	add("Name", e.Name)
	add("Status", e.Status())
	if pr := e.Project; pr != nil {
		add("GitHub", pr.Link)
		add("Auto start", pr.AutoStart)
		add("Command", pr.Command)
		add("Arguments", strings.Join(pr.Args, " "))
		keys := make([]string, 0, len(pr.Env))
		for k := range pr.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		label := "Environment:"
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%13s %s=%s", label, k, pr.Env[k]))
			label = ""
		}
	}
	if info := e.Process; info != nil {
		add("Pid", info.Pid)
		add("Directory", info.Dir)
		add("Started", info.StartedAt.Format("2006-01-02 15:04:05"))
		add("Uptime", util.FormatUptime(util.Uptime(info)))
		if info.Reason != "" {
			add("Exited", info.ExitedAt.Format("2006-01-02 15:04:05"))
			add("Reason", info.Reason)
		}
	}
	return lines
}

// update runs on the event loop.
func (p *InfoPanel) update() {
	item, err := p.app.GetItem(p.name)
	p.item = item

	p.SetTitle("Details for " + p.name)
	keys := []string{"[ESC] Main", "[H] Help"}
	if item != nil && item.Project != nil {
		keys = append(keys, "[L] Log")
		keys = append(keys, entryKeys(item)...)
	}
	p.SetKeys(keys)

	if item == nil {
		switch {
		case err != nil && unauthorized(err):
			p.app.ShowAuth()
			return
		case err != nil:
			p.SetStatus(fmt.Sprintf("No data: %v", err), levelError)
		default:
			p.SetStatus("Loading...", levelNormal)
		}
		p.text.SetLines(nil)
		return
	}

	if !p.ShowNotice() {
		p.SetStatus(item.Status(), levelOf(item))
	}
	p.text.SetLines(infoLines(item))
}

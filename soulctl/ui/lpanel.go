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
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/soulvisor/soulvisor"
	"github.com/soulvisor/soulvisor/soulctl/util"
)

// LogPanel follows the output of one project.
type LogPanel struct {
	text *views.TextArea
	name string
	item *util.Entry

	Panel
}

func NewLogPanel(app *App) *LogPanel {
	p := &LogPanel{}

	p.Panel.Init(app)
	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})

	return p
}

func (p *LogPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *LogPanel) HandleEvent(ev tcell.Event) bool {
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
			case 'I', 'i':
				if p.item != nil && p.item.Project != nil {
					p.app.ShowInfo(p.name)
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

func (p *LogPanel) SetName(name string) {
	p.name = name
	p.item = nil
	p.SetTitle("Log for " + name)
	p.text.SetLines(nil)
}

// formatRecord renders one log line.  Standard error lines are marked,
// since that is where most trouble shows up.
func formatRecord(r soulvisor.LogRecord) string {
	mark := " "
	if r.Stream == soulvisor.Stderr {
		mark = "!"
	}
	return fmt.Sprintf("%s %s %s", r.Time.Format(time.StampMilli), mark, r.Text)
}

// update runs on the event loop.
func (p *LogPanel) update() {
	p.item, _ = p.app.GetItem(p.name)

	keys := []string{"[ESC] Main", "[H] Help"}
	if p.item != nil && p.item.Project != nil {
		keys = append(keys, "[I] Info")
		keys = append(keys, entryKeys(p.item)...)
	}
	p.SetKeys(keys)

	info, err := p.app.GetLog(p.name)
	switch {
	case err != nil && unauthorized(err):
		p.app.ShowAuth()
		return
	case err != nil:
		p.SetStatus(fmt.Sprintf("No data: %v", err), levelError)
		p.text.SetLines(nil)
		return
	case info == nil:
		p.SetStatus("Loading ...", levelNormal)
		p.text.SetLines(nil)
		return
	}

	if !p.ShowNotice() {
		p.SetStatus(fmt.Sprintf("%d lines", len(info.Records)), levelOf(p.item))
	}
	lines := make([]string, 0, len(info.Records))
	for _, r := range info.Records {
		lines = append(lines, formatRecord(r))
	}
	p.text.SetLines(lines)
}

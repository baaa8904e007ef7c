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

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/soulvisor/soulvisor/soulctl/util"
)

var (
	StyleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorSilver).
			Background(tcell.ColorBlack)
	StyleGood  = StyleNormal.Foreground(tcell.ColorGreen)
	StyleWarn  = StyleNormal.Foreground(tcell.ColorYellow)
	StyleError = StyleNormal.Foreground(tcell.ColorMaroon)

	rowStyles = [...]tcell.Style{
		levelNormal: StyleNormal,
		levelGood:   StyleGood,
		levelWarn:   StyleWarn,
		levelError:  StyleError,
	}
)

type row struct {
	text  string
	style tcell.Style
	entry *util.Entry
}

// MainPanel is the table of every project and process the server knows.
// The selection follows a project by name as rows are reordered.
type MainPanel struct {
	content *views.CellView
	rows    []row
	sel     string
	curx    int
	cury    int
	width   int

	Panel
}

func NewMainPanel(app *App, server string) *MainPanel {
	m := &MainPanel{}

	m.Panel.Init(app)
	m.content = views.NewCellView()
	m.content.SetModel(tableModel{m})
	m.content.SetStyle(StyleNormal)
	m.SetContent(m.content)

	m.SetTitle(server)
	m.SetKeys([]string{"[Q] Quit"})

	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

// selected returns the entry under the cursor, or nil before the first
// cursor movement.
func (m *MainPanel) selected() *util.Entry {
	if m.sel == "" || m.cury >= len(m.rows) {
		return nil
	}
	return m.rows[m.cury].entry
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	if ev, ok := ev.(*tcell.EventKey); ok {
		e := m.selected()
		project := e != nil && e.Project != nil
		switch ev.Key() {
		case tcell.KeyEsc:
			m.sel = ""
			m.curx, m.cury = 0, 0
			return true
		case tcell.KeyF1:
			m.App().ShowHelp()
			return true
		case tcell.KeyEnter:
			if project {
				m.App().ShowInfo(e.Name)
				return true
			}
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				m.App().Quit()
				return true
			case 'H', 'h':
				m.App().ShowHelp()
				return true
			case 'I', 'i':
				if project {
					m.App().ShowInfo(e.Name)
					return true
				}
			case 'L', 'l':
				if project {
					m.App().ShowLog(e.Name)
					return true
				}
			default:
				if m.entryKey(e, ev.Rune()) {
					return true
				}
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

// moveTo puts the cursor on row y.  The first movement lands on the top
// row.
func (m *MainPanel) moveTo(x, y int) {
	if len(m.rows) == 0 {
		m.sel = ""
		return
	}
	if m.sel == "" {
		x, y = 0, 0
	}
	m.curx = max(0, min(x, m.width-1))
	m.cury = max(0, min(y, len(m.rows)-1))
	m.sel = m.rows[m.cury].entry.Name
}

// tableModel adapts the rows to a views.CellModel.  Rows are plain
// ASCII, one cell per byte.
type tableModel struct {
	m *MainPanel
}

func (t tableModel) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	if y < 0 || y >= len(t.m.rows) {
		return ' ', StyleNormal, nil, 1
	}
	r := t.m.rows[y]
	ch := ' '
	if x >= 0 && x < len(r.text) {
		ch = rune(r.text[x])
	}
	style := r.style
	if r.entry.Name == t.m.sel {
		style = style.Reverse(true)
	}
	return ch, style, nil, 1
}

func (t tableModel) GetBounds() (int, int) {
	return t.m.width, len(t.m.rows)
}

func (t tableModel) GetCursor() (int, int, bool, bool) {
	return t.m.curx, t.m.cury, true, false
}

func (t tableModel) MoveCursor(offx, offy int) {
	t.m.moveTo(t.m.curx+offx, t.m.cury+offy)
}

func (t tableModel) SetCursor(x, y int) {
	t.m.moveTo(x, y)
}

// formatLine renders one row of the table.
func formatLine(e *util.Entry) string {
	info := e.Process
	if info == nil {
		return fmt.Sprintf("%-20s %-8s %8s %12s", e.Name, e.Status(), "-", "-")
	}
	line := fmt.Sprintf("%-20s %-8s %8d %12s",
		e.Name, e.Status(), info.Pid,
		util.FormatDuration(util.Uptime(info)))
	if info.Reason != "" {
		line += "   " + info.Reason
	}
	return line
}

func styleFor(e *util.Entry) tcell.Style {
	return rowStyles[levelOf(e)]
}

// summarize counts projects by status for the status line, graded by the
// worst of them.
func summarize(items []*util.Entry) (string, level) {
	counts := make(map[string]int)
	for _, e := range items {
		counts[e.Status()]++
	}
	run, exit, stop := counts["running"], counts["exited"], counts["stopped"]
	text := fmt.Sprintf("%6d Projects %6d Running %6d Exited %6d Stopped",
		run+exit+stop, run, exit, stop)
	switch {
	case exit > 0:
		return text, levelError
	case stop > 0:
		return text, levelWarn
	case run > 0:
		return text, levelGood
	}
	return text, levelNormal
}

// update refreshes the rows from the App.  It runs on the event loop.
func (m *MainPanel) update() {
	keys := []string{"[Q] Quit", "[H] Help"}
	items, err := m.App().GetItems()
	if err != nil {
		if unauthorized(err) {
			m.App().ShowAuth()
			return
		}
		m.rows = nil
		m.SetStatus(fmt.Sprintf("Cannot load projects: %v", err), levelError)
		m.SetKeys(keys)
		return
	}

	m.rows = make([]row, 0, len(items))
	m.width = 0
	found := false
	for i, e := range items {
		text := formatLine(e)
		m.width = max(m.width, len(text))
		m.rows = append(m.rows, row{text: text, style: styleFor(e), entry: e})
		if e.Name == m.sel {
			m.cury = i
			found = true
		}
	}
	if !found {
		m.sel = ""
	}

	if !m.ShowNotice() {
		m.SetStatus(summarize(items))
	}

	if e := m.selected(); e != nil && e.Project != nil {
		keys = append(keys, "[I] Info", "[L] Log")
		keys = append(keys, entryKeys(e)...)
	}
	m.SetKeys(keys)
}

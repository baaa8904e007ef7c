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
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/soulvisor/soulvisor/soulctl/util"
)

// level grades what a panel shows.  It picks the status bar colors.
type level int

const (
	levelNormal level = iota
	levelGood
	levelWarn
	levelError
)

var (
	barStyle = tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(tcell.ColorSilver)
	keyStyle = barStyle.Foreground(tcell.ColorBlue).Bold(true)

	statusStyles = [...]tcell.Style{
		levelNormal: barStyle,
		levelGood:   barStyle.Foreground(tcell.ColorWhite).Background(tcell.ColorGreen).Bold(true),
		levelWarn:   barStyle.Background(tcell.ColorYellow),
		levelError:  barStyle.Foreground(tcell.ColorWhite).Background(tcell.ColorMaroon).Bold(true),
	}
)

// levelOf grades a table entry by the state of its project.
func levelOf(e *util.Entry) level {
	if e == nil {
		return levelNormal
	}
	switch e.Status() {
	case "running":
		return levelGood
	case "exited":
		return levelError
	case "stopped":
		return levelWarn
	}
	return levelNormal
}

// entryKeys lists the process actions the entry allows.
func entryKeys(e *util.Entry) []string {
	if e == nil || e.Project == nil {
		return nil
	}
	if e.Process != nil {
		return []string{"[S] Sync", "[R] Restart", "[K] Kill"}
	}
	return []string{"[S] Sync", "[T] Start"}
}

// escapeMarkup keeps a '%' in names, URLs and server messages literal.
func escapeMarkup(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

// keyMarkup renders words such as "[Q] Quit" for the key bar, with the
// bracketed key in the alternate style.
func keyMarkup(words []string) string {
	var sb strings.Builder
	for i, w := range words {
		if i > 0 && w != "" {
			sb.WriteByte(' ')
		}
		w = escapeMarkup(w)
		open := strings.IndexByte(w, '[')
		end := strings.IndexByte(w, ']')
		if open < 0 || end < open {
			sb.WriteString(w)
			continue
		}
		sb.WriteString(w[:open+1])
		sb.WriteString("%A")
		sb.WriteString(w[open+1 : end])
		sb.WriteString("%N")
		sb.WriteString(w[end:])
	}
	return sb.String()
}

func newBar(alt tcell.Style) *views.SimpleStyledTextBar {
	b := &views.SimpleStyledTextBar{}
	b.Init()
	b.SetStyle(barStyle)
	for _, reg := range []func(rune, tcell.Style){
		b.RegisterLeftStyle, b.RegisterCenterStyle, b.RegisterRightStyle,
	} {
		reg('N', barStyle)
		reg('A', alt)
	}
	return b
}

// Panel lays out a title bar, a status line, the content and a key bar,
// which is the frame every screen of the UI shares.
type Panel struct {
	title  *views.SimpleStyledTextBar
	status *views.SimpleStyledTextBar
	keys   *views.SimpleStyledTextBar
	once   sync.Once
	app    *App

	views.Panel
}

func (p *Panel) Init(app *App) {
	p.once.Do(func() {
		p.app = app

		p.title = newBar(barStyle.Foreground(tcell.ColorBlue))
		p.title.SetRight(escapeMarkup(app.GetAppName()))
		p.status = newBar(barStyle)
		p.keys = newBar(keyStyle)

		p.Panel.SetTitle(p.title)
		p.Panel.SetMenu(p.status)
		p.Panel.SetStatus(p.keys)
	})
}

func (p *Panel) App() *App {
	return p.app
}

func (p *Panel) SetTitle(title string) {
	p.title.SetCenter(escapeMarkup(title))
}

func (p *Panel) SetKeys(words []string) {
	p.keys.SetLeft(keyMarkup(words))
}

// SetStatus shows text on the status line, colored for l.
func (p *Panel) SetStatus(text string, l level) {
	style := statusStyles[l]
	p.status.SetStyle(style)
	p.status.RegisterLeftStyle('N', style)
	p.status.SetLeft(escapeMarkup(text))
}

// ShowNotice puts the outcome of the last action on the status line, if
// there is one.  It reports whether it did.
func (p *Panel) ShowNotice() bool {
	msg, failed := p.app.Notice()
	if msg == "" {
		return false
	}
	if failed {
		p.SetStatus(msg, levelError)
	} else {
		p.SetStatus(msg, levelNormal)
	}
	return true
}

// entryKey runs the process action bound to r on e.  I and L are left
// to the panels, since they move between screens.
func (p *Panel) entryKey(e *util.Entry, r rune) bool {
	if e == nil || e.Project == nil {
		return false
	}
	switch r {
	case 'S', 's':
		p.app.SyncProject(e.Name)
	case 'T', 't':
		if e.Process != nil {
			return false
		}
		p.app.StartProject(e.Name)
	case 'R', 'r':
		if e.Process == nil {
			return false
		}
		p.app.RestartProject(e.Name)
	case 'K', 'k':
		if e.Process == nil {
			return false
		}
		p.app.KillProject(e.Name)
	default:
		return false
	}
	return true
}

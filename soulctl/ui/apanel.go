// Copyright 2026 The Soulvisor Authors
// Copyright 2016 The Govisor Authors
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
	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
)

const fieldWidth = 16

var (
	styleFocus = tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorNavy)
)

type AuthPanel struct {
	hlayout    *views.BoxLayout
	left       *views.BoxLayout
	right      *views.BoxLayout
	uprompt    *views.Text
	pprompt    *views.Text
	ufield     *views.Text
	pfield     *views.Text
	passactive bool
	username   []rune
	password   []rune

	Panel
}

func NewAuthPanel(app *App, server string) *AuthPanel {
	p := &AuthPanel{}
	p.Panel.Init(app)

	p.username = make([]rune, 0, 128)
	p.password = make([]rune, 0, 128)

	p.hlayout = views.NewBoxLayout(views.Horizontal)
	p.left = views.NewBoxLayout(views.Vertical)
	p.right = views.NewBoxLayout(views.Vertical)
	p.uprompt = views.NewText()
	p.pprompt = views.NewText()
	p.ufield = views.NewText()
	p.pfield = views.NewText()
	p.uprompt.SetText("Username: ")
	p.pprompt.SetText("Password: ")

	for _, w := range []interface{ SetStyle(tcell.Style) }{
		p.uprompt, p.pprompt, p.ufield, p.pfield,
		p.hlayout, p.left, p.right,
	} {
		w.SetStyle(StyleNormal)
	}

	p.left.AddWidget(views.NewSpacer(), 1.0)
	p.left.AddWidget(p.uprompt, 0.0)
	p.left.AddWidget(p.pprompt, 0.0)
	p.left.AddWidget(views.NewSpacer(), 1.0)

	p.right.AddWidget(views.NewSpacer(), 1.0)
	p.right.AddWidget(p.ufield, 0.0)
	p.right.AddWidget(p.pfield, 0.0)
	p.right.AddWidget(views.NewSpacer(), 1.0)

	p.hlayout.AddWidget(views.NewSpacer(), 1.0)
	p.hlayout.AddWidget(p.left, 0.0)
	p.hlayout.AddWidget(p.right, 0.0)
	p.hlayout.AddWidget(views.NewSpacer(), 1.0)

	p.SetTitle(server)
	p.SetKeys([]string{"[ESC] Quit", "[TAB] Next", "[ENTER] Login"})
	p.SetContent(p.hlayout)
	p.update()

	return p
}

func (p *AuthPanel) ResetFields() {
	p.passactive = false
	p.username = p.username[:0]
	p.password = p.password[:0]
}

func (p *AuthPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *AuthPanel) field() *[]rune {
	if p.passactive {
		return &p.password
	}
	return &p.username
}

func (p *AuthPanel) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		f := p.field()
		switch ev.Key() {
		case tcell.KeyEsc:
			p.App().Quit()
		case tcell.KeyTab, tcell.KeyEnter:
			if p.passactive {
				user, pass := string(p.username), string(p.password)
				p.ResetFields()
				p.App().SetAuth(user, pass)
			} else {
				p.passactive = true
			}
		case tcell.KeyBacktab:
			p.passactive = false
		case tcell.KeyCtrlU, tcell.KeyCtrlW:
			*f = (*f)[:0]
		case tcell.KeyBackspace, tcell.KeyBackspace2:
			if len(*f) > 0 {
				*f = (*f)[:len(*f)-1]
			}
		case tcell.KeyRune:
			if len(*f) < 256 {
				*f = append(*f, ev.Rune())
			}
		default:
			return false
		}
		return true
	}
	return p.Panel.HandleEvent(ev)
}

// fieldText renders an input field of fixed width, scrolled so the end
// stays visible.
func fieldText(text []rune, active bool) string {
	out := append([]rune{}, text...)
	if active {
		out = append(out, '_')
	}
	if len(out) > fieldWidth {
		out = out[len(out)-fieldWidth:]
		out[0] = '<'
	}
	for len(out) < fieldWidth {
		out = append(out, ' ')
	}
	return string(out)
}

func (p *AuthPanel) update() {
	p.SetStatus("Authentication Required", levelError)

	stars := make([]rune, len(p.password))
	for i := range stars {
		stars[i] = '*'
	}
	p.ufield.SetText(fieldText(p.username, !p.passactive))
	p.pfield.SetText(fieldText(stars, p.passactive))

	if p.passactive {
		p.pfield.SetStyle(styleFocus)
		p.ufield.SetStyle(StyleNormal)
	} else {
		p.ufield.SetStyle(styleFocus)
		p.pfield.SetStyle(StyleNormal)
	}
}

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
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/soulvisor/soulvisor"
	"github.com/soulvisor/soulvisor/rest"
	"github.com/soulvisor/soulvisor/soulctl/util"
)

const actionTimeout = 30 * time.Second

type App struct {
	app       *views.Application
	view      views.View
	panel     views.Widget
	info      *InfoPanel
	help      *HelpPanel
	log       *LogPanel
	main      *MainPanel
	auth      *AuthPanel
	client    *rest.Client
	err       error
	items     []*util.Entry
	notice    string
	noticeErr bool
	logName   string
	logInfo   *rest.LogInfo
	logErr    error
	logCancel context.CancelFunc
	wake      chan struct{}
	mx        sync.Mutex // guards the fields the pollers write

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowInfo(name string) {
	a.info.SetName(name)
	a.show(a.info)
}

func (a *App) ShowLog(name string) {
	if a.logCancel != nil {
		a.logCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.mx.Lock()
	a.logInfo = nil
	a.logErr = nil
	a.logName = name
	a.mx.Unlock()
	a.logCancel = cancel
	a.log.SetName(name)
	go a.refreshLog(ctx, name)

	a.show(a.log)
}

func (a *App) ShowMain() {
	a.show(a.main)
}

func (a *App) ShowAuth() {
	if a.panel != a.auth {
		a.show(a.auth)
	}
}

// SetAuth retries the server with new credentials.
func (a *App) SetAuth(user, pass string) {
	a.client.SetAuth(user, pass)
	a.mx.Lock()
	a.err = nil
	a.mx.Unlock()
	a.poke()
	a.ShowMain()
}

// do runs a server call off the event loop and reports how it went.
func (a *App) do(what string, name string, fn func(context.Context) error) {
	a.setNotice(fmt.Sprintf("%s %s ...", what, name), false)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if e := fn(ctx); e != nil {
			a.setNotice(fmt.Sprintf("%s %s failed: %v", what, name, e), true)
		} else {
			a.setNotice(fmt.Sprintf("%s %s done", what, name), false)
		}
		a.poke()
	}()
}

func (a *App) StartProject(name string) {
	a.do("Start", name, func(ctx context.Context) error {
		_, e := a.client.Start(ctx, name)
		return e
	})
}

func (a *App) KillProject(name string) {
	a.do("Kill", name, func(ctx context.Context) error {
		return a.client.Kill(ctx, name)
	})
}

func (a *App) RestartProject(name string) {
	a.do("Restart", name, func(ctx context.Context) error {
		_, e := a.client.Restart(ctx, name)
		return e
	})
}

func (a *App) SyncProject(name string) {
	a.do("Sync", name, func(ctx context.Context) error {
		id, e := a.client.Sync(ctx, name)
		if e != nil {
			return e
		}
		st, e := a.client.WaitSync(ctx, id, 500*time.Millisecond)
		if e != nil {
			return e
		}
		if st.Failure != "" {
			return errors.New(st.Failure)
		}
		if len(st.Errors) > 0 {
			return errors.New(st.Messages[0])
		}
		return nil
	})
}

func (a *App) setNotice(msg string, failed bool) {
	a.mx.Lock()
	a.notice = msg
	a.noticeErr = failed
	a.mx.Unlock()
	a.app.Update()
}

// Notice returns the outcome of the last action, if any.
func (a *App) Notice() (string, bool) {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.notice, a.noticeErr
}

func (a *App) Quit() {
	/* This just posts the quit event. */
	a.app.Quit()
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) GetAppName() string {
	return "Soulvisor"
}

func NewApp(client *rest.Client, url string) *App {
	app := &App{}
	app.app = &views.Application{}
	app.client = client
	app.wake = make(chan struct{}, 1)
	app.info = NewInfoPanel(app)
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app, url)
	app.auth = NewAuthPanel(app, url)
	app.panel = app.main
	return app
}

// poke cuts a process table watch short, after an action or new
// credentials.
func (a *App) poke() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// watchLimit bounds each process table watch, so that project records,
// which are not watched, are picked up now and then.
const watchLimit = 15 * time.Second

func (a *App) fetch(ctx context.Context, last *rest.ProcessList) (*rest.ProcessList, []*soulvisor.Project, error) {
	var list *rest.ProcessList
	var e error
	if last == nil {
		list, e = a.client.Processes(ctx)
	} else {
		list, e = a.client.WatchProcesses(ctx, last)
	}
	if e != nil {
		return nil, nil, e
	}
	projects, e := a.client.Projects(ctx)
	if e != nil {
		return nil, nil, e
	}
	return list, projects, nil
}

// refresh keeps the app items current.
func (a *App) refresh() {
	var last *rest.ProcessList
	for {
		ctx, cancel := context.WithTimeout(context.Background(), watchLimit)
		go func() {
			select {
			case <-a.wake:
				cancel()
			case <-ctx.Done():
			}
		}()
		list, projects, e := a.fetch(ctx, last)
		interrupted := e != nil && ctx.Err() != nil
		cancel()
		if interrupted {
			// Poked, or the watch ran its course: start afresh.
			last = nil
			continue
		}

		var items []*util.Entry
		if e == nil {
			last = list
			items = util.Merge(projects, list.Processes)
		} else {
			last = nil
		}
		a.mx.Lock()
		a.items = items
		a.err = e
		a.mx.Unlock()
		a.app.Update()
		if e != nil {
			time.Sleep(2 * time.Second)
		}
	}
}

func (a *App) refreshLog(ctx context.Context, name string) {
	info, e := a.client.GetLog(ctx, name)

	for {
		a.mx.Lock()
		if a.logName == name {
			a.logInfo = info
			a.logErr = e
		}
		a.mx.Unlock()
		a.app.Update()
		select {
		case <-ctx.Done():
			return
		default:
		}
		if e != nil {
			time.Sleep(2 * time.Second)
			info, e = a.client.GetLog(ctx, name)
			continue
		}
		info, e = a.client.WatchLog(ctx, name, info)
	}
}

func (a *App) GetItems() ([]*util.Entry, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.items, a.err
}

func (a *App) GetItem(name string) (*util.Entry, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	for _, i := range a.items {
		if i.Name == name {
			return i, nil
		}
	}
	return nil, errors.New("Project not found")
}

func (a *App) GetLog(name string) (*rest.LogInfo, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	if a.logName == name {
		return a.logInfo, a.logErr
	}
	return nil, nil
}

// unauthorized reports whether e is the server refusing our credentials.
func unauthorized(e error) bool {
	var re *rest.Error
	return errors.As(e, &re) && re.Code == http.StatusUnauthorized
}

func (a *App) Run() error {
	a.app.SetRootWidget(a)
	a.ShowMain()
	go a.refresh()
	go func() {
		// Give us periodic updates, uptimes move.
		for {
			a.app.Update()
			time.Sleep(time.Second)
		}
	}()
	return a.app.Run()
}

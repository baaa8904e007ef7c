// Copyright 2026 The Soulvisor Authors
// Copyright 2015 The Govisor Authors
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

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/soulvisor/soulvisor"
)

// LogInfo is a cached copy of a process log.
type LogInfo struct {
	etag    string
	Records []soulvisor.LogRecord
}

// ProcessList is a cached copy of the process table.
type ProcessList struct {
	etag      string
	Processes []*soulvisor.ProcessInfo
}

type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client

	// Cached data
	logs  map[string]*LogInfo
	procs *ProcessList
	lock  sync.Mutex
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) projectURL(name string, action string) string {
	u := c.base + "/projects"
	if name != "" {
		u += "/" + url.PathEscape(name)
	}
	if action != "" {
		u += "/" + action
	}
	return u
}

func (c *Client) processURL(name string) string {
	if name == "" {
		return c.base + "/processes"
	}
	return c.base + "/processes/" + url.PathEscape(name)
}

func (c *Client) newRequest(ctx context.Context, method, url string, body interface{}) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, e := json.Marshal(body)
		if e != nil {
			return nil, e
		}
		rd = bytes.NewReader(b)
	}
	req, e := http.NewRequestWithContext(ctx, method, url, rd)
	if e != nil {
		return nil, e
	}
	if body != nil {
		req.Header.Set("Content-Type", mimeJson)
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	return req, nil
}

// readError turns a non-2xx response into an *Error.  The server's JSON
// body is used when there is one.
func readError(res *http.Response) error {
	e := &Error{}
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if json.Unmarshal(body, e) != nil || e.Message == "" {
		e.Message = res.Status
	}
	e.Code = res.StatusCode
	return e
}

// do issues a request with an optional JSON body, and decodes the JSON
// response into v unless v is nil.
func (c *Client) do(ctx context.Context, method, url string, body, v interface{}) error {
	req, e := c.newRequest(ctx, method, url, body)
	if e != nil {
		return e
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return readError(res)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(v)
}

// poll issues an HTTP GET against the URL, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new Etag and any error.  If the
// value did not change, then the returned etag will be "", but the error will
// be nil.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {
	req, e := c.newRequest(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}
	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", readError(res)
	}
	if e := json.NewDecoder(res.Body).Decode(v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func (c *Client) Projects(ctx context.Context) ([]*soulvisor.Project, error) {
	var v []*soulvisor.Project
	if e := c.do(ctx, "GET", c.projectURL("", ""), nil, &v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) Project(ctx context.Context, name string) (*soulvisor.Project, error) {
	v := &soulvisor.Project{}
	if e := c.do(ctx, "GET", c.projectURL(name, ""), nil, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) CreateProject(ctx context.Context, name string) (*soulvisor.Project, error) {
	v := &soulvisor.Project{}
	if e := c.do(ctx, "POST", c.projectURL("", ""), &CreateRequest{Name: name}, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) PatchProject(ctx context.Context, name string, patch *ProjectPatch) (*soulvisor.Project, error) {
	v := &soulvisor.Project{}
	if e := c.do(ctx, "PATCH", c.projectURL(name, ""), patch, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) DeleteProject(ctx context.Context, name string) error {
	return c.do(ctx, "DELETE", c.projectURL(name, ""), nil, nil)
}

// Sync asks the server to synchronize a project, and returns the id of
// the background job.
func (c *Client) Sync(ctx context.Context, name string) (string, error) {
	v := &SyncAccepted{}
	if e := c.do(ctx, "POST", c.projectURL(name, "sync"), nil, v); e != nil {
		return "", e
	}
	return v.ID, nil
}

func (c *Client) SyncStatus(ctx context.Context, id string) (*soulvisor.SyncJobStatus, error) {
	v := &soulvisor.SyncJobStatus{}
	if e := c.do(ctx, "GET", c.base+"/syncs/"+url.PathEscape(id), nil, v); e != nil {
		return nil, e
	}
	return v, nil
}

// WaitSync polls a sync job every interval until it is done.
func (c *Client) WaitSync(ctx context.Context, id string, interval time.Duration) (*soulvisor.SyncJobStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, e := c.SyncStatus(ctx, id)
		if e != nil || st.Done {
			return st, e
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) postProcess(ctx context.Context, name, action string) (*soulvisor.ProcessInfo, error) {
	v := &soulvisor.ProcessInfo{}
	if e := c.do(ctx, "POST", c.projectURL(name, action), nil, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) Start(ctx context.Context, name string) (*soulvisor.ProcessInfo, error) {
	return c.postProcess(ctx, name, "start")
}

func (c *Client) Restart(ctx context.Context, name string) (*soulvisor.ProcessInfo, error) {
	return c.postProcess(ctx, name, "restart")
}

func (c *Client) Kill(ctx context.Context, name string) error {
	return c.do(ctx, "POST", c.projectURL(name, "kill"), nil, nil)
}

func (c *Client) Process(ctx context.Context, name string) (*soulvisor.ProcessInfo, error) {
	v := &soulvisor.ProcessInfo{}
	if e := c.do(ctx, "GET", c.processURL(name), nil, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) pollProcesses(ctx context.Context, secs int, last *ProcessList) (*ProcessList, error) {
	c.lock.Lock()
	cached := c.procs
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if cached != nil && last.etag != cached.etag {
		// The cache moved on since the caller looked.
		return cached, nil
	} else {
		otag = last.etag
	}

	v := &ProcessList{}
	etag, e := c.poll(ctx, c.processURL(""), otag, secs, &v.Processes)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		if cached == nil {
			return last, nil
		}
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.procs = v
	c.lock.Unlock()
	return v, nil
}

// Processes returns the process table, including the supervisor.
func (c *Client) Processes(ctx context.Context) (*ProcessList, error) {
	return c.pollProcesses(ctx, 0, nil)
}

// WatchProcesses waits until a process is registered or removed after
// last was fetched.
func (c *Client) WatchProcesses(ctx context.Context, last *ProcessList) (*ProcessList, error) {
	return c.pollProcesses(ctx, MaxPollTime, last)
}

func (c *Client) pollLog(ctx context.Context, name string, secs int, last *LogInfo) (*LogInfo, error) {
	v := &LogInfo{}

	c.lock.Lock()
	cached, ok := c.logs[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if ok && last.etag != cached.etag {
		// Revalidate the cached copy rather than waiting on a stale one.
		secs = 0
		otag = cached.etag
	} else {
		otag = last.etag
	}

	etag, e := c.poll(ctx, c.processURL(name)+"/log", otag, secs, &v.Records)
	if e != nil {
		c.lock.Lock()
		delete(c.logs, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		if !ok {
			return last, nil
		}
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.logs[name] = v
	c.lock.Unlock()

	return v, nil
}

// WatchLog waits for the log to change from last.
func (c *Client) WatchLog(ctx context.Context, name string, last *LogInfo) (*LogInfo, error) {
	// Let the poll wait for up to 300 secs (5 minutes).
	return c.pollLog(ctx, name, MaxPollTime, last)
}

func (c *Client) GetLog(ctx context.Context, name string) (*LogInfo, error) {
	return c.pollLog(ctx, name, 0, nil)
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t http.RoundTripper, baseURI string) *Client {
	if t == nil {
		t = http.DefaultTransport
	}
	return &Client{
		base:   baseURI,
		client: &http.Client{Transport: t},
		logs:   make(map[string]*LogInfo),
	}
}

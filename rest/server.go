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

package rest

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/soulvisor/soulvisor"
)

const maxBodySize = 1 << 20

// Handler wraps a Host, adding http.Handler functionality.
type Handler struct {
	host     *soulvisor.Host
	r        *mux.Router
	logger   *zap.Logger
	authUser string
	authHash []byte
}

func (h *Handler) writeJson(w http.ResponseWriter, code int, v interface{}) {
	b, e := json.Marshal(v)
	if e != nil {
		h.logger.Error("failed to encode response", zap.Error(e))
		http.Error(w, e.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeJson)
	w.WriteHeader(code)
	w.Write(b)
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	h.writeJson(w, e.Code, e)
}

func statusFor(err error) int {
	switch kindOf(err) {
	case "not-found":
		return http.StatusNotFound
	case "exists", "already-running":
		return http.StatusConflict
	case "invalid-name", "reserved-name":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := &Error{Code: statusFor(err), Kind: kindOf(err), Message: err.Error()}
	if e.Code == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	h.writeError(w, e)
}

func (h *Handler) badRequest(w http.ResponseWriter, err error) {
	h.writeError(w, &Error{Code: http.StatusBadRequest, Message: err.Error()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.badRequest(w, fmt.Errorf("malformed request body: %w", err))
		return false
	}
	return true
}

func projectName(r *http.Request) string {
	return mux.Vars(r)["project"]
}

// pollWait implements the long poll: if the client already holds the
// current etag and is willing to wait, block until it changes or the
// wait expires.
func pollWait(r *http.Request, current int64, watch func(int64, time.Duration) int64) int64 {
	etag, ok := parseEtag(r.Header.Get(PollEtagHeader))
	if !ok || etag != current {
		return current
	}
	secs, err := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if err != nil || secs <= 0 {
		return current
	}
	if secs > MaxPollTime {
		secs = MaxPollTime
	}
	return watch(current, time.Duration(secs)*time.Second)
}

// notModified sets the Etag header, and answers 304 when the client
// already has this version.
func notModified(w http.ResponseWriter, r *http.Request, etag int64) bool {
	tag := formatEtag(etag)
	w.Header().Set("Etag", tag)
	if r.Header.Get("If-None-Match") == tag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.host.List()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, projects)
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.host.Create(req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJson(w, http.StatusCreated, p)
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.host.Get(projectName(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, p)
}

func (h *Handler) patchProject(w http.ResponseWriter, r *http.Request) {
	var patch ProjectPatch
	if !h.decode(w, r, &patch) {
		return
	}
	if err := patch.validate(); err != nil {
		h.badRequest(w, err)
		return
	}
	p, err := h.host.Update(projectName(r), func(p *soulvisor.Project) error {
		patch.apply(p)
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, p)
}

func (h *Handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.host.Delete(projectName(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, ok)
}

func (h *Handler) syncProject(w http.ResponseWriter, r *http.Request) {
	job, err := h.host.SyncAsync(projectName(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/syncs/"+job.ID())
	h.writeJson(w, http.StatusAccepted, &SyncAccepted{ID: job.ID()})
}

func (h *Handler) getSync(w http.ResponseWriter, r *http.Request) {
	job, err := h.host.Job(mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, job.Status())
}

func (h *Handler) startProject(w http.ResponseWriter, r *http.Request) {
	info, err := h.host.Start(projectName(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, info)
}

func (h *Handler) killProject(w http.ResponseWriter, r *http.Request) {
	if err := h.host.Kill(projectName(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, ok)
}

func (h *Handler) restartProject(w http.ResponseWriter, r *http.Request) {
	info, err := h.host.Restart(projectName(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, info)
}

func (h *Handler) listProcesses(w http.ResponseWriter, r *http.Request) {
	sup := h.host.Supervisor()
	serial := pollWait(r, sup.Serial(), sup.WatchSerial)
	if notModified(w, r, serial) {
		return
	}
	h.writeJson(w, http.StatusOK, h.host.Processes())
}

func (h *Handler) getProcess(w http.ResponseWriter, r *http.Request) {
	info, err := h.host.Info(projectName(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJson(w, http.StatusOK, info)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	log, err := h.host.Supervisor().LogFor(projectName(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_, id := log.Records(0)
	id = pollWait(r, id, log.Watch)
	recs, id := log.Records(0)
	if notModified(w, r, id) {
		return
	}
	if recs == nil {
		recs = []soulvisor.LogRecord{}
	}
	h.writeJson(w, http.StatusOK, recs)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.code = code
	sw.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.code),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authHash == nil {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, found := r.BasicAuth()
		if found &&
			subtle.ConstantTimeCompare([]byte(user), []byte(h.authUser)) == 1 &&
			bcrypt.CompareHashAndPassword(h.authHash, []byte(pass)) == nil {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="soulvisor"`)
		h.writeError(w, &Error{Code: http.StatusUnauthorized, Message: "Unauthorized"})
	})
}

// SetAuth requires HTTP basic authentication with the given user, whose
// password must match the bcrypt hash.
func (h *Handler) SetAuth(user string, hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("invalid password hash: %w", err)
	}
	h.authUser = user
	h.authHash = []byte(hash)
	return nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

func NewHandler(host *soulvisor.Host, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := mux.NewRouter()
	h := &Handler{host: host, r: r, logger: logger.Named("rest")}
	r.Use(h.logRequests, h.authenticate)

	r.HandleFunc("/projects", h.listProjects).Methods("GET")
	r.HandleFunc("/projects", h.createProject).Methods("POST")
	r.HandleFunc("/projects/{project}", h.getProject).Methods("GET")
	r.HandleFunc("/projects/{project}", h.patchProject).Methods("PATCH")
	r.HandleFunc("/projects/{project}", h.deleteProject).Methods("DELETE")
	r.HandleFunc("/projects/{project}/sync", h.syncProject).Methods("POST")
	r.HandleFunc("/projects/{project}/start", h.startProject).Methods("POST")
	r.HandleFunc("/projects/{project}/kill", h.killProject).Methods("POST")
	r.HandleFunc("/projects/{project}/restart", h.restartProject).Methods("POST")
	r.HandleFunc("/syncs/{id}", h.getSync).Methods("GET")
	r.HandleFunc("/processes", h.listProcesses).Methods("GET")
	r.HandleFunc("/processes/{project}", h.getProcess).Methods("GET")
	r.HandleFunc("/processes/{project}/log", h.getLog).Methods("GET")
	return h
}

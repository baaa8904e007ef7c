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

package soulvisor

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// MaxLogRecords is the number of records kept per stream.
	MaxLogRecords = 50
)

// Stream identifies which output of a process a record came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

type LogRecord struct {
	Id     int64     `json:"id,string"`
	Time   time.Time `json:"time"`
	Stream Stream    `json:"stream"`
	Text   string    `json:"text"`
}

// ring is a fixed size FIFO of records for one stream.
type ring struct {
	records    []LogRecord
	numRecords int
}

func (r *ring) add(rec LogRecord, max int) {
	if r.records == nil {
		r.records = make([]LogRecord, max)
	}
	r.records[r.numRecords%max] = rec
	// NB: numRecords may exceed max.  In that case we have wrapped, and
	// it is only used to find the next index.
	r.numRecords++
}

func (r *ring) snapshot(max int) []LogRecord {
	cnt := r.numRecords
	if cnt > max {
		cnt = max
	}
	recs := make([]LogRecord, 0, cnt)
	index := r.numRecords - cnt
	for j := 0; j < cnt; j++ {
		recs = append(recs, r.records[index%max])
		index++
	}
	return recs
}

// Log keeps the most recent output of a process, MaxLogRecords lines per
// stream, oldest evicted first.  Record IDs increase across both streams,
// so a merged snapshot is in capture order.
type Log struct {
	stdout     ring
	stderr     ring
	maxRecords int
	id         int64
	cvs        map[*sync.Cond]bool
	mx         sync.Mutex
}

func (log *Log) lock() {
	log.mx.Lock()
}

func (log *Log) unlock() {
	log.mx.Unlock()
}

func (log *Log) ring(s Stream) *ring {
	if s == Stderr {
		return &log.stderr
	}
	return &log.stdout
}

// Append records text, one record per line, stamped with the current time.
func (log *Log) Append(s Stream, text string) {
	log.appendLines(s, strings.Split(strings.Trim(text, "\n"), "\n"))
}

func (log *Log) appendLines(s Stream, lines []string) {
	now := time.Now()
	log.lock()
	r := log.ring(s)
	for _, line := range lines {
		log.id++
		r.add(LogRecord{
			Id:     log.id,
			Time:   now,
			Stream: s,
			Text:   strings.TrimSuffix(line, "\r"),
		}, log.maxRecords)
	}
	for cv := range log.cvs {
		cv.Broadcast()
	}
	log.unlock()
}

// maxLineLength bounds a line held back waiting for its newline.  A
// longer run is recorded as it is.
const maxLineLength = 64 * 1024

// LineWriter records what is written to it one line per record.  A
// trailing partial line is held until its newline arrives or Flush is
// called, so output written in pieces still makes a single record.
type LineWriter struct {
	log     *Log
	stream  Stream
	partial []byte
	onLine  func(string)
	mx      sync.Mutex
}

func (w *LineWriter) Write(b []byte) (int, error) {
	w.mx.Lock()
	defer w.mx.Unlock()

	w.partial = append(w.partial, b...)
	rest := w.partial
	var lines []string
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimSuffix(string(rest[:i]), "\r"))
		rest = rest[i+1:]
	}
	if len(rest) >= maxLineLength {
		lines = append(lines, string(rest))
		rest = nil
	}
	w.partial = append(w.partial[:0], rest...)
	w.emit(lines)
	return len(b), nil
}

// Flush records a held partial line, if any.
func (w *LineWriter) Flush() {
	w.mx.Lock()
	defer w.mx.Unlock()
	if len(w.partial) > 0 {
		w.emit([]string{string(w.partial)})
		w.partial = w.partial[:0]
	}
}

func (w *LineWriter) emit(lines []string) {
	if len(lines) == 0 {
		return
	}
	w.log.appendLines(w.stream, lines)
	if w.onLine != nil {
		for _, line := range lines {
			w.onLine(line)
		}
	}
}

// Writer returns a LineWriter appending to stream s.
func (log *Log) Writer(s Stream) *LineWriter {
	return &LineWriter{log: log, stream: s}
}

// Records returns a copy of the stored records of both streams, merged
// in capture order, together with an ID suitable for use as an Etag.
// If last equals the current ID, nothing has changed and nil is returned.
func (log *Log) Records(last int64) ([]LogRecord, int64) {
	log.lock()
	if log.id == last {
		log.unlock()
		return nil, last
	}
	recs := append(log.stdout.snapshot(log.maxRecords),
		log.stderr.snapshot(log.maxRecords)...)
	id := log.id
	log.unlock()
	sort.Slice(recs, func(i, j int) bool { return recs[i].Id < recs[j].Id })
	return recs, id
}

// StreamRecords returns a copy of the records of one stream.
func (log *Log) StreamRecords(s Stream) []LogRecord {
	log.lock()
	defer log.unlock()
	return log.ring(s).snapshot(log.maxRecords)
}

// Len returns the number of records held for stream s.
func (log *Log) Len(s Stream) int {
	log.lock()
	defer log.unlock()
	n := log.ring(s).numRecords
	if n > log.maxRecords {
		n = log.maxRecords
	}
	return n
}

// Watch blocks until the log changes from last, or expire passes, and
// returns the current ID.  A non-positive expire returns immediately.
func (log *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&log.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			log.lock()
			expired = true
			cv.Broadcast()
			log.unlock()
		})
	} else {
		expired = true
	}

	log.lock()
	log.cvs[cv] = true
	for log.id == last && !expired {
		cv.Wait()
	}
	delete(log.cvs, cv)
	last = log.id
	log.unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// NewLog returns a Log instance.
func NewLog() *Log {
	return &Log{
		maxRecords: MaxLogRecords,
		// Starting from the clock keeps IDs from a new Log distinct from
		// those a client saw before a restart.
		id:  time.Now().UnixNano(),
		cvs: make(map[*sync.Cond]bool),
	}
}

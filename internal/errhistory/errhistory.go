// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errhistory implements the legacy per-channel error history (spec.md
// §4.2): the pending-sentinel discipline that backs getLastError,
// getPrevError, and resetError. There is no teacher equivalent — legacy
// getLastError/getPrevError predate the cursor-based wire protocol that
// modern MongoDB drivers (and this core's teacher) use — so this is built
// directly from spec.md, using the same mutex-per-keyed-map discipline the
// teacher uses for its own concurrent maps.
package errhistory

import (
	"sync"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
)

// Capacity is the maximum number of entries kept per channel (spec.md
// invariant 7).
const Capacity = 10

// entry is one slot in a channel's history: either nil (the pending
// sentinel), or a recorded result/error document.
type entry struct {
	doc *types.Document
}

// History tracks every channel's bounded result ring for one database.
// Channel lifetime is managed by the caller: Open on first command, Close
// on channel close.
type History struct {
	mu       sync.Mutex
	channels map[string][]*entry
}

// New returns an empty History.
func New() *History {
	return &History{channels: make(map[string][]*entry)}
}

// PushPending appends the pending sentinel to channel's history, creating
// the list lazily. Called before dispatch of any command other than
// getlasterror/getpreverror/reseterror (spec.md §4.2).
func (h *History) PushPending(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.channels[channel] = appendBounded(h.channels[channel], &entry{})
}

// ErrSlotNotPending is returned by RecordResult/RecordError when the most
// recent slot is not the pending sentinel — an internal invariant violation
// per spec.md §4.2.
type notPendingError struct{}

func (notPendingError) Error() string { return "errhistory: top slot is not the pending sentinel" }

// ErrSlotNotPending is the sentinel value for the above condition.
var ErrSlotNotPending error = notPendingError{}

// RecordResult replaces the top (pending) slot with result. It is an
// internal error if the top slot is not the sentinel.
func (h *History) RecordResult(channel string, result *types.Document) error {
	return h.replaceTop(channel, result)
}

// RecordError replaces the top (pending) slot with an error document shaped
// {err, code?, codeName?, connectionId}.
func (h *History) RecordError(channel string, errDoc *types.Document) error {
	return h.replaceTop(channel, errDoc)
}

func (h *History) replaceTop(channel string, doc *types.Document) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.channels[channel]
	if len(list) == 0 || list[len(list)-1].doc != nil {
		return ErrSlotNotPending
	}

	list[len(list)-1] = &entry{doc: doc}

	return nil
}

// GetLastError returns the last non-pending entry, or {err: null} if the
// channel has no recorded result yet. It never mutates the history.
func (h *History) GetLastError(channel string) (*types.Document, error) {
	h.mu.Lock()
	list := append([]*entry(nil), h.channels[channel]...)
	h.mu.Unlock()

	for i := len(list) - 1; i >= 0; i-- {
		if list[i].doc != nil {
			return list[i].doc, nil
		}
	}

	return types.NewDocument("err", types.Null, "ok", float64(1))
}

// GetPrevError scans from newest to oldest, skipping the just-pushed
// pending slot at the top, and returns the first entry with a non-null err
// or a non-zero n, tagged nPrev = its distance below the top slot (1 for the
// entry directly beneath it). If none is found, returns {nPrev: -1, ok: 1}.
func (h *History) GetPrevError(channel string) (*types.Document, error) {
	h.mu.Lock()
	list := append([]*entry(nil), h.channels[channel]...)
	h.mu.Unlock()

	// Index len-1 is the pending sentinel this very command pushed; start
	// the scan just below it.
	for i := len(list) - 2; i >= 0; i-- {
		e := list[i]
		if e.doc == nil {
			continue
		}

		if isErrorOrNonZeroN(e.doc) {
			nPrev := int32(len(list) - 1 - i)

			doc := e.doc.DeepCopy()
			if err := doc.Set("nPrev", nPrev); err != nil {
				return nil, err
			}

			if err := doc.Set("ok", float64(1)); err != nil {
				return nil, err
			}

			return doc, nil
		}
	}

	return types.NewDocument("nPrev", int32(-1), "ok", float64(1))
}

func isErrorOrNonZeroN(doc *types.Document) bool {
	if v, err := doc.Get("err"); err == nil {
		if _, isNull := v.(types.NullType); !isNull {
			return true
		}
	}

	if v, err := doc.Get("n"); err == nil {
		switch n := v.(type) {
		case int32:
			return n != 0
		case int64:
			return n != 0
		}
	}

	return false
}

// ResetError truncates channel's history.
func (h *History) ResetError(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.channels, channel)
}

// Close removes channel's history entirely (on connection close).
func (h *History) Close(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.channels, channel)
}

// Len reports the current history length for channel (test/diagnostic use).
func (h *History) Len(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.channels[channel])
}

func appendBounded(list []*entry, e *entry) []*entry {
	list = append(list, e)
	if len(list) > Capacity {
		list = list[len(list)-Capacity:]
	}

	return list
}

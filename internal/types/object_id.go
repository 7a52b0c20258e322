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

package types

import (
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"
	"time"
)

// ObjectID is a 12-byte MongoDB-style identifier: 4-byte timestamp,
// 5-byte process-unique value, 3-byte counter.
type ObjectID [12]byte

// objectIDProcess is the per-process random component, generated once at startup.
var objectIDProcess = func() (b [5]byte) {
	_, _ = rand.Read(b[:])
	return
}()

// objectIDCounter is a 24-bit counter shared by all ObjectIDs from this process.
var objectIDCounter atomic.Uint32

// NewObjectID returns a new, (very likely) globally-unique ObjectID.
func NewObjectID() ObjectID {
	return newObjectIDTime(time.Now())
}

// newObjectIDTime builds an ObjectID for the given timestamp (split out for testing).
func newObjectIDTime(t time.Time) ObjectID {
	var id ObjectID

	ts := uint32(t.Unix())
	id[0] = byte(ts >> 24)
	id[1] = byte(ts >> 16)
	id[2] = byte(ts >> 8)
	id[3] = byte(ts)

	copy(id[4:9], objectIDProcess[:])

	c := objectIDCounter.Add(1) - 1
	c &= 1<<24 - 1
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

// String returns the lowercase hex representation.
func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}

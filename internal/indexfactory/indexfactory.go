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

// Package indexfactory provides the abstract unique-index creation named by
// spec.md §3/§4.1/§4.6, plus an in-memory reference implementation used by
// the memstore and filestore backends.
package indexfactory

import (
	"fmt"
	"sync"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/collection"
)

// DefaultIndexName is the name of the index every user collection gets on
// its identifier field, per spec.md invariant 4.
const DefaultIndexName = "_id_"

// IndexName derives the conventional MongoDB index name from its keys, e.g.
// [{a, true}, {b, false}] -> "a_1_b_-1".
func IndexName(keys []collection.IndexKey) string {
	name := ""

	for i, k := range keys {
		if i > 0 {
			name += "_"
		}

		dir := "1"
		if !k.Ascending {
			dir = "-1"
		}

		name += fmt.Sprintf("%s_%s", k.Field, dir)
	}

	return name
}

// index is the in-memory Index implementation: an (unordered) map from the
// formatted tuple of indexed field values to the owning document's _id.
type index struct {
	name   string
	keys   []collection.IndexKey
	unique bool

	mu      sync.Mutex
	byValue map[string]any // formatted key tuple -> _id
}

// Name implements collection.Index.
func (i *index) Name() string { return i.name }

// Keys implements collection.Index.
func (i *index) Keys() []collection.IndexKey { return i.keys }

// Unique implements collection.Index.
func (i *index) Unique() bool { return i.unique }

// Put records that the document with the given indexed-field tuple owns id,
// returning an error if another _id is already registered for the same tuple
// (spec.md invariant 4's uniqueness enforcement).
func (i *index) Put(tupleKey string, id any) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if existing, ok := i.byValue[tupleKey]; ok && !equalIDs(existing, id) {
		return fmt.Errorf("duplicate key error: index %s already has an entry for %s", i.name, tupleKey)
	}

	i.byValue[tupleKey] = id

	return nil
}

// Remove drops the tuple's entry, e.g. on delete or update-of-indexed-field.
func (i *index) Remove(tupleKey string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.byValue, tupleKey)
}

func equalIDs(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// MemoryFactory creates in-memory unique indexes. One MemoryFactory is
// shared by every collection opened from the same Backend.
type MemoryFactory struct{}

// NewMemoryFactory returns a ready-to-use MemoryFactory.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{}
}

// OpenOrCreateUniqueIndex implements collection.Factory.
func (f *MemoryFactory) OpenOrCreateUniqueIndex(collectionName string, keys []collection.IndexKey) (collection.Index, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("indexfactory: at least one key is required")
	}

	name := DefaultIndexName
	if len(keys) != 1 || keys[0].Field != "_id" {
		name = IndexName(keys)
	}

	return &index{
		name:    name,
		keys:    keys,
		unique:  true,
		byValue: make(map[string]any),
	}, nil
}

// check interfaces
var (
	_ collection.Index   = (*index)(nil)
	_ collection.Factory = (*MemoryFactory)(nil)
)

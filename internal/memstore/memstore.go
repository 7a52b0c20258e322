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

// Package memstore is the default, in-memory reference implementation of
// collection.Backend/collection.Collection (spec.md §3's "persistence
// backends (memory / file)", named as an external collaborator but shipped
// here so the catalog/router/aggregation planner are exercised end-to-end).
//
// Its filter/update evaluation is intentionally minimal (equality filters,
// $set updates): the real query/update operator language is, per spec.md
// §1, assumed to exist on the Collection abstraction and is not this
// module's concern. See DESIGN.md for the full justification.
package memstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/AlekSi/pointer"
	"github.com/google/uuid"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/collection"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
)

// Backend is an in-memory collection.Backend: a map of database name to a
// map of collection name to *Collection, guarded by a single mutex.
type Backend struct {
	factory collection.Factory

	mu   sync.Mutex
	data map[string]map[string]*Collection
}

// NewBackend returns an empty Backend using factory for index creation.
func NewBackend(factory collection.Factory) *Backend {
	return &Backend{
		factory: factory,
		data:    make(map[string]map[string]*Collection),
	}
}

// Factory implements collection.Backend.
func (b *Backend) Factory() collection.Factory { return b.factory }

// OpenCollection implements collection.Backend. It creates the database and
// collection maps lazily; the document store itself starts empty.
func (b *Backend) OpenCollection(dbName, collName string) collection.Collection {
	b.mu.Lock()
	defer b.mu.Unlock()

	db, ok := b.data[dbName]
	if !ok {
		db = make(map[string]*Collection)
		b.data[dbName] = db
	}

	c, ok := db[collName]
	if !ok {
		c = &Collection{
			db:     dbName,
			name:   collName,
			byID:   make(map[string]*types.Document),
			order:  nil,
			idxes:  nil,
			idxSet: make(map[string]collection.Index),
		}
		db[collName] = c
	}

	return c
}

// DropDatabase implements collection.Backend.
func (b *Backend) DropDatabase(dbName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.data, dbName)

	return nil
}

// Collection is an in-memory, goroutine-safe collection.Collection.
type Collection struct {
	db   string
	name string

	mu     sync.Mutex
	byID   map[string]*types.Document
	order  []string // ids, in insertion order
	idxes  []collection.Index
	idxSet map[string]collection.Index
}

func idKey(doc *types.Document) (string, any, error) {
	v, err := doc.Get("_id")
	if err != nil {
		return "", nil, err
	}

	return fmt.Sprint(v), v, nil
}

// Insert implements collection.Collection.
func (c *Collection) Insert(docs []*types.Document) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var inserted int64

	for _, doc := range docs {
		if !doc.Has("_id") {
			if err := doc.Set("_id", uuid.New().String()); err != nil {
				return inserted, err
			}
		}

		key, _, err := idKey(doc)
		if err != nil {
			return inserted, err
		}

		if _, exists := c.byID[key]; exists {
			return inserted, fmt.Errorf("E11000 duplicate key error collection: %s.%s: _id: %v", c.db, c.name, key)
		}

		c.byID[key] = doc
		c.order = append(c.order, key)
		inserted++
	}

	return inserted, nil
}

// UpdateDocuments implements collection.Collection.
func (c *Collection) UpdateDocuments(op collection.UpdateOp) (*collection.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := &collection.UpdateResult{}

	matched := c.matchLocked(op.Selector)

	if len(matched) == 0 {
		if !op.Upsert {
			return res, nil
		}

		doc := applyUpdateAsInsert(op.Selector, op.Update)

		if !doc.Has("_id") {
			if err := doc.Set("_id", uuid.New().String()); err != nil {
				return nil, err
			}
		}

		key, id, err := idKey(doc)
		if err != nil {
			return nil, err
		}

		c.byID[key] = doc
		c.order = append(c.order, key)

		res.N = 1
		res.UpsertedID = id
		res.HasUpsertedID = true

		return res, nil
	}

	for _, key := range matched {
		doc := c.byID[key]

		modified, err := applyUpdate(doc, op.Update)
		if err != nil {
			return nil, err
		}

		res.N++

		if modified {
			res.NModified++
		}

		if !op.Multi {
			break
		}
	}

	return res, nil
}

// applyUpdateAsInsert builds the document an upsert creates: the selector's
// equality fields seed the new document, then the update is applied on top.
func applyUpdateAsInsert(selector, update *types.Document) *types.Document {
	doc := types.MakeDocument(selector.Len())

	for _, k := range selector.Keys() {
		v, _ := selector.Get(k)
		if _, ok := v.(*types.Document); ok {
			continue // skip operator-shaped selector fields
		}

		_ = doc.Set(k, v)
	}

	_, _ = applyUpdate(doc, update)

	return doc
}

// applyUpdate mutates doc in place per update (either a $set-style operator
// document or a full replacement document) and reports whether anything
// actually changed.
func applyUpdate(doc, update *types.Document) (bool, error) {
	if update.Len() == 0 {
		return false, nil
	}

	first := update.Command()

	if len(first) > 0 && first[0] == '$' {
		changed := false

		for _, op := range update.Keys() {
			switch op {
			case "$set":
				setDoc, err := asDocument(update, op)
				if err != nil {
					return false, err
				}

				for _, k := range setDoc.Keys() {
					v, _ := setDoc.Get(k)

					old, getErr := doc.Get(k)
					hadOld := getErr == nil

					if err := doc.Set(k, v); err != nil {
						return false, err
					}

					if !hadOld || fmt.Sprint(old) != fmt.Sprint(v) {
						changed = true
					}
				}
			case "$unset":
				unsetDoc, err := asDocument(update, op)
				if err != nil {
					return false, err
				}

				for _, k := range unsetDoc.Keys() {
					if doc.Has(k) {
						doc.Remove(k)
						changed = true
					}
				}
			default:
				return false, fmt.Errorf("memstore: unsupported update operator %q", op)
			}
		}

		return changed, nil
	}

	// Replacement update: keep _id, replace everything else.
	id, _ := doc.Get("_id")
	changed := false

	for _, k := range doc.Keys() {
		if k != "_id" {
			doc.Remove(k)
			changed = true
		}
	}

	for _, k := range update.Keys() {
		if k == "_id" {
			continue
		}

		v, _ := update.Get(k)
		_ = doc.Set(k, v)
		changed = true
	}

	_ = doc.Set("_id", id)

	return changed, nil
}

func asDocument(d *types.Document, key string) (*types.Document, error) {
	v, err := d.Get(key)
	if err != nil {
		return nil, err
	}

	sub, ok := v.(*types.Document)
	if !ok {
		return nil, fmt.Errorf("memstore: %q must be a document", key)
	}

	return sub, nil
}

// DeleteDocuments implements collection.Collection.
func (c *Collection) DeleteDocuments(selector *types.Document, limit int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	matched := c.matchLocked(selector)

	var deleted int64

	for _, key := range matched {
		if limit > 0 && deleted >= limit {
			break
		}

		delete(c.byID, key)
		c.removeFromOrderLocked(key)
		deleted++
	}

	return deleted, nil
}

func (c *Collection) removeFromOrderLocked(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// matchLocked returns the keys (in insertion order) of documents matching
// selector. Callers must hold c.mu.
func (c *Collection) matchLocked(selector *types.Document) []string {
	var out []string

	for _, key := range c.order {
		doc := c.byID[key]
		if matches(doc, selector) {
			out = append(out, key)
		}
	}

	return out
}

// matches implements the equality-only filter subset this reference backend
// supports: selector == nil/empty matches everything; otherwise every field
// in selector must equal the document's field.
func matches(doc, selector *types.Document) bool {
	if selector == nil || selector.Len() == 0 {
		return true
	}

	for _, k := range selector.Keys() {
		want, _ := selector.Get(k)

		got, err := doc.Get(k)
		if err != nil {
			return false
		}

		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}

	return true
}

// unwrapQuery splits the legacy {$query, $orderby} wrapper the router builds
// for `find` (spec.md §4.3) back into a filter and an optional sort document.
func unwrapQuery(selector *types.Document) (filter, sort *types.Document) {
	if selector != nil && selector.Has("$query") {
		if f, err := selector.Get("$query"); err == nil {
			if fd, ok := f.(*types.Document); ok {
				filter = fd
			}
		}

		if s, err := selector.Get("$orderby"); err == nil {
			if sd, ok := s.(*types.Document); ok {
				sort = sd
			}
		}

		return filter, sort
	}

	return selector, nil
}

// HandleQuery implements collection.Collection.
func (c *Collection) HandleQuery(selector *types.Document, skip, limit int64, projection *types.Document) ([]*types.Document, error) {
	filter, orderBy := unwrapQuery(selector)

	c.mu.Lock()
	matched := c.matchLocked(filter)
	docs := make([]*types.Document, 0, len(matched))

	for _, key := range matched {
		docs = append(docs, c.byID[key])
	}

	c.mu.Unlock()

	if orderBy != nil && orderBy.Len() > 0 {
		sortDocuments(docs, orderBy)
	}

	docs = paginate(docs, skip, limit)

	if projection != nil && projection.Len() > 0 {
		docs = projectAll(docs, projection)
	}

	return docs, nil
}

// QueryAll implements collection.Collection.
func (c *Collection) QueryAll() ([]*types.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*types.Document, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.byID[key])
	}

	return out, nil
}

// Count implements collection.Collection.
func (c *Collection) Count() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return int64(len(c.order)), nil
}

// CountQuery implements collection.Collection.
func (c *Collection) CountQuery(query *types.Document, skip, limit int64) (int64, error) {
	c.mu.Lock()
	matched := c.matchLocked(query)
	c.mu.Unlock()

	if skip > 0 {
		if skip >= int64(len(matched)) {
			return 0, nil
		}

		matched = matched[skip:]
	}

	if limit > 0 && int64(len(matched)) > limit {
		matched = matched[:limit]
	}

	return int64(len(matched)), nil
}

// HandleDistinct implements collection.Collection.
func (c *Collection) HandleDistinct(key string, query *types.Document) (*types.Document, error) {
	c.mu.Lock()
	matched := c.matchLocked(query)
	docs := make([]*types.Document, 0, len(matched))

	for _, k := range matched {
		docs = append(docs, c.byID[k])
	}

	c.mu.Unlock()

	seen := make(map[string]struct{})

	values := types.MakeArray(len(docs))

	for _, doc := range docs {
		v, err := doc.Get(key)
		if err != nil {
			continue
		}

		s := fmt.Sprint(v)
		if _, ok := seen[s]; ok {
			continue
		}

		seen[s] = struct{}{}

		if err := values.Append(v); err != nil {
			return nil, err
		}
	}

	return types.NewDocument("values", values, "ok", float64(1))
}

// FindAndModify implements collection.Collection.
func (c *Collection) FindAndModify(params *types.Document) (*types.Document, error) {
	query, _ := params.GetDefault("query", types.MakeDocument(0)).(*types.Document)

	c.mu.Lock()
	matched := c.matchLocked(query)
	c.mu.Unlock()

	var old *types.Document

	if len(matched) > 0 {
		c.mu.Lock()
		old = c.byID[matched[0]].DeepCopy()
		c.mu.Unlock()
	}

	remove, _ := params.GetDefault("remove", false).(bool)
	newFlag, _ := params.GetDefault("new", false).(bool)

	if remove {
		if old != nil {
			c.mu.Lock()
			delete(c.byID, matched[0])
			c.removeFromOrderLocked(matched[0])
			c.mu.Unlock()
		}

		return types.NewDocument("value", docOrNull(old), "ok", float64(1))
	}

	update, _ := params.GetDefault("update", types.MakeDocument(0)).(*types.Document)
	upsert, _ := params.GetDefault("upsert", false).(bool)

	res, err := c.UpdateDocuments(collection.UpdateOp{Selector: query, Update: update, Upsert: upsert})
	if err != nil {
		return nil, err
	}

	var result *types.Document

	if newFlag {
		c.mu.Lock()

		if res.HasUpsertedID {
			result = c.byID[fmt.Sprint(res.UpsertedID)]
		} else if len(matched) > 0 {
			result = c.byID[matched[0]]
		}

		c.mu.Unlock()
	} else {
		result = old
	}

	return types.NewDocument("value", docOrNull(result), "ok", float64(1))
}

func docOrNull(d *types.Document) any {
	if d == nil {
		return types.Null
	}

	return d
}

// AddIndex implements collection.Collection.
func (c *Collection) AddIndex(idx collection.Index) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.idxSet[idx.Name()]; ok {
		return nil
	}

	c.idxes = append(c.idxes, idx)
	c.idxSet[idx.Name()] = idx

	return nil
}

// GetStats implements collection.Collection.
func (c *Collection) GetStats() (*collection.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var size int64

	for _, doc := range c.byID {
		size += estimateSize(doc)
	}

	indexSize := make(map[string]int64, len(c.idxes))
	for _, idx := range c.idxes {
		indexSize[idx.Name()] = *pointer.ToInt64(128) + int64(len(c.byID))*16
	}

	return &collection.Stats{
		Count:       int64(len(c.order)),
		Size:        size,
		IndexSize:   indexSize,
		StorageSize: size,
	}, nil
}

func estimateSize(doc *types.Document) int64 {
	var n int64

	for _, k := range doc.Keys() {
		n += int64(len(k)) + 16
	}

	return n
}

// Validate implements collection.Collection.
func (c *Collection) Validate() (*types.Document, error) {
	c.mu.Lock()
	n := len(c.order)
	c.mu.Unlock()

	return types.NewDocument("ns", c.GetFullName(), "nrecords", int64(n), "valid", true, "ok", float64(1))
}

// RenameTo implements collection.Collection.
func (c *Collection) RenameTo(newDB collection.Backend, newName string) error {
	target, ok := newDB.OpenCollection(c.db, newName).(*Collection)
	if !ok {
		return fmt.Errorf("memstore: RenameTo target is not a memstore collection")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	target.mu.Lock()
	defer target.mu.Unlock()

	target.byID = c.byID
	target.order = c.order
	target.idxes = c.idxes
	target.idxSet = c.idxSet
	target.name = newName

	c.byID = make(map[string]*types.Document)
	c.order = nil
	c.idxes = nil
	c.idxSet = make(map[string]collection.Index)

	return nil
}

// GetCollectionName implements collection.Collection.
func (c *Collection) GetCollectionName() string { return c.name }

// GetFullName implements collection.Collection.
func (c *Collection) GetFullName() string { return c.db + "." + c.name }

// GetNumIndexes implements collection.Collection.
func (c *Collection) GetNumIndexes() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.idxes)
}

func paginate(docs []*types.Document, skip, limit int64) []*types.Document {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return nil
		}

		docs = docs[skip:]
	}

	if limit > 0 && int64(len(docs)) > limit {
		docs = docs[:limit]
	}

	return docs
}

func projectAll(docs []*types.Document, projection *types.Document) []*types.Document {
	out := make([]*types.Document, 0, len(docs))

	for _, doc := range docs {
		out = append(out, project(doc, projection))
	}

	return out
}

func project(doc, projection *types.Document) *types.Document {
	keep := make(map[string]bool)

	for _, k := range projection.Keys() {
		v, _ := projection.Get(k)

		include := true
		switch vv := v.(type) {
		case int32:
			include = vv != 0
		case int64:
			include = vv != 0
		case bool:
			include = vv
		}

		keep[k] = include
	}

	out := types.MakeDocument(doc.Len())

	for _, k := range doc.Keys() {
		if k == "_id" {
			if v, ok := keep["_id"]; ok && !v {
				continue
			}
		} else if len(keep) > 0 {
			if v, ok := keep[k]; !ok || !v {
				continue
			}
		}

		val, _ := doc.Get(k)
		_ = out.Set(k, val)
	}

	return out
}

func sortDocuments(docs []*types.Document, orderBy *types.Document) {
	keys := orderBy.Keys()

	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			dirAny, _ := orderBy.Get(k)

			dir := int64(1)
			switch d := dirAny.(type) {
			case int32:
				dir = int64(d)
			case int64:
				dir = d
			}

			vi, _ := docs[i].Get(k)
			vj, _ := docs[j].Get(k)

			c := compareValues(vi, vj)
			if c == 0 {
				continue
			}

			if dir < 0 {
				return c > 0
			}

			return c < 0
		}

		return false
	})
}

func compareValues(a, b any) int {
	as, bs := fmt.Sprint(a), fmt.Sprint(b)

	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// check interfaces
var (
	_ collection.Backend    = (*Backend)(nil)
	_ collection.Collection = (*Collection)(nil)
)

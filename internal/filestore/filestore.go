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

// Package filestore is a second, file-backed collection.Backend/
// collection.Collection implementation: one newline-delimited JSON file per
// collection, under <root>/<db>/<collection>.ndjson. It exercises the
// spec's named "file" persistence backend; the query/update logic it needs
// is identical to memstore's (and is delegated to it), since evaluating
// BSON query/update operators is out of this module's scope (spec.md §1).
package filestore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/collection"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/indexfactory"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/memstore"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
)

// Backend is a collection.Backend persisting every collection to its own
// file under root. Documents are kept in an in-memory memstore.Collection
// that mirrors the file; every mutating call flushes the full collection
// back to disk afterwards (no write-ahead log, no partial-write recovery:
// this is a reference backend, not a production storage engine).
type Backend struct {
	root    string
	factory collection.Factory

	mu    sync.Mutex
	open  map[string]map[string]*fileCollection
	inner *memstore.Backend
}

// NewBackend returns a Backend rooted at dir, creating it if necessary.
func NewBackend(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}

	factory := indexfactory.NewMemoryFactory()

	return &Backend{
		root:    dir,
		factory: factory,
		open:    make(map[string]map[string]*fileCollection),
		inner:   memstore.NewBackend(factory),
	}, nil
}

// Factory implements collection.Backend.
func (b *Backend) Factory() collection.Factory { return b.factory }

// OpenCollection implements collection.Backend. On first open it loads any
// existing .ndjson file from disk into the in-memory collection it wraps.
func (b *Backend) OpenCollection(dbName, collName string) collection.Collection {
	b.mu.Lock()
	defer b.mu.Unlock()

	db, ok := b.open[dbName]
	if !ok {
		db = make(map[string]*fileCollection)
		b.open[dbName] = db
	}

	fc, ok := db[collName]
	if !ok {
		inner := b.inner.OpenCollection(dbName, collName).(*memstore.Collection)

		fc = &fileCollection{
			backend: b,
			db:      dbName,
			path:    b.path(dbName, collName),
			Collection: inner,
		}

		if err := fc.load(); err != nil {
			// A corrupt or unreadable file must not prevent the server from
			// starting; the collection simply starts empty.
			fc.loadErr = err
		}

		db[collName] = fc
	}

	return fc
}

// DropDatabase implements collection.Backend: removes every collection's
// backing file and its in-memory mirror.
func (b *Backend) DropDatabase(dbName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.inner.DropDatabase(dbName); err != nil {
		return err
	}

	for _, fc := range b.open[dbName] {
		_ = os.Remove(fc.path)
	}

	delete(b.open, dbName)

	return os.RemoveAll(filepath.Join(b.root, dbName))
}

func (b *Backend) path(dbName, collName string) string {
	return filepath.Join(b.root, dbName, collName+".ndjson")
}

// fileCollection wraps a *memstore.Collection, flushing to disk after every
// mutation. Reads are served entirely from the in-memory mirror.
type fileCollection struct {
	*memstore.Collection

	backend *Backend
	db      string

	mu      sync.Mutex
	path    string
	loadErr error
}

func (fc *fileCollection) load() error {
	f, err := os.Open(fc.path)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("filestore: opening %s: %w", fc.path, err)
	}

	defer f.Close()

	var docs []*types.Document

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			return fmt.Errorf("filestore: decoding %s: %w", fc.path, err)
		}

		doc, err := docFromMap(raw)
		if err != nil {
			return fmt.Errorf("filestore: %s: %w", fc.path, err)
		}

		docs = append(docs, doc)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("filestore: scanning %s: %w", fc.path, err)
	}

	_, err = fc.Collection.Insert(docs)

	return err
}

// docFromMap is a minimal reconstruction of a types.Document from decoded
// JSON: it is deliberately narrow (the values filestore itself ever wrote),
// not a general BSON-from-JSON conversion, which is out of scope (§1).
func docFromMap(raw map[string]any) (*types.Document, error) {
	doc := types.MakeDocument(len(raw))

	for k, v := range raw {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			v = int64(f)
		}

		if err := doc.Set(k, v); err != nil {
			return nil, err
		}
	}

	return doc, nil
}

func (fc *fileCollection) flush() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fc.path), 0o750); err != nil {
		return fmt.Errorf("filestore: %w", err)
	}

	tmp := fc.path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}

	w := bufio.NewWriter(f)

	docs, err := fc.Collection.QueryAll()
	if err != nil {
		f.Close()
		return err
	}

	for _, doc := range docs {
		m := make(map[string]any, doc.Len())
		for _, k := range doc.Keys() {
			v, _ := doc.Get(k)
			m[k] = v
		}

		b, err := json.Marshal(m)
		if err != nil {
			f.Close()
			return fmt.Errorf("filestore: %w", err)
		}

		if _, err := w.Write(b); err != nil {
			f.Close()
			return err
		}

		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return err
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, fc.path)
}

// Insert implements collection.Collection, flushing afterwards.
func (fc *fileCollection) Insert(docs []*types.Document) (int64, error) {
	n, err := fc.Collection.Insert(docs)
	if ferr := fc.flush(); ferr != nil && err == nil {
		err = ferr
	}

	return n, err
}

// UpdateDocuments implements collection.Collection, flushing afterwards.
func (fc *fileCollection) UpdateDocuments(op collection.UpdateOp) (*collection.UpdateResult, error) {
	res, err := fc.Collection.UpdateDocuments(op)
	if err != nil {
		return res, err
	}

	return res, fc.flush()
}

// DeleteDocuments implements collection.Collection, flushing afterwards.
func (fc *fileCollection) DeleteDocuments(selector *types.Document, limit int64) (int64, error) {
	n, err := fc.Collection.DeleteDocuments(selector, limit)
	if err != nil {
		return n, err
	}

	return n, fc.flush()
}

// FindAndModify implements collection.Collection, flushing afterwards since
// it may mutate.
func (fc *fileCollection) FindAndModify(params *types.Document) (*types.Document, error) {
	res, err := fc.Collection.FindAndModify(params)
	if err != nil {
		return res, err
	}

	return res, fc.flush()
}

// RenameTo implements collection.Collection. newDB must be a *Backend (this
// core never renames across backend implementations); it moves the
// in-memory documents through the shared memstore.Backend, then flushes the
// destination file and removes this collection's old one.
func (fc *fileCollection) RenameTo(newDB collection.Backend, newName string) error {
	dest, ok := newDB.(*Backend)
	if !ok {
		return fmt.Errorf("filestore: RenameTo target is not a filestore backend")
	}

	target, ok := dest.OpenCollection(fc.db, newName).(*fileCollection)
	if !ok {
		return fmt.Errorf("filestore: RenameTo target is not a filestore collection")
	}

	if err := fc.Collection.RenameTo(dest.inner, newName); err != nil {
		return err
	}

	oldPath := fc.path

	if err := target.flush(); err != nil {
		return err
	}

	return os.Remove(oldPath)
}

// GetStats implements collection.Collection, using the on-disk file size as
// StorageSize the way a real file-backed engine would.
func (fc *fileCollection) GetStats() (*collection.Stats, error) {
	stats, err := fc.Collection.GetStats()
	if err != nil {
		return nil, err
	}

	if info, statErr := os.Stat(fc.path); statErr == nil {
		stats.StorageSize = info.Size()
		stats.FileSize = info.Size()
	}

	return stats, nil
}

// check interfaces
var (
	_ collection.Backend    = (*Backend)(nil)
	_ collection.Collection = (*fileCollection)(nil)
)

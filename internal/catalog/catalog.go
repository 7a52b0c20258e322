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

// Package catalog implements the Database/Catalog component of spec.md
// §4.1: the mapping from collection name to collection handle, and its
// ownership of the system.namespaces and system.indexes pseudo-collections.
package catalog

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/collection"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/mongoerrors"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/util/lazyerrors"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/util/must"
)

// MaxNamespaceLength bounds a collection name, per spec.md invariant 5.
// This mirrors the legacy MongoDB wire-protocol limit on db.collection names.
const MaxNamespaceLength = 128

// NamespacesCollectionName and IndexesCollectionName are the two pseudo-
// collections the catalog owns directly (spec.md §3's "namespace metadata").
const (
	NamespacesCollectionName = "system.namespaces"
	IndexesCollectionName    = "system.indexes"
)

// Catalog is a single logical database: a concurrency-safe collection map
// plus the system.namespaces/system.indexes bookkeeping that mirrors it.
type Catalog struct {
	name    string
	backend collection.Backend
	log     *zap.Logger

	mu sync.Mutex // guards compound map+namespace-doc transitions

	collectionsByName map[string]collection.Collection
	namespaces        collection.Collection

	indexesMu sync.Mutex
	indexes   collection.Collection
}

// New constructs an empty Catalog for dbName backed by backend. It always
// opens system.namespaces eagerly (invariant 1); system.indexes is opened
// lazily on first index registration.
func New(dbName string, backend collection.Backend, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}

	c := &Catalog{
		name:              dbName,
		backend:           backend,
		log:               log,
		collectionsByName: make(map[string]collection.Collection),
	}

	c.namespaces = backend.OpenCollection(dbName, NamespacesCollectionName)
	c.collectionsByName[NamespacesCollectionName] = c.namespaces

	return c
}

// Name returns the database name this catalog manages.
func (c *Catalog) Name() string { return c.name }

// Backend returns the backend this catalog's collections are opened
// through, for handlers that need it (e.g. dropDatabase, cross-db rename).
func (c *Catalog) Backend() collection.Backend { return c.backend }

func validateName(name string) error {
	if name == "" {
		return mongoerrors.NewServerError(mongoerrors.CodeEmptyNamespaceName, "collection names cannot be empty")
	}

	if len(name) > MaxNamespaceLength {
		return mongoerrors.NewServerError(mongoerrors.CodeInvalidNamespaceLength,
			"namespace name generated from index name is too long")
	}

	return nil
}

// IsSystem reports whether name is one of the sanctioned system.*
// pseudo-collections, or any other system.*-prefixed name (which the write
// path rejects per spec.md invariant 6).
func IsSystem(name string) bool {
	return strings.HasPrefix(name, "system.")
}

// Resolve looks up an existing collection by name. If throwIfMissing is
// true and the collection is absent, it returns mongoerrors.NoSuchCollection.
func (c *Catalog) Resolve(name string, throwIfMissing bool) (collection.Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	c.mu.Lock()
	coll, ok := c.collectionsByName[name]
	c.mu.Unlock()

	if !ok {
		if throwIfMissing {
			return nil, &mongoerrors.NoSuchCollection{Name: name}
		}

		return nil, nil
	}

	return coll, nil
}

// ResolveOrCreate returns the named collection, creating it (with its _id_
// index and namespace document) if it does not yet exist. Concurrent
// callers for the same unknown name are serialized so exactly one of them
// performs the creation (spec.md invariant 6 / testable property 6).
func (c *Catalog) ResolveOrCreate(name string) (collection.Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if coll, ok := c.collectionsByName[name]; ok {
		return coll, nil
	}

	return c.createLocked(name)
}

// Reopen registers an already-persisted collection under name without
// touching system.namespaces/system.indexes, for spec.md §4.6's bootstrap
// replay: the namespace and index rows it reopens already exist on disk, so
// re-inserting them here would duplicate every row on each restart.
func (c *Catalog) Reopen(name string) (collection.Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if coll, ok := c.collectionsByName[name]; ok {
		return coll, nil
	}

	coll := c.backend.OpenCollection(c.name, name)
	c.collectionsByName[name] = coll

	if name == IndexesCollectionName {
		c.indexesMu.Lock()
		c.indexes = coll
		c.indexesMu.Unlock()
	}

	return coll, nil
}

// Create creates a new user collection named name, failing with
// NamespaceExists (code 48) if it already exists, or InvalidCollectionName
// (code 10093) if name contains '$'.
func (c *Catalog) Create(name string) (collection.Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	if strings.Contains(name, "$") {
		return nil, mongoerrors.NewServerError(mongoerrors.CodeInvalidCollectionName,
			"collection names cannot contain '$': "+name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.collectionsByName[name]; ok {
		return nil, mongoerrors.NewServerError(mongoerrors.CodeNamespaceExists, "collection already exists")
	}

	return c.createLocked(name)
}

// createLocked performs the creation path of spec.md §4.1: open the
// collection, register it, append its namespace document, then synthesize
// and register its _id_ unique index. Callers must hold c.mu.
func (c *Catalog) createLocked(name string) (collection.Collection, error) {
	coll := c.backend.OpenCollection(c.name, name)

	c.collectionsByName[name] = coll

	if err := c.insertNamespaceLocked(name); err != nil {
		delete(c.collectionsByName, name)
		return nil, err
	}

	idx, err := c.backend.Factory().OpenOrCreateUniqueIndex(name, []collection.IndexKey{{Field: "_id", Ascending: true}})
	if err != nil {
		return nil, err
	}

	if err := coll.AddIndex(idx); err != nil {
		return nil, err
	}

	if err := c.registerIndexLocked(name, idx); err != nil {
		return nil, err
	}

	c.log.Debug("collection created", zap.String("db", c.name), zap.String("collection", name))

	return coll, nil
}

func (c *Catalog) insertNamespaceLocked(name string) error {
	doc := must.NotFail(types.NewDocument("name", c.name+"."+name))

	if _, err := c.namespaces.Insert([]*types.Document{doc}); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// registerIndexLocked appends idx's description to system.indexes, opening
// that pseudo-collection lazily on first use (spec.md §5's dedicated lock).
func (c *Catalog) registerIndexLocked(collName string, idx collection.Index) error {
	c.indexesMu.Lock()
	defer c.indexesMu.Unlock()

	if c.indexes == nil {
		c.indexes = c.backend.OpenCollection(c.name, IndexesCollectionName)
		c.collectionsByName[IndexesCollectionName] = c.indexes
	}

	key := types.MakeDocument(len(idx.Keys()))

	for _, k := range idx.Keys() {
		dir := int32(1)
		if !k.Ascending {
			dir = -1
		}

		if err := key.Set(k.Field, dir); err != nil {
			return err
		}
	}

	doc := must.NotFail(types.NewDocument(
		"name", idx.Name(),
		"ns", c.name+"."+collName,
		"key", key,
		"unique", idx.Unique(),
	))

	if _, err := c.indexes.Insert([]*types.Document{doc}); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// CountIndexes returns the number of index descriptions currently
// registered in system.indexes, under the same lock that guards its lazy
// creation (spec.md §5).
func (c *Catalog) CountIndexes() int {
	c.indexesMu.Lock()
	defer c.indexesMu.Unlock()

	if c.indexes == nil {
		return 0
	}

	n, err := c.indexes.Count()
	if err != nil {
		return 0
	}

	return int(n)
}

// Unregister removes name from the catalog and deletes its namespace
// document, but does not touch the underlying collection's documents.
func (c *Catalog) Unregister(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.unregisterLocked(name)
}

func (c *Catalog) unregisterLocked(name string) error {
	if _, ok := c.collectionsByName[name]; !ok {
		return mongoerrors.NewSilentServerError(mongoerrors.CodeNamespaceNotFound, "ns not found")
	}

	delete(c.collectionsByName, name)

	selector := must.NotFail(types.NewDocument("name", c.name+"."+name))

	if _, err := c.namespaces.DeleteDocuments(selector, 0); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// Drop unregisters every collection in the catalog (used by dropDatabase).
func (c *Catalog) Drop() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.collectionsByName))
	for name := range c.collectionsByName {
		names = append(names, name)
	}

	for _, name := range names {
		_ = c.unregisterLocked(name)
	}

	return names
}

// ListCollections returns the live collection names, i.e. precisely the set
// backing system.namespaces (spec.md testable property 5).
func (c *Catalog) ListCollections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.collectionsByName))
	for name := range c.collectionsByName {
		names = append(names, name)
	}

	return names
}

// MoveCollection unregisters coll from its source catalog src (removing it
// from src's map and deleting its namespace document), renames it, and
// registers it under newName in this (destination) catalog with a new
// namespace document.
//
// Per spec.md §9's open question on the unchecked cast in the source, the
// parameter is typed as *Catalog rather than a bare Collection/Backend
// pair, so a foreign, non-catalog-owned collection cannot be passed here.
func (c *Catalog) MoveCollection(src *Catalog, coll collection.Collection, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}

	// A rename within the same catalog must not re-lock c.mu (it is not
	// reentrant); cross-database moves lock the source first, then the
	// destination, in a fixed order to avoid lock-ordering deadlocks.
	if src == c {
		c.mu.Lock()
		defer c.mu.Unlock()

		if err := c.unregisterLocked(coll.GetCollectionName()); err != nil {
			return err
		}
	} else {
		if err := src.Unregister(coll.GetCollectionName()); err != nil {
			return err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
	}

	if err := coll.RenameTo(c.backend, newName); err != nil {
		return err
	}

	c.collectionsByName[newName] = c.backend.OpenCollection(c.name, newName)

	return c.insertNamespaceLocked(newName)
}

// Rename is the same-database specialization of MoveCollection: renaming a
// collection within this catalog without crossing databases.
func (c *Catalog) Rename(oldName, newName string) error {
	coll, err := c.Resolve(oldName, true)
	if err != nil {
		return err
	}

	return c.MoveCollection(c, coll, newName)
}

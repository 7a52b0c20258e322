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

// Package collection defines the Collection contract (spec.md §3) that the
// catalog and command handlers consume. Concrete persistence engines
// (in-memory, file-backed, or otherwise) implement this interface; BSON
// query/update operator evaluation happens behind it and is out of scope for
// this module (see spec.md §1).
package collection

import (
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
)

// IndexKey is one field of an index, in declared order.
type IndexKey struct {
	Field     string
	Ascending bool
}

// Index is opaque to the core: it is only ever created through a Factory and
// referenced by name thereafter.
type Index interface {
	// Name returns the index name, e.g. "_id_".
	Name() string

	// Keys returns the ordered fields the index is built on.
	Keys() []IndexKey

	// Unique reports whether the index enforces uniqueness (this core only
	// ever creates unique indexes, per spec.md Non-goals).
	Unique() bool
}

// Factory abstractly creates unique indexes; it is how the catalog attaches
// an _id index to a newly-created collection without knowing how any given
// backend implements index storage.
type Factory interface {
	OpenOrCreateUniqueIndex(collectionName string, keys []IndexKey) (Index, error)
}

// UpdateOp describes one entry of an `update` command's `updates` array.
type UpdateOp struct {
	Selector *types.Document
	Update   *types.Document
	Multi    bool
	Upsert   bool
}

// UpdateResult is the outcome of UpdateDocuments.
type UpdateResult struct {
	N            int64
	NModified    int64
	UpsertedID   any // nil unless an upsert inserted a new document
	HasUpsertedID bool
}

// Stats summarizes a collection's size for dbStats/collStats. FileSize is
// the backend's on-disk footprint for this collection, 0 for backends that
// keep no separate file (e.g. memstore).
type Stats struct {
	Count       int64
	Size        int64
	IndexSize   map[string]int64
	StorageSize int64
	FileSize    int64
}

// Collection is the external contract a persistence engine must implement
// (spec.md §3). All methods operate on a single collection; the catalog
// resolves names to Collection values.
type Collection interface {
	// Insert inserts the given documents one at a time and returns the
	// number of documents actually inserted before any error.
	Insert(docs []*types.Document) (int64, error)

	// UpdateDocuments applies one update operation and reports the result.
	UpdateDocuments(op UpdateOp) (*UpdateResult, error)

	// DeleteDocuments deletes documents matching selector, honoring limit
	// (0 means "no limit"), and returns the number deleted.
	DeleteDocuments(selector *types.Document, limit int64) (int64, error)

	// HandleQuery runs a find-shaped query and returns matching documents,
	// already limited/skipped/projected.
	HandleQuery(selector *types.Document, skip, limit int64, projection *types.Document) ([]*types.Document, error)

	// QueryAll returns every document in the collection, in an
	// implementation-defined but stable order.
	QueryAll() ([]*types.Document, error)

	// Count returns the total number of documents.
	Count() (int64, error)

	// CountQuery returns the number of documents matching query, honoring
	// skip/limit the same way a find would.
	CountQuery(query *types.Document, skip, limit int64) (int64, error)

	// HandleDistinct returns the response document for a `distinct` command.
	HandleDistinct(key string, query *types.Document) (*types.Document, error)

	// FindAndModify implements the `findAndModify` command and returns the
	// response document (the old or new document, per params).
	FindAndModify(params *types.Document) (*types.Document, error)

	// AddIndex registers idx against this collection.
	AddIndex(idx Index) error

	// GetStats returns size/count estimates for dbStats/collStats.
	GetStats() (*Stats, error)

	// Validate implements the `validate` command.
	Validate() (*types.Document, error)

	// RenameTo moves this collection's documents under a new name,
	// possibly in a different Backend-owned database.
	RenameTo(newDB Backend, newName string) error

	// GetCollectionName returns the bare collection name.
	GetCollectionName() string

	// GetFullName returns "db.collection".
	GetFullName() string

	// GetNumIndexes returns how many indexes are registered.
	GetNumIndexes() int
}

// Backend is the minimal persistence-engine contract the catalog needs
// beyond individual collections: creating/opening collections and dropping
// whole databases. Concrete backends (memstore, filestore) implement it.
type Backend interface {
	// OpenCollection opens (creating on first use is the caller's job, not
	// the backend's) the named collection for reading/writing documents.
	OpenCollection(dbName, collName string) Collection

	// DropDatabase removes every collection belonging to dbName.
	DropDatabase(dbName string) error

	// Factory returns the index factory this backend's collections use.
	Factory() Factory
}

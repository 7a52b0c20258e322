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

package router

import (
	"sort"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/catalog"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/collection"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/mongoerrors"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/util/must"
)

// handleCreate implements the `create` command: an explicit collection
// creation that fails if the name already exists (spec.md §4.1, unlike the
// implicit ResolveOrCreate a write triggers).
func handleCreate(r *Router, _ string, params *types.Document) (*types.Document, error) {
	name, err := stringParam(params, "create")
	if err != nil {
		name, err = stringParam(params, "collection")
		if err != nil {
			return nil, err
		}
	}

	if boolParamDefault(params, "capped", false) {
		return nil, mongoerrors.NewServerError(mongoerrors.CodeFailedToParse,
			"capped collections are not yet implemented")
	}

	if !boolParamDefault(params, "autoIndexId", true) {
		return nil, mongoerrors.NewServerError(mongoerrors.CodeFailedToParse,
			"autoIndexId=false is not yet implemented")
	}

	if _, err := r.Catalog.Create(name); err != nil {
		return nil, err
	}

	return ok(nil)
}

// handleCreateIndexes implements `createIndexes`: each entry of the `indexes`
// array is turned into a unique index via the catalog's backend Factory,
// mirroring how the catalog builds a collection's _id_ index.
func handleCreateIndexes(r *Router, _ string, params *types.Document) (*types.Document, error) {
	collName, err := stringParam(params, "createIndexes")
	if err != nil {
		collName, err = stringParam(params, "collection")
		if err != nil {
			return nil, err
		}
	}

	specs := arrayParam(params, "indexes")

	coll, err := r.Catalog.ResolveOrCreate(collName)
	if err != nil {
		return nil, err
	}

	numIndexesBefore := coll.GetNumIndexes()

	var created int64

	for i := 0; i < specs.Len(); i++ {
		v, _ := specs.Get(i)

		spec, ok := v.(*types.Document)
		if !ok {
			continue
		}

		keyDoc := docParam(spec, "key")

		keys := make([]collection.IndexKey, 0, keyDoc.Len())

		for _, field := range keyDoc.Keys() {
			dirVal, _ := keyDoc.Get(field)

			ascending := true
			switch d := dirVal.(type) {
			case int32:
				ascending = d >= 0
			case int64:
				ascending = d >= 0
			case float64:
				ascending = d >= 0
			}

			keys = append(keys, collection.IndexKey{Field: field, Ascending: ascending})
		}

		idx, err := r.Catalog.Backend().Factory().OpenOrCreateUniqueIndex(collName, keys)
		if err != nil {
			return nil, err
		}

		if err := coll.AddIndex(idx); err != nil {
			return nil, err
		}

		created++
	}

	resp := types.MakeDocument(3)
	if err := resp.Set("numIndexesBefore", int32(numIndexesBefore)); err != nil {
		return nil, err
	}

	if err := resp.Set("numIndexesAfter", int32(coll.GetNumIndexes())); err != nil {
		return nil, err
	}

	if err := resp.Set("createdCollectionAutomatically", created > 0); err != nil {
		return nil, err
	}

	return ok(resp)
}

// handleDrop implements `drop`: unregistering a single collection. A missing
// collection yields the silent NamespaceNotFound error (spec.md §6).
func handleDrop(r *Router, _ string, params *types.Document) (*types.Document, error) {
	collName, err := stringParam(params, "drop")
	if err != nil {
		collName, err = stringParam(params, "collection")
		if err != nil {
			return nil, err
		}
	}

	if err := r.Catalog.Unregister(collName); err != nil {
		return nil, err
	}

	return ok(nil)
}

// handleDropDatabase implements `dropDatabase`: unregistering every
// collection known to the catalog and removing their backing storage.
func handleDropDatabase(r *Router, _ string, _ *types.Document) (*types.Document, error) {
	r.Catalog.Drop()

	if err := r.Catalog.Backend().DropDatabase(r.Catalog.Name()); err != nil {
		return nil, err
	}

	return ok(nil)
}

// handleListCollections implements `listCollections`, returning the
// cursor-shaped response over {name} documents (spec.md testable property 5).
func handleListCollections(r *Router, _ string, _ *types.Document) (*types.Document, error) {
	names := r.Catalog.ListCollections()
	sort.Strings(names)

	docs := make([]*types.Document, 0, len(names))

	for _, name := range names {
		docs = append(docs, must.NotFail(types.NewDocument("name", name)))
	}

	return cursorResponse(r.Catalog.Name()+"."+catalog.NamespacesCollectionName, docs)
}

// handleListIndexes implements `listIndexes` for a single collection by
// filtering system.indexes rows whose ns matches db.collection.
func handleListIndexes(r *Router, _ string, params *types.Document) (*types.Document, error) {
	collName, err := stringParam(params, "listIndexes")
	if err != nil {
		collName, err = stringParam(params, "collection")
		if err != nil {
			return nil, err
		}
	}

	indexes, err := r.Catalog.Resolve(catalog.IndexesCollectionName, false)
	if err != nil {
		return nil, err
	}

	ns := r.Catalog.Name() + "." + collName

	var docs []*types.Document

	if indexes != nil {
		all, err := indexes.QueryAll()
		if err != nil {
			return nil, err
		}

		for _, d := range all {
			v, err := d.Get("ns")
			if err != nil {
				continue
			}

			if s, ok := v.(string); ok && s == ns {
				docs = append(docs, d)
			}
		}
	}

	return cursorResponse(ns, docs)
}

// handleCollStats implements `collStats` by delegating to the collection's
// own Stats.
func handleCollStats(r *Router, _ string, params *types.Document) (*types.Document, error) {
	collName, err := stringParam(params, "collStats")
	if err != nil {
		collName, err = stringParam(params, "collection")
		if err != nil {
			return nil, err
		}
	}

	coll, err := r.Catalog.Resolve(collName, true)
	if err != nil {
		return nil, err
	}

	stats, err := coll.GetStats()
	if err != nil {
		return nil, err
	}

	resp, err := statsDoc(collName, stats)
	if err != nil {
		return nil, err
	}

	return ok(resp)
}

// handleDBStats implements `dbStats` by aggregating every collection's Stats.
func handleDBStats(r *Router, _ string, _ *types.Document) (*types.Document, error) {
	names := r.Catalog.ListCollections()

	var totalCount, totalSize, totalStorage, totalIndexSize, totalFileSize int64

	var totalIndexes int

	for _, name := range names {
		coll, err := r.Catalog.Resolve(name, false)
		if err != nil || coll == nil {
			continue
		}

		stats, err := coll.GetStats()
		if err != nil {
			continue
		}

		totalCount += stats.Count
		totalSize += stats.Size
		totalStorage += stats.StorageSize
		totalFileSize += stats.FileSize

		for _, size := range stats.IndexSize {
			totalIndexSize += size
			totalIndexes++
		}
	}

	var avgObjSize int64
	if totalCount > 0 {
		avgObjSize = totalSize / totalCount
	}

	resp := must.NotFail(types.NewDocument(
		"db", r.Catalog.Name(),
		"collections", int32(len(names)),
		"objects", totalCount,
		"avgObjSize", avgObjSize,
		"dataSize", totalSize,
		"storageSize", totalStorage,
		"indexes", int32(totalIndexes),
		"indexSize", totalIndexSize,
		"fileSize", totalFileSize,
	))

	return ok(resp)
}

// handleValidate implements `validate` by delegating to the collection.
func handleValidate(r *Router, _ string, params *types.Document) (*types.Document, error) {
	collName, err := stringParam(params, "validate")
	if err != nil {
		collName, err = stringParam(params, "collection")
		if err != nil {
			return nil, err
		}
	}

	coll, err := r.Catalog.Resolve(collName, true)
	if err != nil {
		return nil, err
	}

	resp, err := coll.Validate()
	if err != nil {
		return nil, err
	}

	return ok(resp)
}

func statsDoc(collName string, stats *collection.Stats) (*types.Document, error) {
	doc := must.NotFail(types.NewDocument(
		"ns", collName,
		"count", stats.Count,
		"size", stats.Size,
		"storageSize", stats.StorageSize,
	))

	indexSizes := types.MakeDocument(len(stats.IndexSize))
	for name, size := range stats.IndexSize {
		must.NoError(indexSizes.Set(name, size))
	}

	must.NoError(doc.Set("indexSizes", indexSizes))

	return doc, nil
}

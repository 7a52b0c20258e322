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

// Package bootstrap implements spec.md §4.6: rebuilding a Catalog's
// in-memory collection map and index registrations from a backend's already
// persisted system.namespaces/system.indexes rows, e.g. after a filestore
// reopen.
package bootstrap

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/catalog"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/collection"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/util/lazyerrors"
)

// Run replays dbName's persisted namespace/index rows into cat, which must
// already exist (catalog.New was called for dbName against backend). Each
// namespace row reopens its collection; each index row is replayed per
// spec.md §4.6's exact policy:
//
//   - a single-field {_id: 1} or {_id: -1} key synthesizes the collection's
//     _id_ unique index;
//   - a row with unique:true synthesizes a unique index over its declared
//     keys;
//   - any other row (a non-unique secondary index) is logged and skipped,
//     since this core never builds query-acceleration structures for them
//     (spec.md Non-goals).
//
// Errors from individual rows are aggregated via multierr rather than
// aborting the whole replay, so one malformed row doesn't block every other
// collection from coming back online.
func Run(cat *catalog.Catalog, backend collection.Backend, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	namespaces, err := cat.Resolve(catalog.NamespacesCollectionName, true)
	if err != nil {
		return lazyerrors.Error(err)
	}

	nsDocs, err := namespaces.QueryAll()
	if err != nil {
		return lazyerrors.Error(err)
	}

	var errs error

	for _, nsDoc := range nsDocs {
		name, gerr := nsDoc.Get("name")
		if gerr != nil {
			errs = multierr.Append(errs, gerr)
			continue
		}

		full, ok := name.(string)
		if !ok {
			continue
		}

		collName := stripDBPrefix(cat.Name(), full)

		switch collName {
		case catalog.NamespacesCollectionName, catalog.IndexesCollectionName:
			continue
		}

		if _, rerr := cat.Reopen(collName); rerr != nil {
			errs = multierr.Append(errs, fmt.Errorf("bootstrap: reopening %q: %w", collName, rerr))
		}
	}

	// system.indexes, like system.namespaces, is never itself listed as a
	// namespace row (catalog.go registers both pseudo-collections directly),
	// so it must be reopened explicitly before its rows can be replayed.
	indexes, err := cat.Reopen(catalog.IndexesCollectionName)
	if err != nil {
		return err
	}

	idxDocs, err := indexes.QueryAll()
	if err != nil {
		return multierr.Append(errs, err)
	}

	for _, idxDoc := range idxDocs {
		if rerr := replayIndex(cat, cat.Name(), idxDoc, log); rerr != nil {
			errs = multierr.Append(errs, rerr)
		}
	}

	return errs
}

func replayIndex(cat *catalog.Catalog, dbName string, idxDoc *types.Document, log *zap.Logger) error {
	nsVal, err := idxDoc.Get("ns")
	if err != nil {
		return err
	}

	ns, ok := nsVal.(string)
	if !ok {
		return fmt.Errorf("bootstrap: index row missing string ns")
	}

	collName := stripDBPrefix(dbName, ns)

	keyVal, err := idxDoc.Get("key")
	if err != nil {
		return err
	}

	keyDoc, ok := keyVal.(*types.Document)
	if !ok {
		return fmt.Errorf("bootstrap: index row %q missing key document", ns)
	}

	unique, _ := idxDoc.GetDefault("unique", false).(bool)

	keys := make([]collection.IndexKey, 0, keyDoc.Len())

	for _, field := range keyDoc.Keys() {
		dirVal, _ := keyDoc.Get(field)

		ascending := true
		switch d := dirVal.(type) {
		case int32:
			ascending = d >= 0
		case int64:
			ascending = d >= 0
		}

		keys = append(keys, collection.IndexKey{Field: field, Ascending: ascending})
	}

	isIDIndex := len(keys) == 1 && keys[0].Field == "_id"

	if !isIDIndex && !unique {
		log.Warn("skipping non-unique index on replay, no query-acceleration support in this core",
			zap.String("ns", ns), zap.String("collection", collName))

		return nil
	}

	coll, err := cat.Reopen(collName)
	if err != nil {
		return err
	}

	idx, err := cat.Backend().Factory().OpenOrCreateUniqueIndex(collName, keys)
	if err != nil {
		return err
	}

	return coll.AddIndex(idx)
}

func stripDBPrefix(dbName, full string) string {
	prefix := dbName + "."
	if len(full) > len(prefix) && full[:len(prefix)] == prefix {
		return full[len(prefix):]
	}

	return full
}

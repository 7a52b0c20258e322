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
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/catalog"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/collection"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/mongoerrors"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/util/must"
)

// docWithN builds the common {n: <n>} response shape several handlers share.
func docWithN(n int64) *types.Document {
	doc := types.MakeDocument(1)
	must.NoError(doc.Set("n", n))

	return doc
}

// writeErrorDoc builds the {err, code?, codeName?, connectionId} shape
// spec.md §4.2 records on a write error.
func writeErrorDoc(channel string, err error) (*types.Document, error) {
	doc := types.MakeDocument(4)

	if serr, ok := err.(*mongoerrors.ServerError); ok { //nolint:errorlint // sentinel wire error
		if setErr := doc.Set("err", serr.Message); setErr != nil {
			return nil, setErr
		}

		if setErr := doc.Set("code", int32(serr.Code)); setErr != nil {
			return nil, setErr
		}

		if setErr := doc.Set("codeName", serr.Code.String()); setErr != nil {
			return nil, setErr
		}
	} else if setErr := doc.Set("err", err.Error()); setErr != nil {
		return nil, setErr
	}

	if setErr := doc.Set("connectionId", channel); setErr != nil {
		return nil, setErr
	}

	return doc, nil
}

// recordWrite implements spec.md §4.2/§4.4's "write handlers always update
// the channel's pending slot" rule: on success, the result document
// replaces the pending sentinel; on error, the error document does, and the
// original error still propagates to the caller.
func (r *Router) recordWrite(channel string, result *types.Document, writeErr error) error {
	if writeErr != nil {
		errDoc, buildErr := writeErrorDoc(channel, writeErr)
		if buildErr != nil {
			return buildErr
		}

		r.writeErrorsTotal.Inc()

		if err := r.History.RecordError(channel, errDoc); err != nil {
			r.log.Warn("failed to record write error in history", zap.Error(err))
		}

		return writeErr
	}

	if err := r.History.RecordResult(channel, result); err != nil {
		r.log.Warn("failed to record write result in history", zap.Error(err))
	}

	return nil
}

// systemWriteCode returns the §4.4 error code for writing to a system.*
// collection through the given verb ("insert", "update", "delete"), or nil
// if name is not system-prefixed.
func systemWriteCode(name, verb string) *mongoerrors.ServerError {
	if !catalog.IsSystem(name) {
		return nil
	}

	switch verb {
	case "insert":
		return mongoerrors.NewServerError(mongoerrors.CodeNamespaceInsertIsSystem, "cannot insert into system collection "+name)
	case "update":
		return mongoerrors.NewServerError(mongoerrors.CodeNamespaceUpdateIsSystem, "cannot update system collection "+name)
	case "delete":
		return mongoerrors.NewServerError(mongoerrors.CodeNamespaceDeleteIsSystem, "cannot delete from system collection "+name)
	default:
		return nil
	}
}

// handleInsert implements the `insert` command (spec.md §4.3/§4.4).
func handleInsert(r *Router, channel string, params *types.Document) (*types.Document, error) {
	collName, err := stringParam(params, "collection")
	if err != nil {
		return nil, err
	}

	documents := arrayParam(params, "documents")
	ordered := boolParamDefault(params, "ordered", true)

	if collName == catalog.IndexesCollectionName {
		return handleInsertIntoSystemIndexes(r, channel, documents)
	}

	if serr := systemWriteCode(collName, "insert"); serr != nil {
		return nil, r.failWrite(channel, serr)
	}

	coll, err := r.Catalog.ResolveOrCreate(collName)
	if err != nil {
		return nil, r.failWrite(channel, err)
	}

	var n int64

	var writeErrors []*types.Document

	for i := 0; i < documents.Len(); i++ {
		v, _ := documents.Get(i)

		doc, ok := v.(*types.Document)
		if !ok {
			continue
		}

		if _, insErr := coll.Insert([]*types.Document{doc}); insErr != nil {
			we, buildErr := mongoWriteError(i, insErr)
			if buildErr != nil {
				return nil, buildErr
			}

			writeErrors = append(writeErrors, we)

			if ordered {
				break
			}

			continue
		}

		n++
	}

	resp := types.MakeDocument(3)
	if err := resp.Set("n", n); err != nil {
		return nil, err
	}

	if len(writeErrors) > 0 {
		arr := types.MakeArray(len(writeErrors))
		for _, we := range writeErrors {
			if err := arr.Append(we); err != nil {
				return nil, err
			}
		}

		if err := resp.Set("writeErrors", arr); err != nil {
			return nil, err
		}
	}

	resp, err = ok(resp)
	if err != nil {
		return nil, err
	}

	if recErr := r.recordWrite(channel, resp, nil); recErr != nil {
		return nil, recErr
	}

	return resp, nil
}

// handleInsertIntoSystemIndexes re-interprets each inserted document as an
// addIndex call, per spec.md §4.4.
func handleInsertIntoSystemIndexes(r *Router, channel string, documents *types.Array) (*types.Document, error) {
	var n int64

	for i := 0; i < documents.Len(); i++ {
		v, _ := documents.Get(i)

		doc, ok := v.(*types.Document)
		if !ok {
			continue
		}

		ns, _ := doc.Get("ns")
		nsStr, _ := ns.(string)

		collName := nsStr
		if prefix := r.Catalog.Name() + "."; len(nsStr) > len(prefix) {
			collName = nsStr[len(prefix):]
		}

		keyDoc, _ := doc.GetDefault("key", types.MakeDocument(0)).(*types.Document)

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

		coll, err := r.Catalog.ResolveOrCreate(collName)
		if err != nil {
			return nil, r.failWrite(channel, err)
		}

		idx, err := r.Catalog.Backend().Factory().OpenOrCreateUniqueIndex(collName, keys)
		if err != nil {
			return nil, r.failWrite(channel, err)
		}

		if err := coll.AddIndex(idx); err != nil {
			return nil, r.failWrite(channel, err)
		}

		n++
	}

	resp, err := ok(docWithN(n))
	if err != nil {
		return nil, err
	}

	if recErr := r.recordWrite(channel, resp, nil); recErr != nil {
		return nil, recErr
	}

	return resp, nil
}

// handleUpdate implements the `update` command.
func handleUpdate(r *Router, channel string, params *types.Document) (*types.Document, error) {
	collName, err := stringParam(params, "collection")
	if err != nil {
		return nil, err
	}

	if serr := systemWriteCode(collName, "update"); serr != nil {
		return nil, r.failWrite(channel, serr)
	}

	updates := arrayParam(params, "updates")
	ordered := boolParamDefault(params, "ordered", true)

	coll, err := r.Catalog.ResolveOrCreate(collName)
	if err != nil {
		return nil, r.failWrite(channel, err)
	}

	var n, nModified int64

	var upserted []*types.Document

	for i := 0; i < updates.Len(); i++ {
		v, _ := updates.Get(i)

		entry, ok := v.(*types.Document)
		if !ok {
			continue
		}

		selector := docParam(entry, "q")
		update := docParam(entry, "u")
		multi := boolParamDefault(entry, "multi", false)
		upsert := boolParamDefault(entry, "upsert", false)

		res, updErr := coll.UpdateDocuments(collection.UpdateOp{
			Selector: selector,
			Update:   update,
			Multi:    multi,
			Upsert:   upsert,
		})
		if updErr != nil {
			if ordered {
				return nil, r.failWrite(channel, updErr)
			}

			continue
		}

		n += res.N
		nModified += res.NModified

		if res.HasUpsertedID {
			entryDoc := must.NotFail(types.NewDocument("index", int32(i), "_id", res.UpsertedID))
			upserted = append(upserted, entryDoc)
		}
	}

	resp := types.MakeDocument(4)
	if err := resp.Set("n", n); err != nil {
		return nil, err
	}

	if err := resp.Set("nModified", nModified); err != nil {
		return nil, err
	}

	if len(upserted) > 0 {
		arr := types.MakeArray(len(upserted))
		for _, u := range upserted {
			if err := arr.Append(u); err != nil {
				return nil, err
			}
		}

		if err := resp.Set("upserted", arr); err != nil {
			return nil, err
		}
	}

	resp, err = ok(resp)
	if err != nil {
		return nil, err
	}

	if recErr := r.recordWrite(channel, resp, nil); recErr != nil {
		return nil, recErr
	}

	return resp, nil
}

// handleDelete implements the `delete` command.
func handleDelete(r *Router, channel string, params *types.Document) (*types.Document, error) {
	collName, err := stringParam(params, "collection")
	if err != nil {
		return nil, err
	}

	if serr := systemWriteCode(collName, "delete"); serr != nil {
		return nil, r.failWrite(channel, serr)
	}

	deletes := arrayParam(params, "deletes")

	coll, err := r.Catalog.Resolve(collName, false)
	if err != nil {
		return nil, r.failWrite(channel, err)
	}

	var n int64

	if coll != nil {
		for i := 0; i < deletes.Len(); i++ {
			v, _ := deletes.Get(i)

			entry, ok := v.(*types.Document)
			if !ok {
				continue
			}

			selector := docParam(entry, "q")
			limit := int64Param(entry, "limit", 0)

			deleted, delErr := coll.DeleteDocuments(selector, limit)
			if delErr != nil {
				return nil, r.failWrite(channel, delErr)
			}

			n += deleted
		}
	}

	resp, err := ok(docWithN(n))
	if err != nil {
		return nil, err
	}

	if recErr := r.recordWrite(channel, resp, nil); recErr != nil {
		return nil, recErr
	}

	return resp, nil
}

// failWrite records err into channel's history and returns it, implementing
// the write-handler branch of spec.md §4.2's propagation rule.
func (r *Router) failWrite(channel string, err error) error {
	return r.recordWrite(channel, nil, err)
}

// mongoWriteError builds a per-document write-error entry using
// go.mongodb.org/mongo-driver's WriteError shape for field names, per
// spec.md §4.3's "{index, errmsg, code, codeName?} entries".
func mongoWriteError(index int, err error) (*types.Document, error) {
	we := mongo.WriteError{Index: index, Message: err.Error()}

	doc := types.MakeDocument(4)
	if setErr := doc.Set("index", int32(we.Index)); setErr != nil {
		return nil, setErr
	}

	if setErr := doc.Set("errmsg", we.Message); setErr != nil {
		return nil, setErr
	}

	if serr, ok := err.(*mongoerrors.ServerError); ok { //nolint:errorlint // sentinel wire error
		we.Code = int(serr.Code)

		if setErr := doc.Set("code", int32(we.Code)); setErr != nil {
			return nil, setErr
		}

		if setErr := doc.Set("codeName", serr.Code.String()); setErr != nil {
			return nil, setErr
		}
	}

	return doc, nil
}

func boolParamDefault(params *types.Document, key string, def bool) bool {
	v, err := params.Get(key)
	if err != nil {
		return def
	}

	b, ok := v.(bool)
	if !ok {
		return def
	}

	return b
}


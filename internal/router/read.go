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
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/util/must"
)

// handleFind implements the `find` command (spec.md §4.3): the query is
// assembled as {$query: filter, $orderby: sort} and forwarded to the
// collection, which is responsible for unwrapping that legacy shape. A
// missing collection returns an empty batch without error.
func handleFind(r *Router, _ string, params *types.Document) (*types.Document, error) {
	collName, err := stringParam(params, "collection")
	if err != nil {
		return nil, err
	}

	filter := docParam(params, "filter")
	sort := docParam(params, "sort")
	skip := int64Param(params, "skip", 0)
	limit := int64Param(params, "limit", 0)
	projection := docParam(params, "projection")

	coll, err := r.Catalog.Resolve(collName, false)
	if err != nil {
		return nil, err
	}

	ns := r.Catalog.Name() + "." + collName

	if coll == nil {
		return cursorResponse(ns, nil)
	}

	selector := must.NotFail(types.NewDocument("$query", filter, "$orderby", sort))

	docs, err := coll.HandleQuery(selector, skip, limit, projection)
	if err != nil {
		return nil, err
	}

	return cursorResponse(ns, docs)
}

// handleCount implements the `count` command: a missing collection yields
// n=0, not an error.
func handleCount(r *Router, _ string, params *types.Document) (*types.Document, error) {
	collName, err := stringParam(params, "collection")
	if err != nil {
		return nil, err
	}

	query := docParam(params, "query")
	skip := int64Param(params, "skip", 0)
	limit := int64Param(params, "limit", 0)

	coll, err := r.Catalog.Resolve(collName, false)
	if err != nil {
		return nil, err
	}

	if coll == nil {
		return ok(docWithN(0))
	}

	n, err := coll.CountQuery(query, skip, limit)
	if err != nil {
		return nil, err
	}

	return ok(docWithN(n))
}

// handleDistinct implements the `distinct` command as a thin adapter over
// Collection.HandleDistinct.
func handleDistinct(r *Router, _ string, params *types.Document) (*types.Document, error) {
	collName, err := stringParam(params, "collection")
	if err != nil {
		return nil, err
	}

	key, err := stringParam(params, "key")
	if err != nil {
		return nil, err
	}

	query := docParam(params, "query")

	coll, err := r.Catalog.Resolve(collName, true)
	if err != nil {
		return nil, err
	}

	resp, err := coll.HandleDistinct(key, query)
	if err != nil {
		return nil, err
	}

	return ok(resp)
}

// handleFindAndModify implements the `findAndModify` command; its response
// can mutate the collection, so it participates in error-history recording
// like a write handler.
func handleFindAndModify(r *Router, channel string, params *types.Document) (*types.Document, error) {
	collName, err := stringParam(params, "collection")
	if err != nil {
		return nil, err
	}

	coll, err := r.Catalog.ResolveOrCreate(collName)
	if err != nil {
		return nil, r.failWrite(channel, err)
	}

	resp, err := coll.FindAndModify(params)
	if err != nil {
		return nil, r.failWrite(channel, err)
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

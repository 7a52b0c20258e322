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
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/aggregation"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/mongoerrors"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
)

// handleAggregate implements the `aggregate` command (spec.md §4.5). Only
// the single-batch cursor form is supported: a missing or non-empty cursor
// document is rejected with FailedToParse, matching real legacy MongoDB's
// requirement that callers opt into cursor responses explicitly.
func handleAggregate(r *Router, _ string, params *types.Document) (*types.Document, error) {
	collName, err := stringParam(params, "aggregate")
	if err != nil {
		collName, err = stringParam(params, "collection")
		if err != nil {
			return nil, err
		}
	}

	cursor, err := params.Get("cursor")
	if err != nil {
		return nil, mongoerrors.NewServerError(mongoerrors.CodeFailedToParse,
			"The 'cursor' option is required, except for aggregate with the explain argument")
	}

	cursorDoc, ok := cursor.(*types.Document)
	if !ok || cursorDoc.Len() != 0 {
		return nil, mongoerrors.NewServerError(mongoerrors.CodeFailedToParse,
			"non-empty cursor options are not supported by this core")
	}

	pipelineArr := arrayParam(params, "pipeline")

	stageDocs := make([]*types.Document, 0, pipelineArr.Len())

	for i := 0; i < pipelineArr.Len(); i++ {
		v, _ := pipelineArr.Get(i)

		d, ok := v.(*types.Document)
		if !ok {
			continue
		}

		stageDocs = append(stageDocs, d)
	}

	stages, err := aggregation.ParsePipeline(stageDocs)
	if err != nil {
		return nil, err
	}

	coll, err := r.Catalog.Resolve(collName, false)
	if err != nil {
		return nil, err
	}

	ns := r.Catalog.Name() + "." + collName

	var source []*types.Document

	if coll != nil {
		source, err = coll.QueryAll()
		if err != nil {
			return nil, err
		}
	}

	out, err := aggregation.NewPlanner(stages).Run(source)
	if err != nil {
		return nil, err
	}

	return cursorResponse(ns, out)
}

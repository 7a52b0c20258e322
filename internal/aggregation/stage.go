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

// Package aggregation translates an aggregation pipeline (spec.md §4.5)
// into a tagged-variant plan and runs it against a full collection scan.
// Stage *bodies* (the actual $match/$group/... semantics) are expected to
// be opaque transforms sourced from an operator library; this core only
// parses the pipeline shape and drives execution in order, the same role
// internal/handler/msg_aggregate.go plays for the teacher's own stage
// library.
package aggregation

import (
	"fmt"
	"sort"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/mongoerrors"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
)

// Kind tags which variant a Stage holds.
type Kind int

// The eight stage variants spec.md §4.5/§9 names.
const (
	KindMatch Kind = iota
	KindSkip
	KindLimit
	KindOrderBy
	KindProject
	KindGroup
	KindAddFields
	KindUnwind
)

// Stage is one step of a pipeline, as a tagged variant: exactly one of its
// payload fields is meaningful, selected by Kind.
type Stage struct {
	Kind Kind

	Filter     *types.Document // Match
	N          int64           // Skip, Limit
	KeyOrder   *types.Document // OrderBy: field -> ±1
	Projection *types.Document // Project
	GroupSpec  *types.Document // Group
	FieldsSpec *types.Document // AddFields
	FieldPath  string          // Unwind
}

// NewStage parses one pipeline stage document. A document with ≠1 key
// fails with code 40323; an unrecognized key fails with code 40324.
func NewStage(doc *types.Document) (*Stage, error) {
	if doc.Len() != 1 {
		return nil, mongoerrors.NewServerError(mongoerrors.CodeStageBadFieldCount,
			fmt.Sprintf("A pipeline stage specification object must contain exactly one field. Found %d fields", doc.Len()))
	}

	key := doc.Command()

	value, err := doc.Get(key)
	if err != nil {
		return nil, err
	}

	switch key {
	case "$match":
		filter, ok := value.(*types.Document)
		if !ok {
			return nil, fmt.Errorf("aggregation: $match requires a document")
		}

		return &Stage{Kind: KindMatch, Filter: filter}, nil

	case "$skip":
		n, err := asInt64(value)
		if err != nil {
			return nil, err
		}

		return &Stage{Kind: KindSkip, N: n}, nil

	case "$limit":
		n, err := asInt64(value)
		if err != nil {
			return nil, err
		}

		return &Stage{Kind: KindLimit, N: n}, nil

	case "$sort":
		keyOrder, ok := value.(*types.Document)
		if !ok {
			return nil, fmt.Errorf("aggregation: $sort requires a document")
		}

		return &Stage{Kind: KindOrderBy, KeyOrder: keyOrder}, nil

	case "$project":
		projection, ok := value.(*types.Document)
		if !ok {
			return nil, fmt.Errorf("aggregation: $project requires a document")
		}

		return &Stage{Kind: KindProject, Projection: projection}, nil

	case "$group":
		spec, ok := value.(*types.Document)
		if !ok {
			return nil, fmt.Errorf("aggregation: $group requires a document")
		}

		return &Stage{Kind: KindGroup, GroupSpec: spec}, nil

	case "$addFields":
		spec, ok := value.(*types.Document)
		if !ok {
			return nil, fmt.Errorf("aggregation: $addFields requires a document")
		}

		return &Stage{Kind: KindAddFields, FieldsSpec: spec}, nil

	case "$unwind":
		path, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("aggregation: $unwind requires a string field path")
		}

		return &Stage{Kind: KindUnwind, FieldPath: path}, nil

	case "$count":
		// handled by the caller via ExpandCount, never reaches here directly
		return nil, mongoerrors.NewServerError(mongoerrors.CodeUnrecognizedPipelineStage,
			"$count must be expanded before NewStage")

	default:
		return nil, mongoerrors.NewServerError(mongoerrors.CodeUnrecognizedPipelineStage,
			fmt.Sprintf("Unrecognized pipeline stage name: '%s'", key))
	}
}

func asInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("aggregation: expected a number, got %T", value)
	}
}

// ExpandCount implements spec.md §4.5's $count special case: it expands to
// Group({_id: null, <name>: {$sum: 1}}) followed by Project({_id: 0}).
func ExpandCount(name string) ([]*Stage, error) {
	sum, err := types.NewDocument("$sum", int32(1))
	if err != nil {
		return nil, err
	}

	groupSpec, err := types.NewDocument("_id", types.Null, name, sum)
	if err != nil {
		return nil, err
	}

	projection, err := types.NewDocument("_id", int32(0))
	if err != nil {
		return nil, err
	}

	return []*Stage{
		{Kind: KindGroup, GroupSpec: groupSpec},
		{Kind: KindProject, Projection: projection},
	}, nil
}

// ParsePipeline parses an ordered list of stage documents, expanding $count
// stages in place.
func ParsePipeline(docs []*types.Document) ([]*Stage, error) {
	var stages []*Stage

	for _, doc := range docs {
		if doc.Len() == 1 && doc.Command() == "$count" {
			name, ok := doc.GetDefault("$count", "").(string)
			if !ok || name == "" {
				return nil, fmt.Errorf("aggregation: $count requires a non-empty string")
			}

			expanded, err := ExpandCount(name)
			if err != nil {
				return nil, err
			}

			stages = append(stages, expanded...)

			continue
		}

		stage, err := NewStage(doc)
		if err != nil {
			return nil, err
		}

		stages = append(stages, stage)
	}

	return stages, nil
}

func sortDocuments(docs []*types.Document, keyOrder *types.Document) {
	keys := keyOrder.Keys()

	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			dirAny, _ := keyOrder.Get(k)

			dir := int64(1)
			switch d := dirAny.(type) {
			case int32:
				dir = int64(d)
			case int64:
				dir = d
			}

			vi, _ := docs[i].Get(k)
			vj, _ := docs[j].Get(k)

			c := compare(vi, vj)
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

func compare(a, b any) int {
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

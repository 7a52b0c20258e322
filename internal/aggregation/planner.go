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

package aggregation

import (
	"fmt"
	"strings"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
)

// Planner executes a parsed pipeline against an in-memory document slice.
// It has no collection/backend dependency: the caller (the router's
// aggregate handler) supplies the full scan via QueryAll, matching spec.md
// §4.5's "executes stages in order against the source collection's full
// scan (or an empty sequence if the collection does not exist)".
type Planner struct {
	Stages []*Stage
}

// NewPlanner builds a Planner from an already-parsed stage list.
func NewPlanner(stages []*Stage) *Planner {
	return &Planner{Stages: stages}
}

// Run executes the pipeline against docs and returns the resulting batch.
func (p *Planner) Run(docs []*types.Document) ([]*types.Document, error) {
	cur := docs

	for _, stage := range p.Stages {
		var err error

		cur, err = runStage(stage, cur)
		if err != nil {
			return nil, err
		}
	}

	return cur, nil
}

func runStage(stage *Stage, docs []*types.Document) ([]*types.Document, error) {
	switch stage.Kind {
	case KindMatch:
		return filterDocs(docs, stage.Filter), nil

	case KindSkip:
		if stage.N >= int64(len(docs)) {
			return nil, nil
		}

		return docs[stage.N:], nil

	case KindLimit:
		if stage.N < int64(len(docs)) {
			return docs[:stage.N], nil
		}

		return docs, nil

	case KindOrderBy:
		out := append([]*types.Document(nil), docs...)
		sortDocuments(out, stage.KeyOrder)

		return out, nil

	case KindProject:
		return projectDocs(docs, stage.Projection), nil

	case KindGroup:
		return runGroup(docs, stage.GroupSpec)

	case KindAddFields:
		return addFieldsDocs(docs, stage.FieldsSpec)

	case KindUnwind:
		return unwindDocs(docs, stage.FieldPath)

	default:
		return nil, fmt.Errorf("aggregation: unknown stage kind %d", stage.Kind)
	}
}

func filterDocs(docs []*types.Document, filter *types.Document) []*types.Document {
	if filter == nil || filter.Len() == 0 {
		return docs
	}

	out := make([]*types.Document, 0, len(docs))

	for _, doc := range docs {
		if matchesFilter(doc, filter) {
			out = append(out, doc)
		}
	}

	return out
}

func matchesFilter(doc, filter *types.Document) bool {
	for _, k := range filter.Keys() {
		want, _ := filter.Get(k)

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

func projectDocs(docs []*types.Document, projection *types.Document) []*types.Document {
	out := make([]*types.Document, 0, len(docs))

	keep := make(map[string]bool)

	var inclusionMode bool

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

		if k != "_id" && include {
			inclusionMode = true
		}
	}

	for _, doc := range docs {
		projected := types.MakeDocument(doc.Len())

		for _, k := range doc.Keys() {
			if k == "_id" {
				if v, ok := keep["_id"]; ok && !v {
					continue
				}
			} else if inclusionMode {
				if v, ok := keep[k]; !ok || !v {
					continue
				}
			} else if v, ok := keep[k]; ok && !v {
				continue
			}

			val, _ := doc.Get(k)
			_ = projected.Set(k, val)
		}

		out = append(out, projected)
	}

	return out
}

func addFieldsDocs(docs []*types.Document, spec *types.Document) ([]*types.Document, error) {
	out := make([]*types.Document, 0, len(docs))

	for _, doc := range docs {
		copyDoc := doc.DeepCopy()

		for _, k := range spec.Keys() {
			v, _ := spec.Get(k)

			resolved, err := evalExpr(v, doc)
			if err != nil {
				return nil, err
			}

			if err := copyDoc.Set(k, resolved); err != nil {
				return nil, err
			}
		}

		out = append(out, copyDoc)
	}

	return out, nil
}

func unwindDocs(docs []*types.Document, fieldPath string) ([]*types.Document, error) {
	field := strings.TrimPrefix(fieldPath, "$")

	out := make([]*types.Document, 0, len(docs))

	for _, doc := range docs {
		v, err := doc.Get(field)
		if err != nil {
			continue
		}

		arr, ok := v.(*types.Array)
		if !ok {
			out = append(out, doc)
			continue
		}

		for _, elem := range arr.Slice() {
			copyDoc := doc.DeepCopy()
			if err := copyDoc.Set(field, elem); err != nil {
				return nil, err
			}

			out = append(out, copyDoc)
		}
	}

	return out, nil
}

// runGroup implements the narrow subset of $group this core actually needs
// to drive: grouping by a literal _id (currently only `null`, i.e. a single
// group over the whole input) with a single $sum accumulator, which is
// exactly what spec.md §4.5's $count expansion produces. Full $group
// expression evaluation is the operator library's job (out of scope, §1).
func runGroup(docs []*types.Document, spec *types.Document) ([]*types.Document, error) {
	idExpr, err := spec.Get("_id")
	if err != nil {
		return nil, fmt.Errorf("aggregation: $group requires an _id field")
	}

	if _, isNull := idExpr.(types.NullType); !isNull {
		return nil, fmt.Errorf("aggregation: $group only supports _id: null in this core")
	}

	result := types.MakeDocument(spec.Len())
	if err := result.Set("_id", types.Null); err != nil {
		return nil, err
	}

	for _, k := range spec.Keys() {
		if k == "_id" {
			continue
		}

		accum, _ := spec.Get(k)

		accumDoc, ok := accum.(*types.Document)
		if !ok || accumDoc.Len() != 1 {
			return nil, fmt.Errorf("aggregation: accumulator for %q must be a single-key document", k)
		}

		switch accumDoc.Command() {
		case "$sum":
			expr, _ := accumDoc.Get("$sum")

			sum, err := sumOver(docs, expr)
			if err != nil {
				return nil, err
			}

			if err := result.Set(k, sum); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("aggregation: unsupported accumulator %q in this core", accumDoc.Command())
		}
	}

	return []*types.Document{result}, nil
}

func sumOver(docs []*types.Document, expr any) (int64, error) {
	if lit, ok := asLiteralInt(expr); ok {
		return lit * int64(len(docs)), nil
	}

	field, ok := expr.(string)
	if !ok || !strings.HasPrefix(field, "$") {
		return 0, fmt.Errorf("aggregation: $sum expression must be a literal number or a field reference")
	}

	field = strings.TrimPrefix(field, "$")

	var total int64

	for _, doc := range docs {
		v, err := doc.Get(field)
		if err != nil {
			continue
		}

		n, ok := asLiteralInt(v)
		if !ok {
			continue
		}

		total += n
	}

	return total, nil
}

func asLiteralInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func evalExpr(expr any, doc *types.Document) (any, error) {
	field, ok := expr.(string)
	if !ok || !strings.HasPrefix(field, "$") {
		return expr, nil
	}

	v, err := doc.Get(strings.TrimPrefix(field, "$"))
	if err != nil {
		return types.Null, nil
	}

	return v, nil
}

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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/catalog"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/indexfactory"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/memstore"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/mongoerrors"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
)

func newRouter() *Router {
	backend := memstore.NewBackend(indexfactory.NewMemoryFactory())
	cat := catalog.New("test", backend, zap.NewNop())

	return New(cat, zap.NewNop())
}

func doc(t *testing.T, pairs ...any) *types.Document {
	t.Helper()

	d, err := types.NewDocument(pairs...)
	require.NoError(t, err)

	return d
}

func arr(t *testing.T, values ...any) *types.Array {
	t.Helper()

	a, err := types.NewArray(values...)
	require.NoError(t, err)

	return a
}

func TestInsertThenFind(t *testing.T) {
	t.Parallel()

	r := newRouter()

	insertDoc := doc(t, "_id", "1", "name", "widget")
	params := doc(t, "collection", "items", "documents", arr(t, insertDoc))

	resp, err := r.Dispatch("c1", "insert", params)
	require.NoError(t, err)

	n, _ := resp.Get("n")
	assert.EqualValues(t, 1, n)

	findParams := doc(t, "collection", "items")

	findResp, err := r.Dispatch("c1", "find", findParams)
	require.NoError(t, err)

	cursor, _ := findResp.Get("cursor")
	cursorDoc := cursor.(*types.Document)

	firstBatch, _ := cursorDoc.Get("firstBatch")
	batch := firstBatch.(*types.Array)
	assert.Equal(t, 1, batch.Len())
}

func TestUpsertInsertsWhenSelectorMatchesNothing(t *testing.T) {
	t.Parallel()

	r := newRouter()

	update := doc(t, "q", doc(t, "_id", "missing"), "u", doc(t, "$set", doc(t, "a", int32(1))), "upsert", true)
	params := doc(t, "collection", "items", "updates", arr(t, update))

	resp, err := r.Dispatch("c1", "update", params)
	require.NoError(t, err)

	n, _ := resp.Get("n")
	assert.EqualValues(t, 1, n)

	assert.True(t, resp.Has("upserted"))
}

func TestGetLastErrorAfterSuccessfulWrite(t *testing.T) {
	t.Parallel()

	r := newRouter()

	insertDoc := doc(t, "_id", "1")
	params := doc(t, "collection", "items", "documents", arr(t, insertDoc))

	_, err := r.Dispatch("c1", "insert", params)
	require.NoError(t, err)

	leResp, err := r.Dispatch("c1", "getLastError", doc(t))
	require.NoError(t, err)

	n, _ := leResp.Get("n")
	assert.EqualValues(t, 1, n)
}

func TestGetLastErrorAfterDuplicateKeyFailure(t *testing.T) {
	t.Parallel()

	r := newRouter()

	insertDoc := doc(t, "_id", "1")
	params := doc(t, "collection", "items", "documents", arr(t, insertDoc))

	_, err := r.Dispatch("c1", "insert", params)
	require.NoError(t, err)

	insertResp, err := r.Dispatch("c1", "insert", params)
	require.NoError(t, err) // the duplicate-key failure surfaces as writeErrors, not a dispatch error

	n, _ := insertResp.Get("n")
	assert.EqualValues(t, 0, n)
	assert.True(t, insertResp.Has("writeErrors"))

	leResp, err := r.Dispatch("c1", "getLastError", doc(t))
	require.NoError(t, err)

	// getLastError returns the exact result document of the most recent write.
	leN, _ := leResp.Get("n")
	assert.EqualValues(t, 0, leN)
	assert.True(t, leResp.Has("writeErrors"))
}

func TestCountAggregation(t *testing.T) {
	t.Parallel()

	r := newRouter()

	docs := arr(t, doc(t, "_id", "1", "a", "x"), doc(t, "_id", "2", "a", "x"), doc(t, "_id", "3", "a", "y"))
	_, err := r.Dispatch("c1", "insert", doc(t, "collection", "items", "documents", docs))
	require.NoError(t, err)

	pipeline := arr(t,
		doc(t, "$match", doc(t, "a", "x")),
		doc(t, "$count", "total"),
	)

	params := doc(t, "collection", "items", "pipeline", pipeline, "cursor", doc(t))

	resp, err := r.Dispatch("c1", "aggregate", params)
	require.NoError(t, err)

	cursor, _ := resp.Get("cursor")
	cursorDoc := cursor.(*types.Document)

	firstBatch, _ := cursorDoc.Get("firstBatch")
	batch := firstBatch.(*types.Array)
	require.Equal(t, 1, batch.Len())

	first, _ := batch.Get(0)
	total, _ := first.(*types.Document).Get("total")
	assert.EqualValues(t, 2, total)
}

func TestDropMissingCollectionIsSilentNotFound(t *testing.T) {
	t.Parallel()

	r := newRouter()

	_, err := r.Dispatch("c1", "drop", doc(t, "collection", "ghost"))
	require.Error(t, err)
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeNamespaceNotFound))
	assert.True(t, mongoerrors.IsSilent(err))
}

func TestSystemCollectionWriteIsRejected(t *testing.T) {
	t.Parallel()

	r := newRouter()

	params := doc(t, "collection", "system.profile", "documents", arr(t, doc(t, "_id", "1")))

	_, err := r.Dispatch("c1", "insert", params)
	require.Error(t, err)
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeNamespaceInsertIsSystem))
}

func TestCreateExistingCollectionFails(t *testing.T) {
	t.Parallel()

	r := newRouter()

	_, err := r.Dispatch("c1", "create", doc(t, "create", "items"))
	require.NoError(t, err)

	_, err = r.Dispatch("c1", "create", doc(t, "create", "items"))
	require.Error(t, err)
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeNamespaceExists))
}

func TestCreateEmptyNameFails(t *testing.T) {
	t.Parallel()

	r := newRouter()

	_, err := r.Dispatch("c1", "create", doc(t, "create", ""))
	require.Error(t, err)
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeEmptyNamespaceName))
}

func TestCreateTooLongNameFails(t *testing.T) {
	t.Parallel()

	r := newRouter()

	_, err := r.Dispatch("c1", "create", doc(t, "create", strings.Repeat("a", catalog.MaxNamespaceLength+1)))
	require.Error(t, err)
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeInvalidNamespaceLength))
}

func TestCreateDollarNameFails(t *testing.T) {
	t.Parallel()

	r := newRouter()

	_, err := r.Dispatch("c1", "create", doc(t, "create", "a$b"))
	require.Error(t, err)
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeInvalidCollectionName))
}

func TestAggregateWithoutCursorFails(t *testing.T) {
	t.Parallel()

	r := newRouter()

	params := doc(t, "collection", "items", "pipeline", arr(t))

	_, err := r.Dispatch("c1", "aggregate", params)
	require.Error(t, err)
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeFailedToParse))
}

func TestAggregateStageBadFieldCount(t *testing.T) {
	t.Parallel()

	r := newRouter()

	badStage := doc(t, "$match", doc(t), "$limit", int32(1))
	params := doc(t, "collection", "items", "pipeline", arr(t, badStage), "cursor", doc(t))

	_, err := r.Dispatch("c1", "aggregate", params)
	require.Error(t, err)
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeStageBadFieldCount))
}

func TestAggregateUnknownStageFails(t *testing.T) {
	t.Parallel()

	r := newRouter()

	badStage := doc(t, "$bogus", int32(1))
	params := doc(t, "collection", "items", "pipeline", arr(t, badStage), "cursor", doc(t))

	_, err := r.Dispatch("c1", "aggregate", params)
	require.Error(t, err)
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeUnrecognizedPipelineStage))
}

func TestUnknownCommandFails(t *testing.T) {
	t.Parallel()

	r := newRouter()

	_, err := r.Dispatch("c1", "bogusCommand", doc(t))
	require.Error(t, err)

	var nsc *mongoerrors.NoSuchCommand

	assert.ErrorAs(t, err, &nsc)
}

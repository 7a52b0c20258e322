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

package catalog

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/indexfactory"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/memstore"
	"github.com/voyages-sncf-technologies/mongo-go-server/internal/mongoerrors"
)

func newCatalog(dbName string) *Catalog {
	backend := memstore.NewBackend(indexfactory.NewMemoryFactory())
	return New(dbName, backend, nil)
}

func namespaceNames(t *testing.T, c *Catalog) []string {
	t.Helper()

	docs, err := c.namespaces.QueryAll()
	require.NoError(t, err)

	names := make([]string, 0, len(docs))

	for _, d := range docs {
		v, err := d.Get("name")
		require.NoError(t, err)
		names = append(names, v.(string))
	}

	return names
}

func TestCreateRegistersNamespaceAndIDIndex(t *testing.T) {
	t.Parallel()

	c := newCatalog("test")

	coll, err := c.Create("widgets")
	require.NoError(t, err)
	assert.Equal(t, "widgets", coll.GetCollectionName())
	assert.Equal(t, 1, coll.GetNumIndexes())

	assert.Contains(t, namespaceNames(t, c), "test.widgets")
	assert.Equal(t, 1, c.CountIndexes())
}

func TestCreateExistingFails(t *testing.T) {
	t.Parallel()

	c := newCatalog("test")

	_, err := c.Create("widgets")
	require.NoError(t, err)

	_, err = c.Create("widgets")
	require.Error(t, err)
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeNamespaceExists))
}

func TestCreateRejectsDollarInName(t *testing.T) {
	t.Parallel()

	c := newCatalog("test")

	_, err := c.Create("wid$gets")
	require.Error(t, err)
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeInvalidCollectionName))
}

func TestCreateRejectsEmptyName(t *testing.T) {
	t.Parallel()

	c := newCatalog("test")

	_, err := c.Create("")
	require.Error(t, err)
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeEmptyNamespaceName))
}

func TestCreateRejectsTooLongName(t *testing.T) {
	t.Parallel()

	c := newCatalog("test")

	_, err := c.Create(strings.Repeat("a", MaxNamespaceLength+1))
	require.Error(t, err)
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeInvalidNamespaceLength))
}

func TestDropRestoresPriorState(t *testing.T) {
	t.Parallel()

	c := newCatalog("test")

	before := len(namespaceNames(t, c))

	_, err := c.Create("widgets")
	require.NoError(t, err)

	require.NoError(t, c.Unregister("widgets"))

	assert.Len(t, namespaceNames(t, c), before)

	_, err = c.Resolve("widgets", false)
	require.NoError(t, err)
}

func TestUnregisterMissingIsSilentNotFound(t *testing.T) {
	t.Parallel()

	c := newCatalog("test")

	err := c.Unregister("nope")
	require.Error(t, err)
	assert.True(t, mongoerrors.IsSilent(err))
	assert.True(t, mongoerrors.CodeIs(err, mongoerrors.CodeNamespaceNotFound))
}

func TestResolveOrCreateIdempotentUnderConcurrency(t *testing.T) {
	t.Parallel()

	c := newCatalog("test")

	const n = 20

	var wg sync.WaitGroup

	results := make([]interface{ GetFullName() string }, n)

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			coll, err := c.ResolveOrCreate("widgets")
			require.NoError(t, err)
			results[i] = coll
		}(i)
	}

	wg.Wait()

	first := results[0].GetFullName()
	for _, r := range results {
		assert.Equal(t, first, r.GetFullName())
	}

	assert.Equal(t, 1, c.CountIndexes())
}

func TestListCollectionsMatchesNamespaces(t *testing.T) {
	t.Parallel()

	c := newCatalog("test")

	_, err := c.Create("a")
	require.NoError(t, err)

	_, err = c.Create("b")
	require.NoError(t, err)

	assert.ElementsMatch(t, c.ListCollections(), namespaceNames2(t, c))
}

func namespaceNames2(t *testing.T, c *Catalog) []string {
	t.Helper()

	var out []string

	for _, full := range namespaceNames(t, c) {
		out = append(out, strings.TrimPrefix(full, c.name+"."))
	}

	out = append(out, NamespacesCollectionName)

	return out
}

func TestRenameWithinSameCatalog(t *testing.T) {
	t.Parallel()

	c := newCatalog("test")

	_, err := c.Create("old")
	require.NoError(t, err)

	require.NoError(t, c.Rename("old", "new"))

	_, err = c.Resolve("old", true)
	assert.Error(t, err)

	coll, err := c.Resolve("new", true)
	require.NoError(t, err)
	assert.Equal(t, "new", coll.GetCollectionName())

	assert.Contains(t, namespaceNames(t, c), "test.new")
	assert.NotContains(t, namespaceNames(t, c), "test.old")
}

func TestReopenDoesNotDuplicateNamespaceRow(t *testing.T) {
	t.Parallel()

	c := newCatalog("test")

	_, err := c.Create("widgets")
	require.NoError(t, err)

	before := namespaceNames(t, c)

	// Simulate bootstrap replay against an already-persisted collection:
	// Reopen must register it without appending another namespace row.
	delete(c.collectionsByName, "widgets")

	_, err = c.Reopen("widgets")
	require.NoError(t, err)

	assert.Equal(t, before, namespaceNames(t, c))

	// Reopen is idempotent once the collection is registered again.
	coll, err := c.Reopen("widgets")
	require.NoError(t, err)
	assert.Equal(t, "widgets", coll.GetCollectionName())
}

func TestIsSystem(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSystem("system.namespaces"))
	assert.True(t, IsSystem("system.foo"))
	assert.False(t, IsSystem("widgets"))
}

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

package filestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyages-sncf-technologies/mongo-go-server/internal/types"
)

func TestInsertPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	b, err := NewBackend(dir)
	require.NoError(t, err)

	c := b.OpenCollection("test", "widgets")

	doc, err := types.NewDocument("_id", int64(1), "name", "bolt")
	require.NoError(t, err)

	_, err = c.Insert([]*types.Document{doc})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "test", "widgets.ndjson"))

	// Reopen a fresh Backend pointed at the same directory: the document
	// should be loaded back from disk.
	b2, err := NewBackend(dir)
	require.NoError(t, err)

	c2 := b2.OpenCollection("test", "widgets")

	count, err := c2.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	docs, err := c2.QueryAll()
	require.NoError(t, err)
	require.Len(t, docs, 1)

	v, err := docs[0].Get("name")
	require.NoError(t, err)
	assert.Equal(t, "bolt", v)
}

func TestDropDatabaseRemovesFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	b, err := NewBackend(dir)
	require.NoError(t, err)

	c := b.OpenCollection("test", "widgets")

	doc, err := types.NewDocument("_id", int64(1))
	require.NoError(t, err)

	_, err = c.Insert([]*types.Document{doc})
	require.NoError(t, err)

	require.NoError(t, b.DropDatabase("test"))

	assert.NoFileExists(t, filepath.Join(dir, "test", "widgets.ndjson"))
}

func TestDeleteFlushesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	b, err := NewBackend(dir)
	require.NoError(t, err)

	c := b.OpenCollection("test", "widgets")

	doc, err := types.NewDocument("_id", int64(1))
	require.NoError(t, err)

	_, err = c.Insert([]*types.Document{doc})
	require.NoError(t, err)

	n, err := c.DeleteDocuments(types.MakeDocument(0), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	b2, err := NewBackend(dir)
	require.NoError(t, err)

	count, err := b2.OpenCollection("test", "widgets").Count()
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestGetStatsReflectsFileSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	b, err := NewBackend(dir)
	require.NoError(t, err)

	c := b.OpenCollection("test", "widgets")

	doc, err := types.NewDocument("_id", int64(1), "payload", "some data")
	require.NoError(t, err)

	_, err = c.Insert([]*types.Document{doc})
	require.NoError(t, err)

	stats, err := c.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.StorageSize, int64(0))
}

func TestRenameToMovesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	b, err := NewBackend(dir)
	require.NoError(t, err)

	c := b.OpenCollection("test", "old")

	doc, err := types.NewDocument("_id", int64(1))
	require.NoError(t, err)

	_, err = c.Insert([]*types.Document{doc})
	require.NoError(t, err)

	require.NoError(t, c.RenameTo(b, "new"))

	assert.NoFileExists(t, filepath.Join(dir, "test", "old.ndjson"))
	assert.FileExists(t, filepath.Join(dir, "test", "new.ndjson"))

	renamed := b.OpenCollection("test", "new")
	count, err := renamed.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

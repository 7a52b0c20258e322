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

package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentOrderPreserved(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument("b", int32(1), "a", int32(2))
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a"}, doc.Keys())
	assert.Equal(t, "b", doc.Command())

	require.NoError(t, doc.Set("b", int32(3)))
	assert.Equal(t, []string{"b", "a"}, doc.Keys(), "re-setting an existing key must not move it")

	v, err := doc.Get("b")
	require.NoError(t, err)
	assert.Equal(t, int32(3), v)
}

func TestDocumentRemove(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument("a", int32(1), "b", int32(2))
	require.NoError(t, err)

	assert.Equal(t, int32(1), doc.Remove("a"))
	assert.False(t, doc.Has("a"))
	assert.Equal(t, []string{"b"}, doc.Keys())
	assert.Nil(t, doc.Remove("missing"))
}

func TestNewDocumentOddArgs(t *testing.T) {
	t.Parallel()

	_, err := NewDocument("a")
	assert.Error(t, err)
}

func TestDocumentSetRejectsUnsupportedType(t *testing.T) {
	t.Parallel()

	var doc Document
	err := doc.Set("x", 42) // plain int, not int32/int64
	assert.ErrorContains(t, err, "unsupported type")
}

func TestDocumentValidateData(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		doc     func() *Document
		wantErr string
		code    ValidationErrorCode
	}{
		"Valid": {
			doc: func() *Document {
				d, err := NewDocument("_id", int32(1), "foo", "bar")
				require.NoError(t, err)
				return d
			},
		},
		"NoID": {
			doc: func() *Document {
				d, err := NewDocument("foo", "bar")
				require.NoError(t, err)
				return d
			},
			wantErr: "document must contain '_id' field",
			code:    ErrIDNotFound,
		},
		"DollarKey": {
			doc: func() *Document {
				d := MakeDocument(1)
				d.keys = append(d.keys, "$v")
				d.m = map[string]any{"$v": "bar"}
				return d
			},
			wantErr: "key must not contain $",
			code:    ErrValidation,
		},
		"InfValue": {
			doc: func() *Document {
				d := MakeDocument(1)
				d.keys = append(d.keys, "_id")
				d.m = map[string]any{"_id": math.Inf(1)}
				return d
			},
			wantErr: "infinity values are not allowed",
			code:    ErrValidation,
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := tc.doc().ValidateData()

			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.code, ve.Code())
			assert.ErrorContains(t, ve, tc.wantErr)
		})
	}
}

func TestArrayIterator(t *testing.T) {
	t.Parallel()

	arr, err := NewArray("a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, 3, arr.Len())

	it := arr.Iterator()

	var got []any
	for {
		_, v, err := it.Next()
		if err == ErrIteratorDone {
			break
		}

		require.NoError(t, err)
		got = append(got, v)
	}

	assert.Equal(t, []any{"a", "b", "c"}, got)
}

func TestObjectIDUnique(t *testing.T) {
	t.Parallel()

	a := NewObjectID()
	b := NewObjectID()
	assert.NotEqual(t, a, b)
}

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

// Package types provides the document value types that flow through the
// command core: the BSON wire codec itself is out of scope (see spec §1),
// but the catalog, error history, and aggregation planner all need some
// concrete, order-preserving value to carry namespace documents, index
// descriptors, write errors, and cursor responses.
package types

import (
	"fmt"
	"math"
	"unicode/utf8"
)

// NullType represents BSON's null value sentinel, distinct from Go's untyped nil
// so that a field explicitly set to null can be told apart from an absent field.
type NullType struct{}

// Null is the only valid value of NullType.
var Null = NullType{}

// Document is an ordered collection of key/value pairs, similar to a BSON document.
//
// Zero value is an empty document.
type Document struct {
	keys []string
	m    map[string]any
}

// NewDocument creates a new document from alternating key/value pairs.
func NewDocument(pairs ...any) (*Document, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("types.NewDocument: odd number of arguments")
	}

	d := new(Document)

	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("types.NewDocument: invalid key type: %T", pairs[i])
		}

		if err := d.Set(key, pairs[i+1]); err != nil {
			return nil, fmt.Errorf("types.NewDocument: %w", err)
		}
	}

	return d, nil
}

// MakeDocument creates an empty document with a capacity hint.
func MakeDocument(sizeHint int) *Document {
	return &Document{
		keys: make([]string, 0, sizeHint),
		m:    make(map[string]any, sizeHint),
	}
}

// Len returns the number of fields. A nil *Document has length zero.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}

	return len(d.keys)
}

// Keys returns the fields in insertion order. Callers must not mutate the result.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}

	return d.keys
}

// Map returns the underlying key/value map. Callers must not mutate the result.
func (d *Document) Map() map[string]any {
	if d == nil {
		return nil
	}

	return d.m
}

// Command returns the first key of the document, which by MongoDB wire
// protocol convention names the command being invoked.
func (d *Document) Command() string {
	if d.Len() == 0 {
		return ""
	}

	return d.keys[0]
}

// Has reports whether the field is present.
func (d *Document) Has(key string) bool {
	if d == nil {
		return false
	}

	_, ok := d.m[key]

	return ok
}

// Get returns the value of the field, or an error if it is absent.
func (d *Document) Get(key string) (any, error) {
	if !d.Has(key) {
		return nil, fmt.Errorf("types.Document.Get: key not found: %q", key)
	}

	return d.m[key], nil
}

// GetDefault returns the value of the field, or def if it is absent.
func (d *Document) GetDefault(key string, def any) any {
	if v, err := d.Get(key); err == nil {
		return v
	}

	return def
}

// Set sets the field to value, appending it if new, in place if already present.
func (d *Document) Set(key string, value any) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("types.Document.validate: %w", err)
	}

	if err := validateValue(value); err != nil {
		return fmt.Errorf("types.Document.validate: %w", err)
	}

	if d.m == nil {
		d.m = make(map[string]any)
	}

	if _, ok := d.m[key]; !ok {
		d.keys = append(d.keys, key)
	}

	d.m[key] = value

	return nil
}

// Remove deletes the field, returning its previous value (or nil if absent).
func (d *Document) Remove(key string) any {
	if !d.Has(key) {
		return nil
	}

	v := d.m[key]
	delete(d.m, key)

	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}

	return v
}

// DeepCopy returns an independent copy of the document (not recursing into
// nested values, which are treated as immutable once set).
func (d *Document) DeepCopy() *Document {
	if d == nil {
		return nil
	}

	cp := MakeDocument(d.Len())
	for _, k := range d.keys {
		_ = cp.Set(k, d.m[k])
	}

	return cp
}

// ValidateData checks the document against the subset of BSON document
// validity rules this core relies on: keys are valid UTF-8 and don't start
// with '$' (unless it's a recognized dollar-operator context, which callers
// handle themselves), float fields are not infinite (NaN is not rejected),
// and the document has an _id.
func (d *Document) ValidateData() error {
	for _, k := range d.keys {
		if !utf8.ValidString(k) {
			return &ValidationError{code: ErrValidation, reason: fmt.Errorf("invalid key: %q (not a valid UTF-8 string)", k)}
		}

		if len(k) > 0 && k[0] == '$' {
			return &ValidationError{code: ErrValidation, reason: fmt.Errorf("invalid key: %q (key must not contain $)", k)}
		}

		if f, ok := d.m[k].(float64); ok && math.IsInf(f, 0) {
			sign := "+"
			if f < 0 {
				sign = "-"
			}

			return &ValidationError{code: ErrValidation, reason: fmt.Errorf("invalid value: %sInf (infinity values are not allowed)", sign)}
		}
	}

	if !d.Has("_id") {
		return &ValidationError{code: ErrIDNotFound, reason: fmt.Errorf("invalid document: document must contain '_id' field")}
	}

	return nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty keys are not allowed")
	}

	return nil
}

// validateValue checks that value is one of the types this core's documents
// may carry. The BSON operator/type system itself is out of scope (§1); this
// is only the closed set the catalog and handlers actually produce.
func validateValue(value any) error {
	switch value.(type) {
	case string, int32, int64, float64, bool, NullType, ObjectID,
		*Document, *Array:
		return nil
	case nil:
		return fmt.Errorf("unsupported type: <nil> (<nil>)")
	default:
		return fmt.Errorf("unsupported type: %T (%v)", value, value)
	}
}

// Array is an ordered, possibly heterogeneous, list of values.
type Array struct {
	s []any
}

// NewArray creates a new array from the given values.
func NewArray(values ...any) (*Array, error) {
	a := MakeArray(len(values))
	for _, v := range values {
		if err := a.Append(v); err != nil {
			return nil, fmt.Errorf("types.NewArray: %w", err)
		}
	}

	return a, nil
}

// MakeArray creates an empty array with a capacity hint.
func MakeArray(sizeHint int) *Array {
	return &Array{s: make([]any, 0, sizeHint)}
}

// Len returns the number of elements.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}

	return len(a.s)
}

// Append adds a value to the end of the array.
func (a *Array) Append(value any) error {
	if err := validateValue(value); err != nil {
		return fmt.Errorf("types.Array.validate: %w", err)
	}

	a.s = append(a.s, value)

	return nil
}

// Get returns the element at index i.
func (a *Array) Get(i int) (any, error) {
	if a == nil || i < 0 || i >= len(a.s) {
		return nil, fmt.Errorf("types.Array.Get: index out of bounds: %d", i)
	}

	return a.s[i], nil
}

// Slice returns the underlying values. Callers must not mutate the result.
func (a *Array) Slice() []any {
	if a == nil {
		return nil
	}

	return a.s
}

// Iterator returns a simple, finite, non-restartable iterator over the array.
func (a *Array) Iterator() *ArrayIterator {
	return &ArrayIterator{a: a}
}

// ArrayIterator iterates over an Array's elements in order.
type ArrayIterator struct {
	a   *Array
	pos int
}

// ErrIteratorDone is returned by Next once the iterator is exhausted.
var ErrIteratorDone = fmt.Errorf("iterator is done")

// Next returns the next (index, value) pair, or ErrIteratorDone.
func (it *ArrayIterator) Next() (int, any, error) {
	if it.a == nil || it.pos >= len(it.a.s) {
		return 0, nil, ErrIteratorDone
	}

	i := it.pos
	v := it.a.s[i]
	it.pos++

	return i, v, nil
}

// Close is a no-op; kept to mirror the teacher's iterator.Interface shape.
func (it *ArrayIterator) Close() {}

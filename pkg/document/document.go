/*
 * Copyright 2025 The Aozora Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package document provides the schemaless document representation used by
// the catalog and the change detection engine that compares two snapshots
// of it. A document is a string-keyed mapping of scalars, arrays and nested
// mappings; no fixed schema is assumed.
package document

import (
	"reflect"
)

// Document is a snapshot of one entity's public state at a point in time.
type Document map[string]any

// removed is the type of the Removed sentinel.
type removed struct{}

// String returns a printable representation for logs and test failures.
func (removed) String() string {
	return "<removed>"
}

// Removed marks a field as no longer defined. It is distinct from a literal
// nil so stores can translate it into an unset operation instead of writing
// a null value.
var Removed = removed{}

// IsRemoved returns true if the given value is the removal marker.
func IsRemoved(v any) bool {
	_, ok := v.(removed)
	return ok
}

// DeepCopy returns a deep copy of this document. Nested mappings and arrays
// are copied; scalar values are shared.
func (d Document) DeepCopy() Document {
	if d == nil {
		return nil
	}

	clone := make(Document, len(d))
	for key, value := range d {
		clone[key] = deepCopyValue(value)
	}
	return clone
}

// Get returns the value at the given key and whether it is defined.
func (d Document) Get(key string) (any, bool) {
	v, ok := d[key]
	return v, ok
}

// IsEmpty returns true if the document holds no defined field at any depth.
func (d Document) IsEmpty() bool {
	for _, value := range d {
		if sub, ok := asDocument(value); ok {
			if !sub.IsEmpty() {
				return false
			}
			continue
		}
		return false
	}
	return true
}

// Apply returns a copy of this document with the given change-set applied.
// A Removed value deletes the field, a nested change-set updates the nested
// document in place, anything else replaces the field wholesale.
func (d Document) Apply(changes Document) Document {
	applied := d.DeepCopy()
	if applied == nil {
		applied = Document{}
	}

	for key, value := range changes {
		if IsRemoved(value) {
			delete(applied, key)
			continue
		}

		change, changeIsDoc := asDocument(value)
		existing, existingIsDoc := asDocument(applied[key])
		if changeIsDoc && existingIsDoc {
			applied[key] = existing.Apply(change)
			continue
		}

		applied[key] = deepCopyValue(value)
	}

	return applied
}

// Merge returns a copy of base with overlay's top-level fields laid over it.
// It is a shallow merge: the moderation CHANGE action replaces whole fields,
// it does not splice nested keys.
func Merge(base, overlay Document) Document {
	merged := base.DeepCopy()
	if merged == nil {
		merged = Document{}
	}
	for key, value := range overlay {
		merged[key] = deepCopyValue(value)
	}
	return merged
}

// AsDocument converts a mapping value to Document regardless of its
// concrete map type. It returns false for non-mapping values.
func AsDocument(v any) (Document, bool) {
	return asDocument(v)
}

// AsArray returns the elements of an array value of any slice type. It
// returns false for non-array values; strings and byte slices are scalars.
func AsArray(v any) ([]any, bool) {
	return arrayElements(v)
}

// asDocument converts mapping values to Document regardless of whether they
// were built as Document, a plain map, or a named map type such as the one
// BSON decoding produces.
func asDocument(v any) (Document, bool) {
	switch typed := v.(type) {
	case Document:
		return typed, true
	case map[string]any:
		return Document(typed), true
	}

	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}

	doc := make(Document, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		doc[iter.Key().String()] = iter.Value().Interface()
	}
	return doc, true
}

func deepCopyValue(v any) any {
	if doc, ok := asDocument(v); ok {
		return doc.DeepCopy()
	}

	if elems, ok := arrayElements(v); ok {
		copied := make([]any, len(elems))
		for i, elem := range elems {
			copied[i] = deepCopyValue(elem)
		}
		return copied
	}

	return v
}

// arrayElements returns the elements of v if v is a slice or array of any
// element type. Strings and byte slices are not treated as arrays.
func arrayElements(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if typed, ok := v.([]any); ok {
		return typed, true
	}
	if _, ok := v.([]byte); ok {
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	elems := make([]any, rv.Len())
	for i := range elems {
		elems[i] = rv.Index(i).Interface()
	}
	return elems, true
}

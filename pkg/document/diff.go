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

package document

import (
	"reflect"
	"strings"
	gotime "time"

	"github.com/aozora-team/aozora/pkg/errors"
)

// ErrUnsupportedArrayDiff is returned when structural array diffing is
// requested. Arrays of mappings or nested arrays have no general equality
// rule here; callers that need them must compare such fields themselves.
var ErrUnsupportedArrayDiff = errors.Unimplemented(
	"diff of arrays with nested elements is not supported",
).WithCode("ErrUnsupportedArrayDiff")

// ChangeSet pairs the fields that changed between two snapshots with their
// prior values. A field key appears in Changes iff it appears in Before, so
// a change-set is always sufficient to revert itself.
type ChangeSet struct {
	// Changes maps each changed field to its new value, or to Removed when
	// the field is no longer defined.
	Changes Document

	// Before maps each changed field to its prior value, or to Removed when
	// the field was not defined before.
	Before Document
}

// IsEmpty returns true if the change-set records no change at any depth.
func (c *ChangeSet) IsEmpty() bool {
	return c == nil || c.Changes.IsEmpty()
}

// Diff compares two snapshots and returns the change-set between them, or
// nil when nothing changed. Keys listed in ignoreKeys are skipped by bare
// name at every recursion level, not by path.
//
// Comparison rules per key present in either snapshot:
//   - defined before, absent after: recorded as Removed, not silently dropped
//   - both nested mappings: recurse, nest only non-empty results
//   - either an array: order- and duplicate-insensitive set equality over
//     scalar elements, whole-array replacement on mismatch; nested elements
//     fail with ErrUnsupportedArrayDiff
//   - both strings: compared after trimming, a value that trims to empty is
//     recorded as Removed
//   - otherwise: identity comparison, with numeric widening and time.Equal
//
// A key present only in the after snapshot goes through the same comparison
// against an absent value; absence never panics.
func Diff(before, after Document, ignoreKeys []string) (*ChangeSet, error) {
	ignored := make(map[string]struct{}, len(ignoreKeys))
	for _, key := range ignoreKeys {
		ignored[key] = struct{}{}
	}

	cs := &ChangeSet{Changes: Document{}, Before: Document{}}

	for key := range keyUnion(before, after) {
		if _, skip := ignored[key]; skip {
			continue
		}

		beforeValue, hadBefore := before[key]
		afterValue, hasAfter := after[key]

		if err := diffValue(cs, key, beforeValue, hadBefore, afterValue, hasAfter, ignoreKeys); err != nil {
			return nil, err
		}
	}

	if cs.IsEmpty() {
		return nil, nil
	}
	return cs, nil
}

func keyUnion(before, after Document) map[string]struct{} {
	union := make(map[string]struct{}, len(before)+len(after))
	for key := range before {
		union[key] = struct{}{}
	}
	for key := range after {
		union[key] = struct{}{}
	}
	return union
}

func diffValue(
	cs *ChangeSet,
	key string,
	beforeValue any,
	hadBefore bool,
	afterValue any,
	hasAfter bool,
	ignoreKeys []string,
) error {
	// Defined before, no longer defined after.
	if hadBefore && !hasAfter {
		cs.record(key, Removed, beforeValue, hadBefore)
		return nil
	}

	beforeDoc, beforeIsDoc := asDocument(beforeValue)
	afterDoc, afterIsDoc := asDocument(afterValue)
	if hadBefore && beforeIsDoc && afterIsDoc {
		sub, err := Diff(beforeDoc, afterDoc, ignoreKeys)
		if err != nil {
			return err
		}
		if sub != nil {
			cs.Changes[key] = sub.Changes
			cs.Before[key] = sub.Before
		}
		return nil
	}

	beforeElems, beforeIsArray := arrayElements(beforeValue)
	afterElems, afterIsArray := arrayElements(afterValue)
	if hadBefore && beforeIsArray && afterIsArray {
		equal, err := scalarSetsEqual(beforeElems, afterElems)
		if err != nil {
			return err
		}
		if !equal {
			cs.record(key, deepCopyValue(afterValue), beforeValue, hadBefore)
		}
		return nil
	}
	// Reject nested elements even when only one side is an array; a silent
	// whole-array replacement would hide a structural mismatch.
	if beforeIsArray {
		if err := requireScalarElements(beforeElems); err != nil {
			return err
		}
	}
	if afterIsArray {
		if err := requireScalarElements(afterElems); err != nil {
			return err
		}
	}

	beforeStr, beforeIsStr := beforeValue.(string)
	afterStr, afterIsStr := afterValue.(string)
	if hadBefore && beforeIsStr && afterIsStr {
		beforeTrimmed := strings.TrimSpace(beforeStr)
		afterTrimmed := strings.TrimSpace(afterStr)
		if beforeTrimmed == afterTrimmed {
			return nil
		}
		if afterTrimmed == "" {
			cs.record(key, Removed, beforeValue, hadBefore)
			return nil
		}
		cs.record(key, afterTrimmed, beforeValue, hadBefore)
		return nil
	}
	// A string introduced against an absent value is recorded trimmed, and
	// one that trims to empty is not a change at all.
	if !hadBefore && afterIsStr {
		if trimmed := strings.TrimSpace(afterStr); trimmed != "" {
			cs.record(key, trimmed, beforeValue, hadBefore)
		}
		return nil
	}

	// Structural mismatch (mapping or array on one side only, including
	// against an absent value) is a whole-value replacement.
	if beforeIsDoc != afterIsDoc || beforeIsArray != afterIsArray {
		cs.record(key, deepCopyValue(afterValue), beforeValue, hadBefore)
		return nil
	}

	if !scalarEqual(beforeValue, afterValue) {
		cs.record(key, deepCopyValue(afterValue), beforeValue, hadBefore)
	}
	return nil
}

// record writes one changed field, keeping the Changes/Before pairing
// invariant. An absent prior value is recorded as Removed.
func (c *ChangeSet) record(key string, change any, beforeValue any, hadBefore bool) {
	c.Changes[key] = change
	if hadBefore {
		c.Before[key] = deepCopyValue(beforeValue)
	} else {
		c.Before[key] = Removed
	}
}

// scalarSetsEqual reports set equality of two arrays after de-duplication,
// insensitive to order and element multiplicity.
func scalarSetsEqual(before, after []any) (bool, error) {
	beforeSet, err := scalarSet(before)
	if err != nil {
		return false, err
	}
	afterSet, err := scalarSet(after)
	if err != nil {
		return false, err
	}

	if len(beforeSet) != len(afterSet) {
		return false, nil
	}
	for elem := range beforeSet {
		if _, ok := afterSet[elem]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func scalarSet(elems []any) (map[any]struct{}, error) {
	set := make(map[any]struct{}, len(elems))
	for _, elem := range elems {
		if err := requireScalarElements([]any{elem}); err != nil {
			return nil, err
		}
		normalized := normalizeScalar(elem)
		if !comparableValue(normalized) {
			return nil, ErrUnsupportedArrayDiff
		}
		set[normalized] = struct{}{}
	}
	return set, nil
}

func requireScalarElements(elems []any) error {
	for _, elem := range elems {
		if _, isDoc := asDocument(elem); isDoc {
			return ErrUnsupportedArrayDiff
		}
		if _, isArray := arrayElements(elem); isArray {
			return ErrUnsupportedArrayDiff
		}
	}
	return nil
}

// scalarEqual compares two scalar values for identity. Numeric values are
// widened before comparing so an int64 read back from storage still equals
// the int it was written as, and times compare by instant.
func scalarEqual(a, b any) bool {
	if aTime, ok := a.(gotime.Time); ok {
		bTime, ok := b.(gotime.Time)
		return ok && aTime.Equal(bTime)
	}

	na, aIsNum := normalizeNumber(a)
	nb, bIsNum := normalizeNumber(b)
	if aIsNum && bIsNum {
		return na == nb
	}

	normalizedA := normalizeScalar(a)
	normalizedB := normalizeScalar(b)
	if !comparableValue(normalizedA) || !comparableValue(normalizedB) {
		return reflect.DeepEqual(normalizedA, normalizedB)
	}
	return normalizedA == normalizedB
}

func comparableValue(v any) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable()
}

func normalizeScalar(v any) any {
	if n, ok := normalizeNumber(v); ok {
		return n
	}
	if s, ok := v.(string); ok {
		return s
	}
	return v
}

func normalizeNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

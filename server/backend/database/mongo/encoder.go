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

package mongo

import (
	"github.com/aozora-team/aozora/pkg/document"
)

// Change-sets carry the removal marker, which BSON cannot represent. It is
// stored as null and mapped back on load; catalog documents never store
// literal nulls, so the mapping is unambiguous.

// encodeChanges returns a copy of the change-set with removal markers
// replaced by nulls for storage.
func encodeChanges(changes document.Document) document.Document {
	if changes == nil {
		return nil
	}

	encoded := make(document.Document, len(changes))
	for key, value := range changes {
		if document.IsRemoved(value) {
			encoded[key] = nil
			continue
		}
		if sub, ok := document.AsDocument(value); ok {
			encoded[key] = encodeChanges(sub)
			continue
		}
		encoded[key] = value
	}
	return encoded
}

// decodeChanges maps stored nulls back to removal markers.
func decodeChanges(changes document.Document) document.Document {
	if changes == nil {
		return nil
	}

	decoded := make(document.Document, len(changes))
	for key, value := range changes {
		if value == nil {
			decoded[key] = document.Removed
			continue
		}
		if sub, ok := document.AsDocument(value); ok {
			decoded[key] = decodeChanges(sub)
			continue
		}
		decoded[key] = value
	}
	return decoded
}

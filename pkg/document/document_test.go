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

package document_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aozora-team/aozora/pkg/document"
)

func TestDocument(t *testing.T) {
	t.Run("deep copy does not share nested state test", func(t *testing.T) {
		doc := document.Document{
			"names": document.Document{"en": "Akira"},
			"tags":  []any{"movie"},
		}

		clone := doc.DeepCopy()
		clone["names"].(document.Document)["en"] = "Metropolis"
		clone["tags"].([]any)[0] = "series"

		assert.Equal(t, "Akira", doc["names"].(document.Document)["en"])
		assert.Equal(t, "movie", doc["tags"].([]any)[0])
	})

	t.Run("apply replaces removes and recurses test", func(t *testing.T) {
		doc := document.Document{
			"title": "Akira",
			"year":  1988,
			"names": document.Document{"en": "Akira", "ja": "アキラ"},
		}

		applied := doc.Apply(document.Document{
			"year":  document.Removed,
			"names": document.Document{"en": "AKIRA"},
			"stars": 5,
		})

		_, hasYear := applied["year"]
		assert.False(t, hasYear)
		assert.Equal(t, 5, applied["stars"])
		assert.Equal(t, "AKIRA", applied["names"].(document.Document)["en"])
		assert.Equal(t, "アキラ", applied["names"].(document.Document)["ja"])

		// The source document is untouched.
		assert.Equal(t, 1988, doc["year"])
	})

	t.Run("merge lays fields over shallowly test", func(t *testing.T) {
		base := document.Document{
			"title": "Akira",
			"names": document.Document{"en": "Akira", "ja": "アキラ"},
		}

		merged := document.Merge(base, document.Document{
			"names": document.Document{"en": "AKIRA"},
		})

		// A shallow merge replaces the nested document wholesale.
		assert.Equal(t, document.Document{"en": "AKIRA"}, merged["names"])
		assert.Equal(t, "Akira", merged["title"])
	})

	t.Run("is empty looks through nested documents test", func(t *testing.T) {
		assert.True(t, document.Document{}.IsEmpty())
		assert.True(t, document.Document{"names": document.Document{}}.IsEmpty())
		assert.False(t, document.Document{"names": document.Document{"en": "x"}}.IsEmpty())
	})

	t.Run("as document accepts named map types test", func(t *testing.T) {
		type bsonM map[string]any

		doc, ok := document.AsDocument(bsonM{"title": "Akira"})
		assert.True(t, ok)
		assert.Equal(t, "Akira", doc["title"])

		_, ok = document.AsDocument([]any{"not", "a", "map"})
		assert.False(t, ok)
	})
}

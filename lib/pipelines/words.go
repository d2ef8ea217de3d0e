// Copyright 2025 Antfly, Inc.
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

package pipelines

import "regexp"

// Word is a contiguous word-like unit of the input text with its byte
// offsets. Start is inclusive, End exclusive, so the unit can be recovered
// as text[Start:End].
type Word struct {
	Text  string
	Start int
	End   int
}

// wordPattern matches word-like units in priority order: URLs, email
// addresses, @-mention handles, maximal runs of alphanumeric/underscore/
// hyphen characters, and finally any single non-whitespace character.
// Go's regexp alternation is leftmost-first, so earlier alternatives win
// when several could match at the same position.
var wordPattern = regexp.MustCompile(
	`https?://\S+` +
		`|www\.\S+` +
		`|[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}` +
		`|@[A-Za-z0-9_]+` +
		`|[\p{L}\p{N}_-]+` +
		`|\S`,
)

// SplitWords segments text into word-like units with byte offsets into the
// original string. The result is freshly allocated on every call and the
// split is deterministic: the same text always yields the same units at the
// same offsets. No normalization (case folding, accent stripping) happens
// here; callers that want lower-cased input must lower-case before calling.
// Whitespace is never part of a unit and is never silently merged into one.
func SplitWords(text string) []Word {
	matches := wordPattern.FindAllStringIndex(text, -1)
	words := make([]Word, 0, len(matches))
	for _, m := range matches {
		words = append(words, Word{
			Text:  text[m[0]:m[1]],
			Start: m[0],
			End:   m[1],
		})
	}
	return words
}

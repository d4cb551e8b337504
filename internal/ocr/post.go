// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ocr

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloudwego/captioner/internal/pipeline/steps"
)

// PostProcessing cleans recognized lines. Steps run in field order.
type PostProcessing struct {
	// MinTextLength counts runes of the trimmed text.
	MinTextLength      int
	RemoveSpecialChars bool
	// AllowedChars survive RemoveSpecialChars besides letters, digits and spaces.
	AllowedChars     string
	StripWhitespace  bool
	Lowercase        bool
	RemoveDuplicates bool
}

func (p PostProcessing) Apply(in []steps.TextElement) []steps.TextElement {
	out := make([]steps.TextElement, 0, len(in))
	seen := make(map[string]bool)
	for _, e := range in {
		if utf8.RuneCountInString(strings.TrimSpace(e.Text)) < p.MinTextLength {
			continue
		}
		if p.RemoveSpecialChars {
			e.Text = strings.Map(func(r rune) rune {
				if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || strings.ContainsRune(p.AllowedChars, r) {
					return r
				}
				return -1
			}, e.Text)
		}
		if p.StripWhitespace {
			e.Text = strings.TrimSpace(e.Text)
		}
		if p.Lowercase {
			e.Text = strings.ToLower(e.Text)
		}
		if p.RemoveDuplicates {
			if seen[e.Text] {
				continue
			}
			seen[e.Text] = true
		}
		out = append(out, e)
	}
	return out
}

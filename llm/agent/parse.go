/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/cloudwego/captioner/internal/pipeline/steps"
)

var (
	// "**Description**: ...", "2. Scene:", "### Story"
	sectionHeader = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:\d+[.)]\s*)?(\*\*)?\s*(description|scene|text|story)\s*(\*\*)?\s*(:)?\s*(?:\*\*)?\s*(.*)$`)
	blankLines    = regexp.MustCompile(`\n\s*\n`)
)

// ParseAnalysis splits a vision answer into its sections. An answer without
// recognizable headers becomes the description.
func ParseAnalysis(resp string) *steps.Analysis {
	a := &steps.Analysis{RawResponse: resp}
	sections := map[string]*string{
		"description": &a.Description,
		"scene":       &a.Scene,
		"text":        &a.Text,
		"story":       &a.Story,
	}

	var (
		cur string
		buf []string
	)
	flush := func() {
		if cur != "" && len(buf) > 0 {
			*sections[cur] = strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(buf, "\n"), "\n"))
		}
		buf = buf[:0]
	}
	for _, line := range strings.Split(resp, "\n") {
		if m := sectionHeader.FindStringSubmatch(line); m != nil && isHeader(line, m) {
			flush()
			cur = strings.ToLower(m[2])
			if rest := strings.TrimSpace(m[5]); rest != "" {
				buf = append(buf, rest)
			}
			continue
		}
		if cur != "" {
			buf = append(buf, line)
		}
	}
	flush()

	if a.Description == "" && a.Scene == "" && a.Text == "" && a.Story == "" {
		a.Description = strings.TrimSpace(resp)
	}
	return a
}

// isHeader rejects prose that merely starts with a section word, like
// "Text on the sign is faded".
func isHeader(line string, m []string) bool {
	bold := m[1] != "" || m[3] != ""
	colon := m[4] != ""
	heading := strings.HasPrefix(strings.TrimSpace(line), "#")
	bare := strings.TrimSpace(m[5]) == ""
	return colon || bold || heading || bare
}

// ParseCorrection reads the CORRECTED TEXT / CHANGES / CONFIDENCE blocks. An
// unstructured answer is taken as the corrected text.
func ParseCorrection(resp string) *steps.Correction {
	c := &steps.Correction{Confidence: "unknown", RawResponse: resp}
	if _, after, ok := strings.Cut(resp, "CORRECTED TEXT:"); ok {
		before, _, _ := strings.Cut(after, "CHANGES:")
		c.CorrectedText = strings.TrimSpace(before)
	}
	if _, after, ok := strings.Cut(resp, "CHANGES:"); ok {
		before, _, _ := strings.Cut(after, "CONFIDENCE:")
		c.Changes = strings.TrimSpace(before)
	}
	if _, after, ok := strings.Cut(resp, "CONFIDENCE:"); ok {
		low := strings.ToLower(after)
		switch {
		case strings.Contains(low, "high"):
			c.Confidence = "high"
		case strings.Contains(low, "medium"):
			c.Confidence = "medium"
		case strings.Contains(low, "low"):
			c.Confidence = "low"
		}
	}
	if c.CorrectedText == "" {
		c.CorrectedText = strings.TrimSpace(resp)
		c.Changes = "Unable to parse structured response"
		c.Confidence = "unknown"
	}
	return c
}

// Language is the answer of the language detection prompt.
type Language struct {
	Name             string
	Code             string
	NeedsTranslation bool
	TextToTranslate  string
}

var (
	reLang  = regexp.MustCompile(`"language"\s*:\s*"([^"]*)"`)
	reCode  = regexp.MustCompile(`"code"\s*:\s*"([^"]*)"`)
	reNeeds = regexp.MustCompile(`"needs_translation"\s*:\s*"?(true|false)"?`)
	reText  = regexp.MustCompile(`"text_to_translate"\s*:\s*"([^"]*)"`)
)

// ParseLanguage reads the JSON answer of the language prompt, tolerating code
// fences and quoted booleans. Without an explicit needs_translation the text
// needs translation when its language is not English.
func ParseLanguage(resp string) Language {
	lang := Language{Name: "unknown"}
	var (
		needs    bool
		hasNeeds bool
	)

	var raw struct {
		Language        string `json:"language"`
		Code            string `json:"code"`
		Needs           any    `json:"needs_translation"`
		TextToTranslate string `json:"text_to_translate"`
	}
	start, end := strings.Index(resp, "{"), strings.LastIndex(resp, "}")
	if start >= 0 && end > start && json.Unmarshal([]byte(resp[start:end+1]), &raw) == nil {
		lang.Name, lang.Code, lang.TextToTranslate = raw.Language, raw.Code, raw.TextToTranslate
		switch v := raw.Needs.(type) {
		case bool:
			needs, hasNeeds = v, true
		case string:
			needs, hasNeeds = strings.EqualFold(v, "true"), v != ""
		}
	} else {
		if m := reLang.FindStringSubmatch(resp); m != nil {
			lang.Name = m[1]
		}
		if m := reCode.FindStringSubmatch(resp); m != nil {
			lang.Code = m[1]
		}
		if m := reNeeds.FindStringSubmatch(resp); m != nil {
			needs, hasNeeds = m[1] == "true", true
		}
		if m := reText.FindStringSubmatch(resp); m != nil {
			lang.TextToTranslate = m[1]
		}
		if lang.Name == "unknown" && strings.Contains(strings.ToLower(resp), "english") {
			lang.Name, lang.Code = "English", "en"
		}
	}
	if lang.Name == "" {
		lang.Name = "unknown"
	}

	if hasNeeds {
		lang.NeedsTranslation = needs
	} else {
		lang.NeedsTranslation = !isEnglish(lang)
	}
	return lang
}

func isEnglish(l Language) bool {
	code := strings.ToLower(l.Code)
	name := strings.ToLower(l.Name)
	switch {
	case code != "":
		return code == "en" || code == "eng"
	case name != "" && name != "unknown":
		return strings.Contains(name, "english")
	}
	// nothing detected: do not translate
	return true
}

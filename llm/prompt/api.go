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

package prompt

import (
	"bytes"
	_ "embed"
	"os"
	"text/template"
)

type Prompt interface {
	String() string
}

type TextPrompt string

func (p TextPrompt) String() string {
	return string(p)
}

func NewTextPrompt(content string) Prompt {
	return TextPrompt(content)
}

// Template renders a Go template with the data of one request.
type Template struct {
	tpl *template.Template
}

func MustParse(name, text string) *Template {
	return &Template{tpl: template.Must(template.New(name).Parse(text))}
}

// ParseFile loads a user supplied template from disk.
func ParseFile(path string) (*Template, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tpl, err := template.New(path).Parse(string(bs))
	if err != nil {
		return nil, err
	}
	return &Template{tpl: tpl}, nil
}

func (t *Template) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

//go:embed image_agent.md
var PromptImageAgent string

//go:embed text_agent.md
var promptTextAgent string

//go:embed language.md
var promptLanguage string

//go:embed translator.md
var promptTranslator string

var (
	// TextAgent takes TextData.
	TextAgent = MustParse("text_agent", promptTextAgent)
	// Language takes LanguageData.
	Language = MustParse("language", promptLanguage)
	// Translator takes TranslatorData.
	Translator = MustParse("translator", promptTranslator)
)

type TextData struct {
	Text        string
	Description string
	Scene       string
	VisionText  string
}

type LanguageData struct {
	Text string
}

type TranslatorData struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
}

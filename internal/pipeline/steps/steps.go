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

// Package steps holds the caption pipeline steps. Each step talks to its
// backing engine through a small interface so engines can be swapped or faked.
package steps

import (
	"context"
	"image"

	"github.com/cloudwego/captioner/internal/pipeline"
)

// TextElement is one piece of text found by a text extractor.
type TextElement struct {
	Text       string
	Confidence float64
	Box        image.Rectangle
}

type Extraction struct {
	Elements []TextElement
	Model    string
}

// TextExtractor finds text in an image file.
type TextExtractor interface {
	Extract(ctx context.Context, imagePath string) (*Extraction, error)
}

type VisionRequest struct {
	ImagePath string
	Image     []byte
	MimeType  string
	// Model overrides the analyzer's default model when set.
	Model string
}

type Analysis struct {
	Description    string
	Scene          string
	Text           string
	Story          string
	RawResponse    string
	Model          string
	ProcessingTime float64
}

// VisionAnalyzer describes an image with a vision model.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, req VisionRequest) (*Analysis, error)
}

type CorrectionRequest struct {
	Text string
	// Context is the vision analysis of the same image, when available.
	Context *Analysis
	Model   string
}

type Correction struct {
	CorrectedText    string
	Changes          string
	Confidence       string
	PrimaryText      string
	Language         string
	LanguageCode     string
	NeedsTranslation bool
	TextToTranslate  string
	RawResponse      string
	Model            string
	ProcessingTime   float64
}

// TextCorrector fixes recognition errors and detects the text's language.
type TextCorrector interface {
	Correct(ctx context.Context, req CorrectionRequest) (*Correction, error)
}

type TranslationRequest struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
	Model          string
}

type Translation struct {
	TranslatedText string
	SourceLanguage string
	TargetLanguage string
	Model          string
	ProcessingTime float64
}

type Translator interface {
	Translate(ctx context.Context, req TranslationRequest) (*Translation, error)
}

// Aggregator merges every step's payload into the final record of an item.
type Aggregator interface {
	Aggregate(ctx context.Context, in pipeline.Input) (pipeline.Payload, error)
}

// Resizer returns an encoded, downscaled copy of an image.
type Resizer interface {
	Resize(ctx context.Context, imagePath string) (data []byte, mimeType string, err error)
}

// Engines are the collaborators of the steps. A nil engine drops its step.
type Engines struct {
	OCR        TextExtractor
	Vision     VisionAnalyzer
	Resizer    Resizer
	Corrector  TextCorrector
	Translator Translator
	Aggregator Aggregator
}

// Options toggles steps and selects models, per run or per request.
type Options struct {
	OCR         bool
	Vision      bool
	Correction  bool
	Translation bool
	Aggregation bool

	VisionModel      string
	TextModel        string
	TranslationModel string

	LineSeparator  string
	TargetLanguage string
}

func DefaultOptions() Options {
	return Options{
		OCR:            true,
		Vision:         true,
		Correction:     true,
		Translation:    true,
		Aggregation:    true,
		LineSeparator:  " ",
		TargetLanguage: "English",
	}
}

// Build returns the enabled steps in pipeline order. Disabled steps and steps
// without an engine are left out of the sequence entirely.
func Build(opts Options, eng Engines) []pipeline.Step {
	var out []pipeline.Step
	if opts.OCR && eng.OCR != nil {
		out = append(out, &OCRStep{Engine: eng.OCR, Separator: opts.LineSeparator})
	}
	if opts.Vision && eng.Vision != nil {
		out = append(out, &VisionStep{Engine: eng.Vision, Resizer: eng.Resizer, Model: opts.VisionModel})
	}
	if opts.Correction && eng.Corrector != nil {
		out = append(out, &CorrectionStep{Engine: eng.Corrector, Model: opts.TextModel})
	}
	if opts.Translation && eng.Translator != nil {
		out = append(out, &TranslationStep{Engine: eng.Translator, Model: opts.TranslationModel, Target: opts.TargetLanguage})
	}
	if opts.Aggregation && eng.Aggregator != nil {
		out = append(out, &AggregateStep{Engine: eng.Aggregator})
	}
	return out
}

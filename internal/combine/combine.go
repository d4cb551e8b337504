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

// Package combine merges the outputs of every step into the record that is
// handed to users of the pipeline.
package combine

import (
	"context"
	"math"
	"path/filepath"
	"time"

	"github.com/cloudwego/captioner/internal/pipeline"
)

const timeLayout = "2006-01-02 15:04:05"

// Combiner builds the final record of an item. It never fails: sections of
// missing steps are filled with empty values and a note.
type Combiner struct {
	Now func() time.Time
}

func New() *Combiner {
	return &Combiner{Now: time.Now}
}

func (c *Combiner) Aggregate(_ context.Context, in pipeline.Input) (pipeline.Payload, error) {
	ocr, _ := in.Result(pipeline.StepOCR)
	vision, _ := in.Result(pipeline.StepVision)
	text, _ := in.Result(pipeline.StepCorrection)
	tr, _ := in.Result(pipeline.StepTranslation)

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	out := pipeline.Payload{
		"image_file":      filepath.Base(in.ItemKey),
		"image_path":      in.ItemKey,
		"processed_at":    now().Format(timeLayout),
		"processing_time": math.Round(in.ProcessingTime*1000) / 1000,
		"ocr":             ocrSection(ocr),
		"image_analysis":  visionSection(vision),
		"text_processing": textSection(text),
		"translation":     translationSection(tr),
	}
	unified := unifiedText(ocr, vision, text)
	out["unified_text"] = unified
	out["summary"] = summary(out, unified)
	if len(in.Errors) > 0 {
		errs := make(map[string]any, len(in.Errors))
		for step, msg := range in.Errors {
			errs[step] = msg
		}
		out["errors"] = errs
	}
	return out, nil
}

func ocrSection(p pipeline.Payload) map[string]any {
	if p == nil {
		return map[string]any{
			"full_text":      "",
			"text_lines":     []any{},
			"total_elements": 0,
			"note":           "OCR processing was disabled or failed",
		}
	}
	lines, _ := p["text_lines"].([]any)
	if lines == nil {
		lines = []any{}
	}
	return map[string]any{
		"full_text":      p.String("full_text"),
		"text_lines":     lines,
		"total_elements": int(p.Float("total_elements")),
		"avg_confidence": p.Float("avg_confidence"),
		"min_confidence": p.Float("min_confidence"),
		"max_confidence": p.Float("max_confidence"),
	}
}

func visionSection(p pipeline.Payload) map[string]any {
	out := map[string]any{
		"description": p.String("description"),
		"scene":       p.String("scene"),
		"text":        p.String("text"),
		"story":       p.String("story"),
	}
	if p == nil {
		out["note"] = "Image analysis was disabled or failed"
	}
	return out
}

func textSection(p pipeline.Payload) map[string]any {
	if p == nil {
		return map[string]any{
			"corrected_text": "",
			"changes":        "",
			"confidence":     "unknown",
			"note":           "Text processing was disabled or failed",
		}
	}
	conf := p.String("confidence")
	if conf == "" {
		conf = "unknown"
	}
	return map[string]any{
		"corrected_text":    p.String("corrected_text"),
		"changes":           p.String("changes"),
		"confidence":        conf,
		"language":          p.String("language"),
		"language_code":     p.String("language_code"),
		"needs_translation": p.Bool("needs_translation"),
	}
}

func translationSection(p pipeline.Payload) map[string]any {
	if p == nil {
		return map[string]any{
			"translated_text": "",
			"note":            "Translation was disabled or not needed",
		}
	}
	return map[string]any{
		"translated_text":   p.String("translated_text"),
		"source_language":   p.String("source_language"),
		"target_language":   p.String("target_language"),
		"translation_model": p.String("translation_model"),
	}
}

// unifiedText picks the best available text: corrected text, then OCR text,
// then the text the vision model read. The others are kept as alternatives.
func unifiedText(ocr, vision, text pipeline.Payload) map[string]any {
	primary, source := "", "none"
	switch {
	case text.String("corrected_text") != "":
		primary, source = text.String("corrected_text"), "text_processing"
	case ocr.String("full_text") != "":
		primary, source = ocr.String("full_text"), "ocr"
	case vision.String("text") != "":
		primary, source = vision.String("text"), "image_analysis"
	}
	alts := []any{}
	if t := ocr.String("full_text"); t != "" && source != "ocr" {
		alts = append(alts, map[string]any{"source": "ocr", "text": t})
	}
	if t := vision.String("text"); t != "" && source != "image_analysis" {
		alts = append(alts, map[string]any{"source": "image_analysis", "text": t})
	}
	return map[string]any{
		"primary_text":       primary,
		"alternative_texts":  alts,
		"recommended_source": source,
	}
}

func summary(rec pipeline.Payload, unified map[string]any) map[string]any {
	ocr := pipeline.Payload(rec["ocr"].(map[string]any))
	vision := pipeline.Payload(rec["image_analysis"].(map[string]any))
	text := pipeline.Payload(rec["text_processing"].(map[string]any))

	s := map[string]any{
		"has_ocr_data":        false,
		"has_image_analysis":  false,
		"has_text_processing": false,
		"text_sources_count":  0,
		"processing_stages":   []any{},
	}
	sources := 0
	stages := []any{}
	if ocr.Float("total_elements") > 0 {
		s["has_ocr_data"] = true
		sources++
		stages = append(stages, "ocr")
	}
	if vision.String("description") != "" || vision.String("text") != "" {
		s["has_image_analysis"] = true
		if vision.String("text") != "" {
			sources++
		}
		stages = append(stages, "image_analysis")
	}
	if text.String("corrected_text") != "" {
		s["has_text_processing"] = true
		stages = append(stages, "text_processing")
	}
	s["text_sources_count"] = sources
	s["processing_stages"] = stages
	if v := ocr.Float("avg_confidence"); v != 0 {
		s["ocr_avg_confidence"] = v
	}
	if v := text.String("confidence"); v != "" {
		s["text_processing_confidence"] = v
	}
	primary, _ := unified["primary_text"].(string)
	s["has_extracted_text"] = primary != ""
	s["text_length"] = len([]rune(primary))
	return s
}

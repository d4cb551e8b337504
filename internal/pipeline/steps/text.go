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

package steps

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/pipeline"
)

const ReasonNoText = "no text available"

// CorrectionStep cleans up recognized text. It prefers the OCR text and falls
// back to the text the vision model read from the image.
type CorrectionStep struct {
	Engine TextCorrector
	Model  string
}

func (s *CorrectionStep) Name() string { return pipeline.StepCorrection }

func (s *CorrectionStep) Inputs() []string {
	return []string{pipeline.StepOCR, pipeline.StepVision}
}

func (s *CorrectionStep) Run(ctx context.Context, in pipeline.Input) (pipeline.Payload, error) {
	ocr, _ := in.Result(pipeline.StepOCR)
	vision, _ := in.Result(pipeline.StepVision)

	text := strings.TrimSpace(ocr.String("full_text"))
	if text == "" {
		text = visibleText(vision.String("text"))
	}
	if text == "" {
		return nil, pipeline.Skip(ReasonNoText)
	}

	c, err := s.Engine.Correct(ctx, CorrectionRequest{
		Text:    text,
		Context: AnalysisFromPayload(vision),
		Model:   s.Model,
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.New("text agent returned no results")
	}
	if c.PrimaryText == "" {
		c.PrimaryText = c.CorrectedText
	}
	if c.PrimaryText == "" {
		c.PrimaryText = text
	}
	return CorrectionPayload(c), nil
}

// visibleText drops the vision model's "nothing to read" answer.
func visibleText(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(strings.TrimRight(s, "."), "no visible text") {
		return ""
	}
	return s
}

func CorrectionPayload(c *Correction) pipeline.Payload {
	return pipeline.Payload{
		"corrected_text":    c.CorrectedText,
		"changes":           c.Changes,
		"confidence":        c.Confidence,
		"primary_text":      c.PrimaryText,
		"language":          c.Language,
		"language_code":     c.LanguageCode,
		"needs_translation": c.NeedsTranslation,
		"text_to_translate": c.TextToTranslate,
		"raw_response":      c.RawResponse,
		"model":             c.Model,
		"processing_time":   c.ProcessingTime,
	}
}

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

	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/pipeline"
)

const (
	ReasonNoTextProcessing = "no text processing data"
	ReasonNoTranslation    = "translation not needed"
)

// TranslationStep only calls its engine when the correction step flagged the
// text as needing translation.
type TranslationStep struct {
	Engine Translator
	Model  string
	Target string
}

func (s *TranslationStep) Name() string     { return pipeline.StepTranslation }
func (s *TranslationStep) Inputs() []string { return []string{pipeline.StepCorrection} }

func (s *TranslationStep) Run(ctx context.Context, in pipeline.Input) (pipeline.Payload, error) {
	tp, ok := in.Result(pipeline.StepCorrection)
	if !ok {
		return nil, pipeline.Skip(ReasonNoTextProcessing)
	}
	text := tp.String("primary_text")
	if text == "" {
		text = tp.String("corrected_text")
	}
	if !tp.Bool("needs_translation") || text == "" {
		return nil, pipeline.Skip(ReasonNoTranslation)
	}

	target := s.Target
	if target == "" {
		target = "English"
	}
	tr, err := s.Engine.Translate(ctx, TranslationRequest{
		Text:           text,
		SourceLanguage: tp.String("language"),
		TargetLanguage: target,
		Model:          s.Model,
	})
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, errors.New("translator returned no results")
	}
	if tr.SourceLanguage == "" {
		tr.SourceLanguage = tp.String("language")
	}
	if tr.TargetLanguage == "" {
		tr.TargetLanguage = target
	}
	return pipeline.Payload{
		"translated_text":   tr.TranslatedText,
		"source_language":   tr.SourceLanguage,
		"target_language":   tr.TargetLanguage,
		"translation_model": tr.Model,
		"processing_time":   tr.ProcessingTime,
	}, nil
}

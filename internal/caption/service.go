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


// Package caption wires the configured engines into the pipeline and runs it
// for single images on demand.
package caption

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/config"
	"github.com/cloudwego/captioner/internal/pipeline"
	"github.com/cloudwego/captioner/internal/pipeline/steps"
	"github.com/cloudwego/captioner/internal/store"
	"github.com/cloudwego/captioner/internal/utils"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrNoSteps           = errors.New("no step enabled")
)

// Request overrides the configured step toggles and models for one image.
// Nil toggles keep the configured value.
type Request struct {
	OCR         *bool  `json:"ocr,omitempty" jsonschema:"description=run text extraction"`
	Vision      *bool  `json:"vision,omitempty" jsonschema:"description=run the vision model"`
	Text        *bool  `json:"text,omitempty" jsonschema:"description=run text correction and language detection"`
	Translation *bool  `json:"translation,omitempty" jsonschema:"description=translate non-English text"`
	VisionModel string `json:"vision_model,omitempty" jsonschema:"description=vision model name override"`
	TextModel   string `json:"text_model,omitempty" jsonschema:"description=text model name override"`
}

func (r Request) apply(o steps.Options) steps.Options {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&o.OCR, r.OCR)
	set(&o.Vision, r.Vision)
	set(&o.Correction, r.Text)
	set(&o.Translation, r.Translation)
	if r.VisionModel != "" {
		o.VisionModel = r.VisionModel
	}
	if r.TextModel != "" {
		o.TextModel = r.TextModel
		if o.TranslationModel == "" {
			o.TranslationModel = r.TextModel
		}
	}
	return o
}

// Service captions single images and looks up persisted states.
type Service struct {
	Engines  steps.Engines
	Steps    steps.Options
	Pipeline pipeline.Options
	// Store holds the states written by batch runs.
	Store   pipeline.StateStore
	Formats []string
}

func NewService(cfg *config.Config, eng steps.Engines, st pipeline.StateStore) *Service {
	return &Service{
		Engines:  eng,
		Steps:    cfg.StepOptions(),
		Pipeline: cfg.PipelineOptions(),
		Store:    st,
		Formats:  cfg.Data.SupportedFormats,
	}
}

// Caption runs the enabled steps for imagePath against a throwaway in-memory
// state and returns the final state. Step failures are recorded in the state,
// not returned.
func (s *Service) Caption(ctx context.Context, imagePath string, req Request) (*pipeline.PipelineState, error) {
	if len(s.Formats) > 0 && !utils.HasFormat(imagePath, s.Formats) {
		return nil, errors.Wrap(ErrUnsupportedFormat, imagePath)
	}
	if _, err := os.Stat(imagePath); err != nil {
		return nil, errors.Wrap(err, "stat image")
	}
	opts := s.Pipeline
	opts.Steps = steps.Build(req.apply(s.Steps), s.Engines)
	if len(opts.Steps) == 0 {
		return nil, ErrNoSteps
	}
	opts.Store = store.NewMemoryStore()
	opts.SkipIfCompleted = false

	it := pipeline.NewItemMajor(opts).ProcessItem(ctx, imagePath)
	if it.State == nil {
		return nil, errors.New(it.Err)
	}
	return it.State, nil
}

// State returns the persisted state of imagePath, nil when there is none.
func (s *Service) State(ctx context.Context, imagePath string) (*pipeline.PipelineState, error) {
	if s.Store == nil {
		return nil, nil
	}
	return s.Store.Load(ctx, imagePath)
}

// Record is the aggregated record of st, or nil when aggregation did not run.
func Record(st *pipeline.PipelineState) pipeline.Payload {
	if st == nil {
		return nil
	}
	if rec, ok := st.Results[pipeline.StepAggregation]; ok {
		return rec
	}
	return nil
}

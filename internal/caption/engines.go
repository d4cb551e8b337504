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


package caption

import (
	"fmt"

	"github.com/cloudwego/captioner/internal/combine"
	"github.com/cloudwego/captioner/internal/config"
	"github.com/cloudwego/captioner/internal/imaging"
	"github.com/cloudwego/captioner/internal/ocr"
	"github.com/cloudwego/captioner/internal/pipeline/steps"
	"github.com/cloudwego/captioner/llm"
	"github.com/cloudwego/captioner/llm/agent"
)

// NewEngines builds every engine regardless of the enable flags, so a request
// may switch on a step the configuration leaves off. Models are created lazily
// on first use.
func NewEngines(cfg *config.Config) (steps.Engines, error) {
	p := cfg.OCR.PostProcessing
	eng := steps.Engines{
		OCR: ocr.NewTesseractEngine(ocr.Options{
			Languages:     cfg.OCR.Languages,
			MinConfidence: cfg.OCR.MinConfidence,
			PageSegMode:   cfg.OCR.PageSegMode,
			Post: ocr.PostProcessing{
				MinTextLength:      p.MinTextLength,
				RemoveSpecialChars: p.RemoveSpecialChars,
				AllowedChars:       p.AllowedChars,
				StripWhitespace:    p.StripWhitespace,
				Lowercase:          p.Lowercase,
				RemoveDuplicates:   p.RemoveDuplicates,
			},
		}),
		Vision:     agent.NewImageAgent(llm.NewModels(cfg.Models.Vision)),
		Corrector:  agent.NewTextAgent(llm.NewModels(cfg.Models.Text)),
		Translator: agent.NewTranslatorAgent(llm.NewModels(cfg.Models.Translator)),
		Aggregator: combine.New(),
	}
	if r := cfg.Pipeline.ImageResize; r.Enabled {
		if len(r.MaxSize) != 2 {
			return eng, fmt.Errorf("image_resize.max_size must be [width, height], got %v", r.MaxSize)
		}
		rs, err := imaging.NewResizer(imaging.Options{
			MaxWidth:      r.MaxSize[0],
			MaxHeight:     r.MaxSize[1],
			KeepAspect:    r.KeepAspect,
			Interpolation: r.Interpolation,
			Quality:       r.Quality,
		})
		if err != nil {
			return eng, err
		}
		eng.Resizer = rs
	}
	return eng, nil
}

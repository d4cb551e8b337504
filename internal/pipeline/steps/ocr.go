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
	"math"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/log"
	"github.com/cloudwego/captioner/internal/pipeline"
)

type OCRStep struct {
	Engine    TextExtractor
	Separator string
}

func (s *OCRStep) Name() string     { return pipeline.StepOCR }
func (s *OCRStep) Inputs() []string { return nil }

func (s *OCRStep) Run(ctx context.Context, in pipeline.Input) (pipeline.Payload, error) {
	if _, err := os.Stat(in.ItemKey); err != nil {
		return nil, pipeline.Permanent(errors.Wrap(err, "image file not found"))
	}
	ex, err := s.Engine.Extract(ctx, in.ItemKey)
	if err != nil {
		return nil, err
	}
	p := FormatExtraction(ex, s.Separator)
	log.Debug("[%s] %s extracted %d elements", in.ItemKey, s.Name(), p["total_elements"])
	return p, nil
}

// FormatExtraction packages extracted elements into the step payload. Elements
// are put in reading order, top to bottom then left to right.
func FormatExtraction(ex *Extraction, sep string) pipeline.Payload {
	if sep == "" {
		sep = " "
	}
	var (
		elems []TextElement
		model string
	)
	if ex != nil {
		elems = append(elems, ex.Elements...)
		model = ex.Model
	}
	p := pipeline.Payload{
		"full_text":      "",
		"text_lines":     []any{},
		"total_elements": len(elems),
		"avg_confidence": 0.0,
		"min_confidence": 0.0,
		"max_confidence": 0.0,
		"model":          model,
	}
	if len(elems) == 0 {
		return p
	}

	sort.SliceStable(elems, func(i, j int) bool {
		a, b := elems[i].Box.Min, elems[j].Box.Min
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	texts := make([]string, 0, len(elems))
	lines := make([]any, 0, len(elems))
	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, e := range elems {
		texts = append(texts, e.Text)
		lines = append(lines, map[string]any{
			"text":       e.Text,
			"confidence": round3(e.Confidence),
			"bbox":       []any{e.Box.Min.X, e.Box.Min.Y, e.Box.Max.X, e.Box.Max.Y},
		})
		sum += e.Confidence
		lo = math.Min(lo, e.Confidence)
		hi = math.Max(hi, e.Confidence)
	}
	p["full_text"] = strings.Join(texts, sep)
	p["text_lines"] = lines
	p["avg_confidence"] = round3(sum / float64(len(elems)))
	p["min_confidence"] = round3(lo)
	p["max_confidence"] = round3(hi)
	return p
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

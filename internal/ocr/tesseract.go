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

// Package ocr extracts text lines from images with Tesseract.
package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"github.com/cloudwego/captioner/internal/log"
	"github.com/cloudwego/captioner/internal/pipeline/steps"
)

const ModelName = "tesseract"

type Options struct {
	Languages []string
	// MinConfidence drops lines below it, in [0, 1].
	MinConfidence float64
	// PageSegMode is passed to Tesseract when non-zero.
	PageSegMode int
	Post        PostProcessing
}

var _ steps.TextExtractor = (*TesseractEngine)(nil)

// TesseractEngine recognizes text line by line. A client is created per call
// because gosseract clients are not safe for concurrent use.
type TesseractEngine struct {
	opts          Options
	clientFactory func() *gosseract.Client
}

func NewTesseractEngine(opts Options) *TesseractEngine {
	return &TesseractEngine{opts: opts, clientFactory: gosseract.NewClient}
}

func (e *TesseractEngine) Extract(ctx context.Context, imagePath string) (*steps.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := e.clientFactory()
	defer c.Close()

	if len(e.opts.Languages) > 0 {
		if err := c.SetLanguage(e.opts.Languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	if e.opts.PageSegMode > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(e.opts.PageSegMode)); err != nil {
			return nil, fmt.Errorf("set page seg mode: %w", err)
		}
	}
	if err := c.SetImage(imagePath); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}

	elems := make([]steps.TextElement, 0, len(boxes))
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		if conf < e.opts.MinConfidence {
			continue
		}
		elems = append(elems, steps.TextElement{Text: b.Word, Confidence: conf, Box: b.Box})
	}
	elems = e.opts.Post.Apply(elems)
	log.Debug("[%s] tesseract kept %d of %d lines", imagePath, len(elems), len(boxes))
	return &steps.Extraction{Elements: elems, Model: ModelName}, nil
}

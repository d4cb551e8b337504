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
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/log"
	"github.com/cloudwego/captioner/internal/pipeline"
)

// VisionStep sends the image, downscaled when a Resizer is set, to a vision
// model.
type VisionStep struct {
	Engine  VisionAnalyzer
	Resizer Resizer
	Model   string
}

func (s *VisionStep) Name() string     { return pipeline.StepVision }
func (s *VisionStep) Inputs() []string { return nil }

func (s *VisionStep) Run(ctx context.Context, in pipeline.Input) (pipeline.Payload, error) {
	req := VisionRequest{ImagePath: in.ItemKey, Model: s.Model}
	if s.Resizer != nil {
		data, mt, err := s.Resizer.Resize(ctx, in.ItemKey)
		if err != nil {
			log.Warn("[%s] resize failed, using original: %v", in.ItemKey, err)
		} else {
			req.Image, req.MimeType = data, mt
		}
	}
	if req.Image == nil {
		data, err := os.ReadFile(in.ItemKey)
		if err != nil {
			return nil, pipeline.Permanent(errors.Wrap(err, "read image"))
		}
		req.Image, req.MimeType = data, MimeType(in.ItemKey)
	}

	a, err := s.Engine.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errors.New("image agent returned no results")
	}
	return AnalysisPayload(a), nil
}

func AnalysisPayload(a *Analysis) pipeline.Payload {
	return pipeline.Payload{
		"description":     a.Description,
		"scene":           a.Scene,
		"text":            a.Text,
		"story":           a.Story,
		"raw_response":    a.RawResponse,
		"model":           a.Model,
		"processing_time": a.ProcessingTime,
	}
}

// AnalysisFromPayload is the inverse of AnalysisPayload; nil in, nil out.
func AnalysisFromPayload(p pipeline.Payload) *Analysis {
	if p == nil {
		return nil
	}
	return &Analysis{
		Description:    p.String("description"),
		Scene:          p.String("scene"),
		Text:           p.String("text"),
		Story:          p.String("story"),
		RawResponse:    p.String("raw_response"),
		Model:          p.String("model"),
		ProcessingTime: p.Float("processing_time"),
	}
}

// MimeType guesses the image type from the file extension.
func MimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

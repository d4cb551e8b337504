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

// Package agent implements the model-backed engines of the caption steps.
package agent

import (
	"context"

	"github.com/cloudwego/captioner/internal/log"
	"github.com/cloudwego/captioner/internal/pipeline"
	"github.com/cloudwego/captioner/internal/pipeline/steps"
	"github.com/cloudwego/captioner/llm"
	"github.com/cloudwego/captioner/llm/prompt"
)

var _ steps.VisionAnalyzer = (*ImageAgent)(nil)

// ImageAgent describes images with a vision model.
type ImageAgent struct {
	Models *llm.Models
	Prompt string
}

func NewImageAgent(models *llm.Models) *ImageAgent {
	return &ImageAgent{Models: models, Prompt: prompt.PromptImageAgent}
}

func (a *ImageAgent) Analyze(ctx context.Context, req steps.VisionRequest) (*steps.Analysis, error) {
	gen, err := caller(a.Models, req.Model)
	if err != nil {
		return nil, err
	}
	log.Debug("[%s] analyzing with %s", req.ImagePath, gen.Name)
	msgs := llm.Conversation(a.Models.Base.SystemPrompt, llm.ImageMessage(a.Prompt, req.Image, req.MimeType))
	reply, err := gen.Call(ctx, msgs)
	if err != nil {
		return nil, classify(err)
	}
	out := ParseAnalysis(reply.Content)
	out.Model = reply.Model
	out.ProcessingTime = seconds(reply)
	return out, nil
}

// caller builds a Caller for model, the configured one when model is empty.
// A model that cannot be built will not work on a retry either.
func caller(models *llm.Models, model string) (*llm.Caller, error) {
	cm, cfg, err := models.Get(model)
	if err != nil {
		return nil, pipeline.Permanent(err)
	}
	return llm.NewCaller(cm, cfg), nil
}

func classify(err error) error {
	if llm.IsRetryable(err) && !llm.RetriesExhausted(err) {
		return err
	}
	return pipeline.Permanent(err)
}

func seconds(r *llm.Reply) float64 {
	return float64(r.Duration.Milliseconds()) / 1000
}

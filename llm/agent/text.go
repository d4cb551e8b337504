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

package agent

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/cloudwego/captioner/internal/log"
	"github.com/cloudwego/captioner/internal/pipeline/steps"
	"github.com/cloudwego/captioner/llm"
	"github.com/cloudwego/captioner/llm/prompt"
)

var _ steps.TextCorrector = (*TextAgent)(nil)

// TextAgent corrects recognized text, then asks the same model which
// language the result is in.
type TextAgent struct {
	Models *llm.Models
}

func NewTextAgent(models *llm.Models) *TextAgent {
	return &TextAgent{Models: models}
}

func (a *TextAgent) Correct(ctx context.Context, req steps.CorrectionRequest) (*steps.Correction, error) {
	gen, err := caller(a.Models, req.Model)
	if err != nil {
		return nil, err
	}
	data := prompt.TextData{Text: req.Text}
	if req.Context != nil {
		data.Description = req.Context.Description
		data.Scene = req.Context.Scene
		data.VisionText = req.Context.Text
	}
	p, err := prompt.TextAgent.Render(data)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	reply, err := gen.Call(ctx, llm.Conversation(a.Models.Base.SystemPrompt, schema.UserMessage(p)))
	if err != nil {
		return nil, classify(err)
	}
	out := ParseCorrection(reply.Content)
	out.Model = reply.Model
	out.PrimaryText = out.CorrectedText
	if out.PrimaryText == "" {
		out.PrimaryText = req.Text
	}

	lang := a.detectLanguage(ctx, gen, out.PrimaryText)
	out.Language = lang.Name
	out.LanguageCode = lang.Code
	out.NeedsTranslation = lang.NeedsTranslation
	out.TextToTranslate = lang.TextToTranslate
	out.ProcessingTime = float64(time.Since(start).Milliseconds()) / 1000
	return out, nil
}

// detectLanguage never fails: without an answer the text is left untranslated.
func (a *TextAgent) detectLanguage(ctx context.Context, gen *llm.Caller, text string) Language {
	unknown := Language{Name: "unknown"}
	if text == "" {
		return unknown
	}
	p, err := prompt.Language.Render(prompt.LanguageData{Text: text})
	if err != nil {
		return unknown
	}
	detector := *gen
	zero := float32(0)
	detector.Temperature = &zero
	detector.MaxTokens = 200
	reply, err := detector.Call(ctx, []*schema.Message{schema.UserMessage(p)})
	if err != nil {
		log.Warn("language detection failed: %v", err)
		return unknown
	}
	lang := ParseLanguage(reply.Content)
	log.Debug("detected language %s (%s), needs translation: %v", lang.Name, lang.Code, lang.NeedsTranslation)
	return lang
}

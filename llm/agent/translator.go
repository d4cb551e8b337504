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
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/cloudwego/captioner/internal/pipeline/steps"
	"github.com/cloudwego/captioner/llm"
	"github.com/cloudwego/captioner/llm/prompt"
)

var _ steps.Translator = (*TranslatorAgent)(nil)

type TranslatorAgent struct {
	Models *llm.Models
}

func NewTranslatorAgent(models *llm.Models) *TranslatorAgent {
	return &TranslatorAgent{Models: models}
}

func (a *TranslatorAgent) Translate(ctx context.Context, req steps.TranslationRequest) (*steps.Translation, error) {
	target := req.TargetLanguage
	if target == "" {
		target = "English"
	}
	out := &steps.Translation{SourceLanguage: req.SourceLanguage, TargetLanguage: target}
	if strings.TrimSpace(req.Text) == "" {
		return out, nil
	}

	gen, err := caller(a.Models, req.Model)
	if err != nil {
		return nil, err
	}
	p, err := prompt.Translator.Render(prompt.TranslatorData{
		Text:           req.Text,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: target,
	})
	if err != nil {
		return nil, err
	}
	reply, err := gen.Call(ctx, llm.Conversation(a.Models.Base.SystemPrompt, schema.UserMessage(p)))
	if err != nil {
		return nil, classify(err)
	}
	out.TranslatedText = strings.TrimSpace(reply.Content)
	out.Model = reply.Model
	out.ProcessingTime = seconds(reply)
	return out, nil
}

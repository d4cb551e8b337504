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
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/captioner/internal/pipeline"
	"github.com/cloudwego/captioner/internal/pipeline/steps"
	"github.com/cloudwego/captioner/llm"
)

// scriptedModel answers with reply(msgs) and records every conversation.
type scriptedModel struct {
	name  string
	reply func(msgs []*schema.Message) (string, error)

	mu    sync.Mutex
	calls [][]*schema.Message
}

func (m *scriptedModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, in)
	m.mu.Unlock()
	s, err := m.reply(in)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(s, nil), nil
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func (m *scriptedModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func (m *scriptedModel) last() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}

// modelsOf serves fake for every model name and records the names asked for.
func modelsOf(fake *scriptedModel, asked *[]string) *llm.Models {
	return &llm.Models{
		Base: llm.ModelConfig{APIType: llm.ModelTypeOllama, ModelName: "default-model", Retries: -1},
		New: func(cfg llm.ModelConfig) (llm.ChatModel, error) {
			if asked != nil {
				*asked = append(*asked, cfg.ModelName)
			}
			return fake, nil
		},
	}
}

func userText(m *schema.Message) string {
	if m.Content != "" {
		return m.Content
	}
	for _, p := range m.MultiContent {
		if p.Type == schema.ChatMessagePartTypeText {
			return p.Text
		}
	}
	return ""
}

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name string
		resp string
		want steps.Analysis
	}{
		{
			name: "bold headers",
			resp: "**Description**: A red bus.\n\n**Scene**: Outdoor, urban street\n**Text**: No visible text\n**Story**: Morning commute.",
			want: steps.Analysis{Description: "A red bus.", Scene: "Outdoor, urban street", Text: "No visible text", Story: "Morning commute."},
		},
		{
			name: "numbered and multi line",
			resp: "1. **Description:**\nA shop front.\nTwo people.\n\n2. **Scene:** street\n3. **Text:**\nOPEN\n24 HOURS\n4. **Story:** A late shop.",
			want: steps.Analysis{Description: "A shop front.\nTwo people.", Scene: "street", Text: "OPEN\n24 HOURS", Story: "A late shop."},
		},
		{
			name: "markdown headings",
			resp: "### Description\nA cat.\n### Text\nText on the collar reads TOM\n",
			want: steps.Analysis{Description: "A cat.", Text: "Text on the collar reads TOM"},
		},
		{
			name: "unstructured",
			resp: "  Just a picture of the sea.  ",
			want: steps.Analysis{Description: "Just a picture of the sea."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAnalysis(tt.resp)
			tt.want.RawResponse = tt.resp
			assert.Equal(t, &tt.want, got)
		})
	}
}

func TestParseCorrection(t *testing.T) {
	got := ParseCorrection("CORRECTED TEXT:\nHello world\n\nCHANGES:\nfixed 'wor1d'\n\nCONFIDENCE:\nHigh")
	assert.Equal(t, "Hello world", got.CorrectedText)
	assert.Equal(t, "fixed 'wor1d'", got.Changes)
	assert.Equal(t, "high", got.Confidence)

	got = ParseCorrection("Hello world")
	assert.Equal(t, "Hello world", got.CorrectedText)
	assert.Equal(t, "Unable to parse structured response", got.Changes)
	assert.Equal(t, "unknown", got.Confidence)
}

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		name string
		resp string
		want Language
	}{
		{
			name: "json",
			resp: `{"language": "French", "code": "fr", "needs_translation": true, "text_to_translate": "bonjour"}`,
			want: Language{Name: "French", Code: "fr", NeedsTranslation: true, TextToTranslate: "bonjour"},
		},
		{
			name: "fenced with quoted bool",
			resp: "```json\n{\"language\": \"Hindi\", \"code\": \"hi\", \"needs_translation\": \"false\"}\n```",
			want: Language{Name: "Hindi", Code: "hi"},
		},
		{
			name: "needs derived from code",
			resp: `{"language": "German", "code": "de"}`,
			want: Language{Name: "German", Code: "de", NeedsTranslation: true},
		},
		{
			name: "english",
			resp: `{"language": "English", "code": "en"}`,
			want: Language{Name: "English", Code: "en"},
		},
		{
			name: "broken json",
			resp: `"language": "Spanish", "code": "es", "needs_translation": "true",`,
			want: Language{Name: "Spanish", Code: "es", NeedsTranslation: true},
		},
		{
			name: "prose",
			resp: "The text is written in English.",
			want: Language{Name: "English", Code: "en"},
		},
		{
			name: "nothing",
			resp: "",
			want: Language{Name: "unknown"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLanguage(tt.resp))
		})
	}
}

func TestImageAgent(t *testing.T) {
	fake := &scriptedModel{reply: func([]*schema.Message) (string, error) {
		return "**Description**: A menu\n**Scene**: restaurant\n**Text**: Soupe du jour\n**Story**: Lunch.", nil
	}}
	var asked []string
	a := NewImageAgent(modelsOf(fake, &asked))

	got, err := a.Analyze(context.Background(), steps.VisionRequest{
		ImagePath: "menu.png", Image: []byte("png"), MimeType: "image/png", Model: "llava:13b",
	})
	require.NoError(t, err)
	assert.Equal(t, "Soupe du jour", got.Text)
	assert.Equal(t, "llava:13b", got.Model)
	assert.Equal(t, []string{"llava:13b"}, asked)

	msgs := fake.last()
	require.Len(t, msgs, 1)
	parts := msgs[0].MultiContent
	require.Len(t, parts, 2)
	assert.Equal(t, "data:image/png;base64,cG5n", parts[1].ImageURL.URL)
}

func TestTextAgent(t *testing.T) {
	fake := &scriptedModel{reply: func(msgs []*schema.Message) (string, error) {
		if strings.Contains(userText(msgs[len(msgs)-1]), "ISO 639-1") {
			return `{"language": "French", "code": "fr", "needs_translation": true, "text_to_translate": "Soupe du jour"}`, nil
		}
		return "CORRECTED TEXT:\nSoupe du jour\nCHANGES:\nfixed accents\nCONFIDENCE:\nmedium", nil
	}}
	a := NewTextAgent(modelsOf(fake, nil))

	got, err := a.Correct(context.Background(), steps.CorrectionRequest{
		Text:    "Soupe du j0ur",
		Context: &steps.Analysis{Scene: "restaurant"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Soupe du jour", got.CorrectedText)
	assert.Equal(t, "Soupe du jour", got.PrimaryText)
	assert.Equal(t, "medium", got.Confidence)
	assert.Equal(t, "French", got.Language)
	assert.Equal(t, "fr", got.LanguageCode)
	assert.True(t, got.NeedsTranslation)
	assert.Equal(t, "default-model", got.Model)

	require.Len(t, fake.calls, 2)
	first := userText(fake.calls[0][0])
	assert.Contains(t, first, "Soupe du j0ur")
	assert.Contains(t, first, "- Scene: restaurant")
}

func TestTextAgent_LanguageFailureIsTolerated(t *testing.T) {
	fake := &scriptedModel{reply: func(msgs []*schema.Message) (string, error) {
		if strings.Contains(userText(msgs[len(msgs)-1]), "ISO 639-1") {
			return "", errors.New("model crashed")
		}
		return "CORRECTED TEXT:\nhello\nCHANGES:\nnone\nCONFIDENCE:\nhigh", nil
	}}
	got, err := NewTextAgent(modelsOf(fake, nil)).Correct(context.Background(), steps.CorrectionRequest{Text: "helo"})
	require.NoError(t, err)
	assert.Equal(t, "unknown", got.Language)
	assert.False(t, got.NeedsTranslation)
}

func TestTranslatorAgent(t *testing.T) {
	fake := &scriptedModel{reply: func([]*schema.Message) (string, error) {
		return "  Soup of the day\n", nil
	}}
	a := NewTranslatorAgent(modelsOf(fake, nil))

	got, err := a.Translate(context.Background(), steps.TranslationRequest{Text: "Soupe du jour", SourceLanguage: "French"})
	require.NoError(t, err)
	assert.Equal(t, "Soup of the day", got.TranslatedText)
	assert.Equal(t, "English", got.TargetLanguage)
	assert.Contains(t, userText(fake.last()[0]), "French text to fluent, natural English")

	n := len(fake.calls)
	got, err = a.Translate(context.Background(), steps.TranslationRequest{Text: "  "})
	require.NoError(t, err)
	assert.Empty(t, got.TranslatedText)
	assert.Len(t, fake.calls, n, "blank text is not sent")
}

func TestErrorsAreClassified(t *testing.T) {
	fake := &scriptedModel{reply: func([]*schema.Message) (string, error) {
		return "", errors.New("model 'nope' not found")
	}}
	_, err := NewTranslatorAgent(modelsOf(fake, nil)).Translate(context.Background(), steps.TranslationRequest{Text: "x"})
	require.Error(t, err)
	assert.True(t, pipeline.IsPermanent(err))

	transient := &scriptedModel{reply: func([]*schema.Message) (string, error) {
		return "", errors.New("read tcp 127.0.0.1:11434: connection reset by peer")
	}}
	_, err = NewTranslatorAgent(modelsOf(transient, nil)).Translate(context.Background(), steps.TranslationRequest{Text: "x"})
	require.Error(t, err)
	assert.False(t, pipeline.IsPermanent(err), "a single failed attempt is left to the step retry")

	retried := modelsOf(transient, nil)
	retried.Base.Retries = 1
	transient.calls = nil
	_, err = NewTranslatorAgent(retried).Translate(context.Background(), steps.TranslationRequest{Text: "x"})
	require.Error(t, err)
	assert.Len(t, transient.calls, 2)
	assert.True(t, pipeline.IsPermanent(err), "the caller already retried")

	broken := &llm.Models{New: func(llm.ModelConfig) (llm.ChatModel, error) { return nil, errors.New("bad config") }}
	_, err = NewImageAgent(broken).Analyze(context.Background(), steps.VisionRequest{})
	assert.True(t, pipeline.IsPermanent(err))
}

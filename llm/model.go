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

package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qwen"
)

func NewChatModel(m ModelConfig) (model ChatModel, err error) {
	if m.MaxTokens == 0 {
		m.MaxTokens = 2 * 1024
	}
	if m.Timeout == 0 {
		m.Timeout = 120 * time.Second
	}
	ctx := context.Background()
	switch m.APIType {
	case ModelTypeARK:
		model, err = ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     m.BaseURL,
			APIKey:      m.APIKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   &m.MaxTokens,
		})
	case ModelTypeOpenAI:
		model, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     m.BaseURL,
			APIKey:      m.APIKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   &m.MaxTokens,
			Timeout:     m.Timeout,
		})
	case ModelTypeDashScope:
		// DashScope (Qwen) uses OpenAI-compatible API
		baseURL := m.BaseURL
		if baseURL == "" {
			baseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
		}
		model, err = qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL:     baseURL,
			APIKey:      m.APIKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   &m.MaxTokens,
			Timeout:     m.Timeout,
		})
	case ModelTypeDeepSeek:
		// DeepSeek uses OpenAI-compatible API
		baseURL := m.BaseURL
		if baseURL == "" {
			baseURL = "https://api.deepseek.com"
		}
		model, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     baseURL,
			APIKey:      m.APIKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   &m.MaxTokens,
			Timeout:     m.Timeout,
		})
	case ModelTypeOllama:
		model, err = ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: m.BaseURL,
			Model:   m.ModelName,
			Timeout: m.Timeout,
		})
	case ModelTypeClaude:
		var baseURL *string
		if m.BaseURL != "" {
			baseURL = &m.BaseURL
		}
		model, err = claude.NewChatModel(ctx, &claude.Config{
			BaseURL:     baseURL,
			APIKey:      m.APIKey,
			Model:       m.ModelName,
			Temperature: m.Temperature,
			MaxTokens:   m.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unsupported model type %q", m.APIType)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model %s: %w", m.APIType, m.ModelName, err)
	}
	return model, nil
}

// Models hands out one chat model per model name. Every model shares the
// base config except for its name, so requests can pick another model of the
// same backend.
type Models struct {
	Base ModelConfig
	// New builds a model, NewChatModel by default.
	New func(ModelConfig) (ChatModel, error)

	mu    sync.Mutex
	cache map[string]ChatModel
}

func NewModels(base ModelConfig) *Models {
	return &Models{Base: base, New: NewChatModel}
}

// Get returns the model called name, or the base model when name is empty.
func (m *Models) Get(name string) (ChatModel, ModelConfig, error) {
	cfg := m.Base
	if name != "" {
		cfg.ModelName = name
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cm, ok := m.cache[cfg.ModelName]; ok {
		return cm, cfg, nil
	}
	newModel := m.New
	if newModel == nil {
		newModel = NewChatModel
	}
	cm, err := newModel(cfg)
	if err != nil {
		return nil, cfg, err
	}
	if m.cache == nil {
		m.cache = make(map[string]ChatModel)
	}
	m.cache[cfg.ModelName] = cm
	return cm, cfg, nil
}

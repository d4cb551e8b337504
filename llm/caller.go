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
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/log"
	"github.com/cloudwego/captioner/internal/utils"
)

var _ Generator = (*Caller)(nil)

// Caller calls one chat model with retries on transient errors.
type Caller struct {
	Model ChatModel
	// Name is reported as the answering model.
	Name        string
	Temperature *float32
	MaxTokens   int
	Retries     int           // default: 3, negative disables retries
	Timeout     time.Duration // per attempt, default: 120s
	// Backoff is the first pause between attempts; it doubles up to 10s.
	Backoff time.Duration
}

func NewCaller(cm ChatModel, cfg ModelConfig) *Caller {
	return &Caller{
		Model:       cm,
		Name:        cfg.ModelName,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Retries:     cfg.Retries,
		Timeout:     cfg.Timeout,
	}
}

func (c *Caller) Call(ctx context.Context, msgs []*schema.Message) (*Reply, error) {
	retries := c.Retries
	switch {
	case retries == 0:
		retries = 3
	case retries < 0:
		retries = 0
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	backoff := c.Backoff
	if backoff == 0 {
		backoff = time.Second
	}
	var opts []model.Option
	if c.Temperature != nil {
		opts = append(opts, model.WithTemperature(*c.Temperature))
	}
	if c.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(c.MaxTokens))
	}
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      c.Name,
		Type:      "ChatModel",
		Component: components.ComponentOfChatModel,
	}, CallbackHandler{})

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := backoff << uint(attempt-1)
			if wait > 10*time.Second {
				wait = 10 * time.Second
			}
			log.Info("Retrying %s (attempt %d/%d) in %v...", c.Name, attempt+1, retries+1, wait)
			select {
			case <-ctx.Done():
				return nil, utils.WrapError(ctx.Err(), "llm call cancelled")
			case <-time.After(wait):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := c.Model.Generate(attemptCtx, msgs, opts...)
		cancel()
		if err == nil {
			return &Reply{Content: out.Content, Model: c.Name, Duration: time.Since(start)}, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsRetryable(err) {
			log.Error("Non-retryable error from %s: %v", c.Name, err)
			return nil, utils.WrapError(err, "llm call")
		}
		log.Warn("Retryable error from %s (attempt %d/%d): %v", c.Name, attempt+1, retries+1, err)
	}
	err := fmt.Errorf("failed after %d attempts: %w", retries+1, lastErr)
	if retries > 0 {
		err = &exhaustedError{err}
	}
	return nil, utils.WrapError(err, "llm call")
}

// exhaustedError marks a transient failure that already used up the caller's
// own retries.
type exhaustedError struct{ err error }

func (e *exhaustedError) Error() string { return e.err.Error() }
func (e *exhaustedError) Unwrap() error { return e.err }

// RetriesExhausted reports whether err is a transient failure that a Caller
// already retried. Retrying it again at a higher level multiplies the attempts.
func RetriesExhausted(err error) bool {
	var e *exhaustedError
	return errors.As(err, &e)
}

// IsRetryable reports whether err looks like a transient transport failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	s := err.Error()
	for _, frag := range []string{
		"timeout",
		"connection reset",
		"connection refused",
		"operation timed out",
		"context deadline exceeded",
		"read tcp",
		"write tcp",
		"EOF",
		"503",
		"429",
	} {
		if strings.Contains(s, frag) {
			return true
		}
	}
	return false
}

// ImageMessage is a user message carrying prompt and image as a data URL.
func ImageMessage(prompt string, image []byte, mimeType string) *schema.Message {
	url := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: prompt},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{
				URL:      url,
				MIMEType: mimeType,
			}},
		},
	}
}

// Conversation prepends the system prompt, if any, to msgs.
func Conversation(sysPrompt string, msgs ...*schema.Message) []*schema.Message {
	res := make([]*schema.Message, 0, len(msgs)+1)
	if sysPrompt != "" {
		res = append(res, schema.SystemMessage(sysPrompt))
	}
	return append(res, msgs...)
}

type CallbackHandler struct{}

var _ callbacks.Handler = (*CallbackHandler)(nil)

func (h CallbackHandler) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	log.Debug("<OnStart> %s", info.Name)
	return ctx
}

func (h CallbackHandler) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if out := model.ConvCallbackOutput(output); out != nil && out.TokenUsage != nil {
		log.Debug("<OnEnd> %s prompt_tokens=%d completion_tokens=%d",
			info.Name, out.TokenUsage.PromptTokens, out.TokenUsage.CompletionTokens)
		return ctx
	}
	log.Debug("<OnEnd> %s", info.Name)
	return ctx
}

func (h CallbackHandler) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	log.Debug("<OnError> %s: %v", info.Name, err)
	return ctx
}

func (h CallbackHandler) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}

func (h CallbackHandler) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	return ctx
}

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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/captioner/internal/pipeline"
	"github.com/cloudwego/captioner/internal/store"
	"github.com/cloudwego/captioner/llm"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Processing.NumThreads)
	assert.Equal(t, pipeline.StrategyItemMajor, cfg.BatchProcessing.Strategy)
	assert.Equal(t, store.BackendFile, cfg.State.Backend)
	assert.Equal(t, []int{1024, 1024}, cfg.Pipeline.ImageResize.MaxSize)
	assert.Equal(t, llm.ModelTypeOllama, cfg.Models.Vision.APIType)
	assert.Equal(t, cfg.Models.Host, cfg.Models.Vision.BaseURL)
	assert.Equal(t, cfg.Models.Text.ModelName, cfg.Models.Translator.ModelName)
}

func TestLoad_File(t *testing.T) {
	p := writeConfig(t, `
pipeline:
  enable_ocr: false
  strict: true
  retry_backoff: 500ms
processing:
  num_threads: 8
batch_processing:
  strategy: step
  step_workers:
    image_agent_analysis: 2
models:
  vision:
    type: openai
    model_name: gpt-4o
    base_url: https://api.example.com/v1
  translator:
    model_name: qwen2.5:7b
state:
  backend: sqlite
  sqlite_path: /tmp/x.db
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.False(t, cfg.Pipeline.EnableOCR)
	assert.True(t, cfg.Pipeline.EnableImageAgent, "unset keys keep their defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.RetryBackoff)
	assert.Equal(t, 8, cfg.Processing.NumThreads)
	assert.Equal(t, pipeline.StrategyStepMajor, cfg.BatchProcessing.Strategy)
	assert.Equal(t, llm.ModelTypeOpenAI, cfg.Models.Vision.APIType)
	assert.Equal(t, "https://api.example.com/v1", cfg.Models.Vision.BaseURL)
	assert.Equal(t, "qwen2.5:7b", cfg.Models.Translator.ModelName)

	so := cfg.StoreOptions()
	assert.Equal(t, store.BackendSQLite, so.Backend)
	assert.Equal(t, "/tmp/x.db", so.SQLitePath)

	st := cfg.StepOptions()
	assert.False(t, st.OCR)
	assert.Equal(t, "gpt-4o", st.VisionModel)

	po := cfg.PipelineOptions()
	assert.Equal(t, 8, po.Workers)
	assert.Equal(t, 2, po.StepWorkers[pipeline.StepVision])
	assert.Equal(t, &pipeline.DefaultAgent{MaxRetry: 1, Strict: true}, po.Agent)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "gpu-box:11434")
	t.Setenv("CAPTIONER_STATE_BACKEND", "memory")
	t.Setenv("CAPTIONER_WORKERS", "16")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:11434", cfg.Models.Host)
	assert.Equal(t, "http://gpu-box:11434", cfg.Models.Text.BaseURL)
	assert.Equal(t, store.BackendMemory, cfg.State.Backend)
	assert.Equal(t, 16, cfg.Processing.NumThreads)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"strategy", "batch_processing:\n  strategy: random\n"},
		{"workers", "processing:\n  num_threads: 0\n"},
		{"backend", "state:\n  backend: etcd\n"},
		{"resize", "pipeline:\n  image_resize:\n    enabled: true\n    max_size: [1024]\n"},
		{"step workers", "batch_processing:\n  step_workers:\n    thumbnails: 2\n"},
		{"yaml", "processing: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err, "an explicit path must exist")
}

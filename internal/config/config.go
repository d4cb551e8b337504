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

// Package config loads config.yml and the environment overrides on top of it.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cloudwego/captioner/internal/pipeline"
	"github.com/cloudwego/captioner/internal/pipeline/steps"
	"github.com/cloudwego/captioner/internal/store"
	"github.com/cloudwego/captioner/llm"
)

const DefaultPath = "config.yml"

type Config struct {
	Data            DataConfig       `yaml:"data"`
	Pipeline        PipelineConfig   `yaml:"pipeline"`
	Processing      ProcessingConfig `yaml:"processing"`
	BatchProcessing BatchConfig      `yaml:"batch_processing"`
	OCR             OCRConfig        `yaml:"ocr"`
	Models          ModelsConfig     `yaml:"models"`
	State           StateConfig      `yaml:"state"`
	Server          ServerConfig     `yaml:"server"`
	Logging         LoggingConfig    `yaml:"logging"`
}

type DataConfig struct {
	InputFolder      string   `yaml:"input_folder"`
	SupportedFormats []string `yaml:"supported_formats"`
}

type PipelineConfig struct {
	EnableOCR         bool `yaml:"enable_ocr"`
	EnableImageAgent  bool `yaml:"enable_image_agent"`
	EnableTextAgent   bool `yaml:"enable_text_agent"`
	EnableTranslation bool `yaml:"enable_translation"`
	EnableAggregation bool `yaml:"enable_aggregation"`

	// MaxRetry bounds retries of recoverable step failures per item.
	MaxRetry     int           `yaml:"max_retry"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// Strict aborts the remaining steps of an item after a failure.
	Strict bool `yaml:"strict"`

	TargetLanguage string       `yaml:"target_language"`
	ImageResize    ResizeConfig `yaml:"image_resize"`
}

type ResizeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	MaxSize       []int  `yaml:"max_size"`
	KeepAspect    bool   `yaml:"keep_aspect"`
	Interpolation string `yaml:"interpolation"`
	Quality       int    `yaml:"quality"`
}

type ProcessingConfig struct {
	NumThreads      int    `yaml:"num_threads"`
	SkipIfCompleted bool   `yaml:"skip_if_completed"`
	LineSeparator   string `yaml:"line_separator"`
}

type BatchConfig struct {
	// Strategy is "item" or "step".
	Strategy    string         `yaml:"strategy"`
	StepWorkers map[string]int `yaml:"step_workers"`
}

type OCRConfig struct {
	Languages      []string             `yaml:"languages"`
	MinConfidence  float64              `yaml:"min_confidence"`
	PageSegMode    int                  `yaml:"page_seg_mode"`
	PostProcessing PostProcessingConfig `yaml:"post_processing"`
}

type PostProcessingConfig struct {
	MinTextLength      int    `yaml:"min_text_length"`
	StripWhitespace    bool   `yaml:"strip_whitespace"`
	Lowercase          bool   `yaml:"lowercase"`
	RemoveDuplicates   bool   `yaml:"remove_duplicates"`
	RemoveSpecialChars bool   `yaml:"remove_special_chars"`
	AllowedChars       string `yaml:"allowed_chars"`
}

type ModelsConfig struct {
	// Host is the Ollama endpoint used by ollama models without a base_url.
	Host       string          `yaml:"host"`
	Vision     llm.ModelConfig `yaml:"vision"`
	Text       llm.ModelConfig `yaml:"text"`
	Translator llm.ModelConfig `yaml:"translator"`
}

type StateConfig struct {
	Backend        string        `yaml:"backend"`
	Dir            string        `yaml:"dir"`
	SQLitePath     string        `yaml:"sqlite_path"`
	ValkeyAddr     string        `yaml:"valkey_addr"`
	ValkeyPassword string        `yaml:"valkey_password"`
	ValkeyTTL      time.Duration `yaml:"valkey_ttl"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxUploadMB  int           `yaml:"max_upload_mb"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Data: DataConfig{
			InputFolder:      "data",
			SupportedFormats: []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff", ".webp"},
		},
		Pipeline: PipelineConfig{
			EnableOCR:         true,
			EnableImageAgent:  true,
			EnableTextAgent:   true,
			EnableTranslation: true,
			EnableAggregation: true,
			MaxRetry:          1,
			RetryBackoff:      2 * time.Second,
			TargetLanguage:    "English",
			ImageResize: ResizeConfig{
				Enabled:       true,
				MaxSize:       []int{1024, 1024},
				KeepAspect:    true,
				Interpolation: "area",
				Quality:       90,
			},
		},
		Processing: ProcessingConfig{
			NumThreads:      4,
			SkipIfCompleted: true,
			LineSeparator:   " ",
		},
		BatchProcessing: BatchConfig{
			Strategy: pipeline.StrategyItemMajor,
		},
		OCR: OCRConfig{
			Languages: []string{"eng"},
			PostProcessing: PostProcessingConfig{
				MinTextLength:   1,
				StripWhitespace: true,
			},
		},
		Models: ModelsConfig{
			Host: "http://localhost:11434",
			Vision: llm.ModelConfig{
				APIType:   llm.ModelTypeOllama,
				ModelName: "llava:latest",
				MaxTokens: 1000,
				Timeout:   120 * time.Second,
			},
			Text: llm.ModelConfig{
				APIType:   llm.ModelTypeOllama,
				ModelName: "llama3.2:latest",
				MaxTokens: 2000,
				Timeout:   120 * time.Second,
			},
			Translator: llm.ModelConfig{
				APIType:   llm.ModelTypeOllama,
				MaxTokens: 1500,
				Timeout:   120 * time.Second,
			},
		},
		State: StateConfig{
			Backend:    store.BackendFile,
			SQLitePath: "captioner.db",
			ValkeyAddr: "localhost:6379",
		},
		Server: ServerConfig{
			Addr:         ":8000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Minute,
			MaxUploadMB:  32,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults, then applies .env and environment
// overrides. A missing file is only an error when path is not DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	bs, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(bs, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	case os.IsNotExist(err) && path == DefaultPath:
	default:
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	// values already in the environment win over .env
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.resolveModels()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		c.Models.Host = v
	}
	if v := os.Getenv("CAPTIONER_STATE_BACKEND"); v != "" {
		c.State.Backend = v
	}
	if v := os.Getenv("CAPTIONER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Processing.NumThreads = n
		}
	}
	if v := os.Getenv("CAPTIONER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) resolveModels() {
	for _, m := range []*llm.ModelConfig{&c.Models.Vision, &c.Models.Text, &c.Models.Translator} {
		if m.APIType == llm.ModelTypeUnknown {
			m.APIType = llm.ModelTypeOllama
		} else {
			m.APIType = llm.NewModelType(string(m.APIType))
		}
		if m.APIType == llm.ModelTypeOllama && m.BaseURL == "" {
			m.BaseURL = c.Models.Host
		}
	}
	if c.Models.Translator.ModelName == "" {
		c.Models.Translator.ModelName = c.Models.Text.ModelName
	}
}

func (c *Config) Validate() error {
	switch c.BatchProcessing.Strategy {
	case pipeline.StrategyItemMajor, pipeline.StrategyStepMajor:
	default:
		return errors.Errorf("unknown batch_processing.strategy %q", c.BatchProcessing.Strategy)
	}
	if c.Processing.NumThreads < 1 {
		return errors.Errorf("processing.num_threads must be positive, got %d", c.Processing.NumThreads)
	}
	switch c.State.Backend {
	case store.BackendFile, store.BackendMemory, store.BackendSQLite, store.BackendValkey:
	default:
		return errors.Errorf("unknown state backend %q", c.State.Backend)
	}
	if r := c.Pipeline.ImageResize; r.Enabled && (len(r.MaxSize) != 2 || r.MaxSize[0] <= 0 || r.MaxSize[1] <= 0) {
		return errors.Errorf("pipeline.image_resize.max_size must be [width, height], got %v", r.MaxSize)
	}
	for name := range c.BatchProcessing.StepWorkers {
		if !isStep(name) {
			return errors.Wrap(pipeline.ErrUnknownStep, name)
		}
	}
	return nil
}

func isStep(name string) bool {
	for _, s := range pipeline.Sequence {
		if s == name {
			return true
		}
	}
	return false
}

func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:        c.State.Backend,
		Dir:            c.State.Dir,
		SQLitePath:     c.State.SQLitePath,
		ValkeyAddr:     c.State.ValkeyAddr,
		ValkeyPassword: c.State.ValkeyPassword,
		ValkeyTTL:      c.State.ValkeyTTL,
	}
}

func (c *Config) StepOptions() steps.Options {
	return steps.Options{
		OCR:              c.Pipeline.EnableOCR,
		Vision:           c.Pipeline.EnableImageAgent,
		Correction:       c.Pipeline.EnableTextAgent,
		Translation:      c.Pipeline.EnableTranslation,
		Aggregation:      c.Pipeline.EnableAggregation,
		VisionModel:      c.Models.Vision.ModelName,
		TextModel:        c.Models.Text.ModelName,
		TranslationModel: c.Models.Translator.ModelName,
		LineSeparator:    c.Processing.LineSeparator,
		TargetLanguage:   c.Pipeline.TargetLanguage,
	}
}

// PipelineOptions fills everything but the steps and the store.
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Agent:           &pipeline.DefaultAgent{MaxRetry: c.Pipeline.MaxRetry, Strict: c.Pipeline.Strict},
		Workers:         c.Processing.NumThreads,
		StepWorkers:     c.BatchProcessing.StepWorkers,
		SkipIfCompleted: c.Processing.SkipIfCompleted,
		RetryBackoff:    c.Pipeline.RetryBackoff,
	}
}

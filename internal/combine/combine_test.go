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

package combine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/captioner/internal/pipeline"
)

func fixed() time.Time {
	return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
}

func TestAggregate_AllSections(t *testing.T) {
	c := &Combiner{Now: fixed}
	out, err := c.Aggregate(context.Background(), pipeline.Input{
		ItemKey: "/data/shop.jpg",
		Results: map[string]pipeline.Payload{
			pipeline.StepOCR: {
				"full_text": "OPEN 24H", "total_elements": 2, "avg_confidence": 0.9,
				"min_confidence": 0.8, "max_confidence": 1.0, "text_lines": []any{"OPEN", "24H"},
			},
			pipeline.StepVision: {"description": "a shop front", "scene": "urban", "text": "OPEN 24H", "story": "late night"},
			pipeline.StepCorrection: {
				"corrected_text": "Open 24 hours", "changes": "expanded", "confidence": "high",
				"language": "English", "language_code": "en", "needs_translation": false,
			},
		},
		ProcessingTime: 1.23456,
	})
	require.NoError(t, err)

	assert.Equal(t, "shop.jpg", out["image_file"])
	assert.Equal(t, "2025-03-04 05:06:07", out["processed_at"])
	assert.Equal(t, 1.235, out["processing_time"])
	assert.Equal(t, 2, out["ocr"].(map[string]any)["total_elements"])
	assert.Equal(t, "Translation was disabled or not needed", out["translation"].(map[string]any)["note"])
	assert.NotContains(t, out, "errors")

	unified := out["unified_text"].(map[string]any)
	assert.Equal(t, "Open 24 hours", unified["primary_text"])
	assert.Equal(t, "text_processing", unified["recommended_source"])
	assert.Len(t, unified["alternative_texts"], 2)

	sum := out["summary"].(map[string]any)
	assert.Equal(t, true, sum["has_ocr_data"])
	assert.Equal(t, 2, sum["text_sources_count"])
	assert.Equal(t, []any{"ocr", "image_analysis", "text_processing"}, sum["processing_stages"])
	assert.Equal(t, "high", sum["text_processing_confidence"])
	assert.Equal(t, 13, sum["text_length"])
}

func TestAggregate_EmptyInputs(t *testing.T) {
	c := &Combiner{Now: fixed}
	out, err := c.Aggregate(context.Background(), pipeline.Input{ItemKey: "blank.png"})
	require.NoError(t, err)

	for _, section := range []string{"ocr", "image_analysis", "text_processing", "translation"} {
		assert.Contains(t, out[section], "note", section)
	}
	unified := out["unified_text"].(map[string]any)
	assert.Equal(t, "", unified["primary_text"])
	assert.Equal(t, "none", unified["recommended_source"])
	assert.Equal(t, false, out["summary"].(map[string]any)["has_extracted_text"])
}

func TestAggregate_FallbackAndErrors(t *testing.T) {
	c := &Combiner{Now: fixed}
	out, err := c.Aggregate(context.Background(), pipeline.Input{
		ItemKey: "a.jpg",
		Results: map[string]pipeline.Payload{
			pipeline.StepVision: {"text": "STOP"},
		},
		Errors: map[string]string{pipeline.StepTranslation: "model not found"},
	})
	require.NoError(t, err)

	unified := out["unified_text"].(map[string]any)
	assert.Equal(t, "STOP", unified["primary_text"])
	assert.Equal(t, "image_analysis", unified["recommended_source"])
	assert.Empty(t, unified["alternative_texts"])
	assert.Equal(t, map[string]any{pipeline.StepTranslation: "model not found"}, out["errors"])
}

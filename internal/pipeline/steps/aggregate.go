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

	"github.com/cloudwego/captioner/internal/pipeline"
)

// AggregateStep runs last and stores the aggregator's record as its payload.
type AggregateStep struct {
	Engine Aggregator
}

func (s *AggregateStep) Name() string { return pipeline.StepAggregation }

func (s *AggregateStep) Inputs() []string {
	return []string{pipeline.StepOCR, pipeline.StepVision, pipeline.StepCorrection, pipeline.StepTranslation}
}

func (s *AggregateStep) Run(ctx context.Context, in pipeline.Input) (pipeline.Payload, error) {
	return s.Engine.Aggregate(ctx, in)
}

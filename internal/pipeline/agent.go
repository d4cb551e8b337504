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

package pipeline

import (
	"context"
)

// Agent decides what happens after a step failed for one item.
type Agent interface {
	OnStepFailure(
		ctx context.Context,
		step Step,
		st *PipelineState,
		result *StepResult,
		attempt int,
	) AgentDecision
}

type AgentDecision string

const (
	// DecisionRetry runs the step again for the same item.
	DecisionRetry AgentDecision = "retry"
	// DecisionContinue keeps the failure and moves on to the next step.
	DecisionContinue AgentDecision = "continue"
	// DecisionAbort keeps the failure and stops the item.
	DecisionAbort AgentDecision = "abort"
)

// DefaultAgent retries recoverable failures up to MaxRetry times. After that
// later steps still run on whatever data exists, unless Strict is set.
type DefaultAgent struct {
	MaxRetry int
	Strict   bool
}

func (a *DefaultAgent) OnStepFailure(
	ctx context.Context,
	step Step,
	st *PipelineState,
	result *StepResult,
	attempt int,
) AgentDecision {
	if result != nil && result.Recoverable && attempt <= a.MaxRetry && ctx.Err() == nil {
		return DecisionRetry
	}
	if a.Strict {
		return DecisionAbort
	}
	return DecisionContinue
}

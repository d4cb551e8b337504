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

// Package pipeline runs items through a fixed sequence of steps, persisting a
// PipelineState per item after every step so work can resume after a crash.
package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Step is one stage of the pipeline. Run receives the results of the steps
// named by Inputs and returns this step's payload.
//
// Run reports "nothing to do" by returning Skip(reason); any other error marks
// the step failed. Wrap an error with Permanent to disable retries.
type Step interface {
	Name() string
	Inputs() []string
	Run(ctx context.Context, in Input) (Payload, error)
}

// Input carries what earlier steps produced for one item.
type Input struct {
	ItemKey string
	// Results holds copies of the completed input steps' payloads.
	Results map[string]Payload
	// Errors maps failed input steps to their error text.
	Errors map[string]string
	// ProcessingTime is the sum of step durations recorded so far, in seconds.
	ProcessingTime float64
}

func (in Input) Result(step string) (Payload, bool) {
	p, ok := in.Results[step]
	return p, ok && p != nil
}

// ReasonAlreadyCompleted is reported for steps left untouched on re-runs.
const ReasonAlreadyCompleted = "already completed"

// SkipError tells the executor a step had nothing to do.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Cause() error  { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// StepResult is the outcome of one Execute call.
type StepResult struct {
	Step   string
	Status Status
	// Reason is the skip reason or the error text.
	Reason string
	Err    error
	// Cached is set when the step was already done and left untouched.
	Cached      bool
	Recoverable bool
	Attempts    int
	Duration    time.Duration
	Decision    AgentDecision
}

// OK reports whether the step ended without a failure.
func (r *StepResult) OK() bool {
	return r != nil && r.Status != StatusFailed
}

// StateStore persists one PipelineState per item key. Load returns nil and no
// error when the item has no state yet.
type StateStore interface {
	Load(ctx context.Context, key string) (*PipelineState, error)
	Save(ctx context.Context, key string, st *PipelineState) error
}

// Options configures both orchestrators.
type Options struct {
	// Steps are the enabled steps in pipeline order.
	Steps []Step
	Store StateStore
	Agent Agent
	// Workers bounds the item-major pool and is the step-major default.
	Workers int
	// StepWorkers overrides the step-major pool size per step name.
	StepWorkers map[string]int
	// SkipIfCompleted leaves finished, up to date steps untouched.
	SkipIfCompleted bool
	// RetryBackoff is the pause before a retried step.
	RetryBackoff time.Duration
}

func (o Options) stepNames() []string {
	names := make([]string, 0, len(o.Steps))
	for _, s := range o.Steps {
		names = append(names, s.Name())
	}
	return names
}

func (o Options) workersFor(step string) int {
	if n, ok := o.StepWorkers[step]; ok && n > 0 {
		return n
	}
	return o.Workers
}

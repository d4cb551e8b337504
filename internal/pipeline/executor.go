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
	"runtime/debug"
	"time"

	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/log"
)

// Executor runs a single step for a single item.
type Executor struct {
	Agent   Agent
	Backoff time.Duration
}

func NewExecutor(agent Agent, backoff time.Duration) *Executor {
	if agent == nil {
		agent = &DefaultAgent{}
	}
	return &Executor{Agent: agent, Backoff: backoff}
}

// Execute runs step for the item key against a copy of st (a nil st starts a
// fresh state) and returns the outcome with the updated copy. Errors and panics
// raised by the step end up in the returned state, never in the caller.
func (e *Executor) Execute(ctx context.Context, key string, st *PipelineState, step Step, skipIfCompleted bool) (*StepResult, *PipelineState) {
	name := step.Name()
	if st == nil {
		st = NewPipelineState(key, []string{name})
	} else {
		st = st.Clone()
		st.EnsureSteps([]string{name})
	}
	res := &StepResult{Step: name}

	rec, _ := st.Record(name)
	if skipIfCompleted && rec.Status.Done() && !st.IsStale(name, step.Inputs()) {
		log.Debug("[%s] %s %s, skip", key, name, ReasonAlreadyCompleted)
		res.Status = StatusSkipped
		res.Reason = ReasonAlreadyCompleted
		res.Cached = true
		return res, st
	}
	if rec.Status != StatusPending {
		st.ResetStep(name)
	}

	for attempt := 1; ; attempt++ {
		if err := st.MarkRunning(name); err != nil {
			res.Status = StatusFailed
			res.Err = err
			res.Reason = err.Error()
			return res, st
		}
		in := gatherInputs(st, step)

		log.Debug("[%s] run %s (attempt %d)", key, name, attempt)
		start := time.Now()
		data, err := e.invoke(ctx, step, in)
		elapsed := time.Since(start)
		res.Attempts = attempt
		res.Duration += elapsed

		var skip *SkipError
		switch {
		case errors.As(err, &skip):
			_ = st.MarkSkipped(name, skip.Reason)
			res.Status = StatusSkipped
			res.Reason = skip.Reason
			return res, st
		case err == nil && len(data) == 0:
			reason := "no output from " + name
			_ = st.MarkSkipped(name, reason)
			res.Status = StatusSkipped
			res.Reason = reason
			return res, st
		case err == nil:
			_ = st.MarkCompleted(name, data, elapsed)
			res.Status = StatusCompleted
			res.Reason = ""
			res.Err = nil
			return res, st
		}

		_ = st.MarkFailed(name, err.Error())
		res.Status = StatusFailed
		res.Err = err
		res.Reason = err.Error()
		res.Recoverable = !IsPermanent(err) && ctx.Err() == nil
		res.Decision = e.Agent.OnStepFailure(ctx, step, st, res, attempt)
		if res.Decision != DecisionRetry {
			log.Warn("[%s] %s failed: %v", key, name, err)
			return res, st
		}

		log.Warn("[%s] %s failed, retrying: %v", key, name, err)
		st.ResetStep(name)
		st.Metadata.Retries++
		if e.Backoff > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.Backoff * time.Duration(attempt)):
			}
		}
	}
}

func (e *Executor) invoke(ctx context.Context, step Step, in Input) (data Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in step %s: %v\n%s", step.Name(), r, debug.Stack())
			data = nil
			err = Permanent(errors.Errorf("panic: %v", r))
		}
	}()
	return step.Run(ctx, in)
}

func gatherInputs(st *PipelineState, step Step) Input {
	in := Input{
		ItemKey:        st.ItemKey,
		Results:        make(map[string]Payload),
		Errors:         make(map[string]string),
		ProcessingTime: st.totalDuration(),
	}
	for _, name := range step.Inputs() {
		if p, ok := st.Results[name]; ok && p != nil {
			in.Results[name] = p.Clone()
		}
		if rec, ok := st.Record(name); ok && rec.Status == StatusFailed {
			in.Errors[name] = rec.Err()
		}
	}
	return in
}

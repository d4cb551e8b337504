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
	"time"

	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/log"
)

// StepMajor runs one step over every item before any item starts the next
// step, so an expensive engine is brought up once per batch. Each phase has
// its own pool size, see Options.StepWorkers.
type StepMajor struct {
	runner
}

func NewStepMajor(opts Options) *StepMajor {
	return &StepMajor{runner: newRunner(opts)}
}

type stepOutcome struct {
	res       *StepResult
	state     *PipelineState
	err       error
	finalized bool
	elapsed   time.Duration
}

func (o *StepMajor) Run(ctx context.Context, keys []string) *Report {
	keys = uniqueKeys(keys)
	if len(o.opts.Steps) == 0 {
		return (&ItemMajor{runner: o.runner}).run(ctx, keys, StrategyStepMajor)
	}

	rep := newReport(StrategyStepMajor)
	list, byName := newStepStats(o.names)
	items := make(map[string]*ItemReport, len(keys))
	for _, k := range keys {
		items[k] = &ItemReport{Key: k}
	}

	active := keys
	for i, step := range o.opts.Steps {
		name := step.Name()
		last := i == len(o.opts.Steps)-1
		stats := byName[name]
		cont := make(map[string]bool, len(active))

		log.Info("step %s: %d items, %d workers", name, len(active), o.opts.workersFor(name))
		left := RunBounded(ctx, o.opts.workersFor(name), active,
			func(ctx context.Context, key string) stepOutcome {
				return o.runStep(ctx, key, step, last)
			},
			func(key string, out stepOutcome) {
				it := items[key]
				it.Duration += out.elapsed
				if out.state != nil {
					it.State = out.state
				}
				if out.res != nil {
					stats.add(out.res)
					it.Steps = append(it.Steps, out.res)
				}
				switch {
				case out.err != nil:
					it.fail(out.err)
				case out.finalized:
					it.Status = out.state.OverallStatus
				default:
					cont[key] = true
				}
			})
		for _, key := range left {
			items[key].fail(errors.Wrapf(ctx.Err(), "stopped before %s", name))
		}
		stats.summary().Log()

		next := make([]string, 0, len(cont))
		for _, k := range active {
			if cont[k] {
				next = append(next, k)
			}
		}
		active = next
		if len(active) == 0 {
			break
		}
	}

	out := make([]ItemReport, 0, len(items))
	for _, k := range keys {
		out = append(out, *items[k])
	}
	return rep.finish(out, list)
}

// runStep loads the persisted state of key, runs one step and saves the result
// right away. The item is finalized after the last step or when the agent
// aborted it.
func (o *StepMajor) runStep(ctx context.Context, key string, step Step, last bool) (out stepOutcome) {
	start := time.Now()
	defer func() { out.elapsed = time.Since(start) }()

	st, err := o.load(ctx, key)
	if err != nil {
		out.err = err
		return out
	}
	out.res, st = o.exec.Execute(ctx, key, st, step, o.opts.SkipIfCompleted)
	if last || out.res.Decision == DecisionAbort {
		st.Finalize(o.names)
		out.finalized = true
	}
	out.state = st
	out.err = o.save(ctx, key, st)
	return out
}

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
)

// ItemMajor runs the whole step sequence for one item before that worker takes
// the next item. Items run concurrently, up to Options.Workers at a time.
type ItemMajor struct {
	runner
}

func NewItemMajor(opts Options) *ItemMajor {
	return &ItemMajor{runner: newRunner(opts)}
}

func (o *ItemMajor) Run(ctx context.Context, keys []string) *Report {
	return o.run(ctx, uniqueKeys(keys), StrategyItemMajor)
}

func (o *ItemMajor) run(ctx context.Context, keys []string, strategy string) *Report {
	rep := newReport(strategy)
	list, byName := newStepStats(o.names)
	items := make([]ItemReport, 0, len(keys))

	left := RunBounded(ctx, o.opts.Workers, keys, o.ProcessItem, func(_ string, it ItemReport) {
		for _, res := range it.Steps {
			if s := byName[res.Step]; s != nil {
				s.add(res)
			}
		}
		items = append(items, it)
	})
	for _, key := range left {
		it := ItemReport{Key: key}
		it.fail(errors.Wrap(ctx.Err(), "not started"))
		items = append(items, it)
	}
	return rep.finish(items, list)
}

// ProcessItem runs every enabled step for key in order, saving the state after
// each one, and finalizes the overall status.
func (o *ItemMajor) ProcessItem(ctx context.Context, key string) (it ItemReport) {
	start := time.Now()
	it = ItemReport{Key: key}
	defer func() { it.Duration = time.Since(start) }()

	st, err := o.load(ctx, key)
	if err != nil {
		it.fail(err)
		return it
	}
	for _, step := range o.opts.Steps {
		if err := ctx.Err(); err != nil {
			it.fail(errors.Wrapf(err, "stopped before %s", step.Name()))
			break
		}
		res, next := o.exec.Execute(ctx, key, st, step, o.opts.SkipIfCompleted)
		st = next
		it.Steps = append(it.Steps, res)
		if err := o.save(ctx, key, st); err != nil {
			it.State = st
			it.fail(err)
			return it
		}
		if res.Decision == DecisionAbort {
			break
		}
	}

	st.Finalize(o.names)
	it.State = st
	if err := o.save(ctx, key, st); err != nil {
		it.fail(err)
		return it
	}
	if it.Err == "" {
		it.Status = st.OverallStatus
	}
	return it
}

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
	"fmt"

	"github.com/pkg/errors"
)

// Orchestrator drives a batch of items through the enabled steps. Run always
// returns a report; failures are listed in it rather than returned.
type Orchestrator interface {
	Run(ctx context.Context, keys []string) *Report
}

// New returns the orchestrator for strategy ("item" or "step").
func New(strategy string, opts Options) (Orchestrator, error) {
	switch strategy {
	case StrategyItemMajor, "":
		return NewItemMajor(opts), nil
	case StrategyStepMajor:
		return NewStepMajor(opts), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q, want %q or %q", strategy, StrategyItemMajor, StrategyStepMajor)
	}
}

type runner struct {
	opts  Options
	exec  *Executor
	names []string
}

func newRunner(opts Options) runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return runner{
		opts:  opts,
		exec:  NewExecutor(opts.Agent, opts.RetryBackoff),
		names: opts.stepNames(),
	}
}

// load returns the persisted state of key, or a fresh one for a new item.
func (r *runner) load(ctx context.Context, key string) (*PipelineState, error) {
	st, err := r.opts.Store.Load(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "load state of %s", key)
	}
	if st == nil {
		return NewPipelineState(key, r.names), nil
	}
	st.EnsureSteps(r.names)
	return st, nil
}

// save persists st even when ctx was cancelled, so finished work is kept.
func (r *runner) save(ctx context.Context, key string, st *PipelineState) error {
	if err := r.opts.Store.Save(context.WithoutCancel(ctx), key, st); err != nil {
		return errors.Wrapf(err, "save state of %s", key)
	}
	return nil
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

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
	"sync"

	"golang.org/x/sync/errgroup"
)

// RunBounded calls fn for every input with at most workers calls in flight and
// passes each result to collect as soon as it is ready. Calls to collect are
// serialized. Once ctx is done no new input is dispatched; the inputs that were
// never dispatched are returned.
func RunBounded[T, R any](ctx context.Context, workers int, inputs []T, fn func(context.Context, T) R, collect func(T, R)) []T {
	if workers <= 0 {
		workers = 1
	}
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(workers)

	var undispatched []T
	for i, in := range inputs {
		if ctx.Err() != nil {
			undispatched = inputs[i:]
			break
		}
		g.Go(func() error {
			r := fn(ctx, in)
			mu.Lock()
			collect(in, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return undispatched
}

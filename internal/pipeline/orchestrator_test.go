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
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore round-trips every state through the YAML codec like a real store.
type memStore struct {
	mu      sync.Mutex
	docs    map[string][]byte
	saves   atomic.Int32
	failKey string
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string][]byte)}
}

func (m *memStore) Load(_ context.Context, key string) (*PipelineState, error) {
	m.mu.Lock()
	raw, ok := m.docs[key]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return UnmarshalState(raw)
}

func (m *memStore) Save(_ context.Context, key string, st *PipelineState) error {
	if key == m.failKey {
		return errors.New("disk full")
	}
	st.UpdatedAt = time.Now()
	raw, err := MarshalState(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[key] = raw
	m.mu.Unlock()
	m.saves.Add(1)
	return nil
}

func (m *memStore) state(t *testing.T, key string) *PipelineState {
	t.Helper()
	st, err := m.Load(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

// callLog records the wall-clock window of every step call.
type callLog struct {
	mu    sync.Mutex
	calls []call
}

type call struct {
	item, step string
	start, end time.Time
}

func (l *callLog) add(c call) {
	l.mu.Lock()
	l.calls = append(l.calls, c)
	l.mu.Unlock()
}

// fourSteps builds s1..s4 where s2 fails for items in failAt. Each step echoes
// its item and the previous step's value so results depend on inputs.
func fourSteps(log *callLog, failAt map[string]bool) []Step {
	var steps []Step
	for i := 1; i <= 4; i++ {
		name := fmt.Sprintf("s%d", i)
		prev := fmt.Sprintf("s%d", i-1)
		var inputs []string
		if i > 1 {
			inputs = []string{prev}
		}
		steps = append(steps, &fakeStep{name: name, inputs: inputs, fn: func(_ context.Context, in Input) (Payload, error) {
			c := call{item: in.ItemKey, step: name, start: time.Now()}
			time.Sleep(2 * time.Millisecond)
			defer func() {
				c.end = time.Now()
				if log != nil {
					log.add(c)
				}
			}()
			if name == "s2" && failAt[in.ItemKey] {
				return nil, Permanent(errors.New("engine exploded"))
			}
			p, _ := in.Result(prev)
			return Payload{"item": in.ItemKey, "from": p.String("item") + "/" + name}, nil
		}})
	}
	return steps
}

func TestItemMajor_PartialFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	keys := []string{"c.jpg", "a.jpg", "b.jpg"}
	o := NewItemMajor(Options{
		Steps:           fourSteps(nil, map[string]bool{"b.jpg": true}),
		Store:           store,
		Agent:           &DefaultAgent{},
		Workers:         3,
		SkipIfCompleted: true,
	})

	rep := o.Run(ctx, keys)
	assert.False(t, rep.OK())
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, []string{rep.Items[0].Key, rep.Items[1].Key, rep.Items[2].Key})
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, Failure{Item: "b.jpg", Step: "s2", Error: "engine exploded"}, rep.Failures[0])

	for _, k := range []string{"a.jpg", "c.jpg"} {
		st := store.state(t, k)
		assert.Equal(t, StatusCompleted, st.OverallStatus)
		for _, s := range []string{"s1", "s2", "s3", "s4"} {
			assert.True(t, st.IsCompleted(s), "%s %s", k, s)
		}
	}
	// graceful degradation: later steps of the failed item still ran
	st := store.state(t, "b.jpg")
	assert.Equal(t, StatusFailed, st.OverallStatus)
	assert.True(t, st.IsFailed("s2"))
	assert.True(t, st.IsCompleted("s3"))
	assert.True(t, st.IsCompleted("s4"))
	assert.Equal(t, []string{"s2"}, st.Metadata.FailedSteps)

	require.Len(t, rep.Steps, 4)
	assert.Equal(t, StepSummary{Step: "s2", Successful: 2, Failed: 1}, withoutDurations(rep.Steps[1]))
}

func withoutDurations(s StepSummary) StepSummary {
	s.Min, s.Avg, s.Max = 0, 0, 0
	return s
}

func TestStepMajor_Barrier(t *testing.T) {
	ctx := context.Background()
	calls := &callLog{}
	keys := []string{"1", "2", "3", "4", "5", "6"}
	o := NewStepMajor(Options{
		Steps:       fourSteps(calls, nil),
		Store:       newMemStore(),
		Workers:     4,
		StepWorkers: map[string]int{"s3": 1},
	})

	rep := o.Run(ctx, keys)
	require.True(t, rep.OK())
	require.Len(t, calls.calls, 24)

	lastEnd := map[string]time.Time{}
	firstStart := map[string]time.Time{}
	for _, c := range calls.calls {
		if e, ok := lastEnd[c.step]; !ok || c.end.After(e) {
			lastEnd[c.step] = c.end
		}
		if s, ok := firstStart[c.step]; !ok || c.start.Before(s) {
			firstStart[c.step] = c.start
		}
	}
	for i := 1; i < 4; i++ {
		a, b := fmt.Sprintf("s%d", i), fmt.Sprintf("s%d", i+1)
		assert.False(t, firstStart[b].Before(lastEnd[a]), "%s started before %s finished", b, a)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	var cur, peak atomic.Int32
	inputs := make([]int, 20)
	for i := range inputs {
		inputs[i] = i
	}
	var got []int
	left := RunBounded(context.Background(), 3, inputs, func(_ context.Context, i int) int {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		cur.Add(-1)
		return i * 2
	}, func(_ int, r int) {
		got = append(got, r)
	})

	assert.Empty(t, left)
	assert.Len(t, got, 20)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	sort.Ints(got)
	assert.Equal(t, 38, got[19])
}

func TestPool_StopsDispatchOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inputs := []int{1, 2, 3, 4, 5}
	var ran atomic.Int32
	left := RunBounded(ctx, 1, inputs, func(_ context.Context, i int) int {
		ran.Add(1)
		if i == 2 {
			cancel()
		}
		return i
	}, func(int, int) {})

	assert.NotEmpty(t, left)
	assert.Equal(t, int32(len(inputs)), ran.Load()+int32(len(left)))
}

func TestStrategiesAreInterchangeable(t *testing.T) {
	ctx := context.Background()
	keys := []string{"a.jpg", "b.jpg", "c.jpg"}
	fail := map[string]bool{"b.jpg": true}

	itemStore, stepStore := newMemStore(), newMemStore()
	NewItemMajor(Options{Steps: fourSteps(nil, fail), Store: itemStore, Workers: 2}).Run(ctx, keys)
	NewStepMajor(Options{Steps: fourSteps(nil, fail), Store: stepStore, Workers: 2}).Run(ctx, keys)
	for _, k := range keys {
		assert.Equal(t, fingerprint(itemStore.state(t, k)), fingerprint(stepStore.state(t, k)), k)
	}

	// resume a half-done item-major run with step-major
	mixed := newMemStore()
	steps := fourSteps(nil, fail)
	NewItemMajor(Options{Steps: steps[:2], Store: mixed, Workers: 2}).Run(ctx, keys)
	NewStepMajor(Options{Steps: steps, Store: mixed, Workers: 2, SkipIfCompleted: true}).Run(ctx, keys)
	for _, k := range keys {
		assert.Equal(t, fingerprint(itemStore.state(t, k)), fingerprint(mixed.state(t, k)), k)
	}
}

func TestItemMajor_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	steps := fourSteps(nil, nil)
	opts := Options{Steps: steps, Store: store, Workers: 2, SkipIfCompleted: true}
	require.True(t, NewItemMajor(opts).Run(ctx, []string{"a.jpg"}).OK())
	before := store.state(t, "a.jpg")

	counts := make([]int32, len(steps))
	for i, s := range steps {
		counts[i] = s.(*fakeStep).calls.Load()
	}
	rep := NewItemMajor(opts).Run(ctx, []string{"a.jpg"})
	require.True(t, rep.OK())
	for i, s := range steps {
		assert.Equal(t, counts[i], s.(*fakeStep).calls.Load(), "engine of %s called again", s.Name())
	}
	after := store.state(t, "a.jpg")
	assert.Equal(t, before.Results, after.Results)
	assert.Equal(t, fingerprint(before), fingerprint(after))
}

func TestItemMajor_RetriesFailedStepOnRerun(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	fail := map[string]bool{"a.jpg": true}
	steps := fourSteps(nil, fail)
	opts := Options{Steps: steps, Store: store, Workers: 1, SkipIfCompleted: true}
	require.False(t, NewItemMajor(opts).Run(ctx, []string{"a.jpg"}).OK())

	delete(fail, "a.jpg")
	rep := NewItemMajor(opts).Run(ctx, []string{"a.jpg"})
	assert.True(t, rep.OK())
	st := store.state(t, "a.jpg")
	assert.Equal(t, StatusCompleted, st.OverallStatus)
	assert.Empty(t, st.Metadata.FailedSteps)
	// s3 and s4 consumed the failed s2 earlier and are recomputed
	assert.Equal(t, "a.jpg/s3", st.Results["s3"].String("from"))
}

func TestStrictAgentAbortsItem(t *testing.T) {
	ctx := context.Background()
	for _, strategy := range []string{StrategyItemMajor, StrategyStepMajor} {
		t.Run(strategy, func(t *testing.T) {
			store := newMemStore()
			o, err := New(strategy, Options{
				Steps:   fourSteps(nil, map[string]bool{"b.jpg": true}),
				Store:   store,
				Agent:   &DefaultAgent{Strict: true},
				Workers: 2,
			})
			require.NoError(t, err)
			rep := o.Run(ctx, []string{"a.jpg", "b.jpg"})
			assert.Equal(t, 1, rep.Failed)

			st := store.state(t, "b.jpg")
			assert.Equal(t, StatusFailed, st.OverallStatus)
			assert.Equal(t, StatusPending, st.StepStatus("s3"))
			assert.Equal(t, StatusCompleted, store.state(t, "a.jpg").OverallStatus)
		})
	}
}

func TestPersistenceErrorIsLocal(t *testing.T) {
	ctx := context.Background()
	for _, strategy := range []string{StrategyItemMajor, StrategyStepMajor} {
		t.Run(strategy, func(t *testing.T) {
			store := newMemStore()
			store.failKey = "b.jpg"
			o, err := New(strategy, Options{Steps: fourSteps(nil, nil), Store: store, Workers: 2})
			require.NoError(t, err)

			rep := o.Run(ctx, []string{"a.jpg", "b.jpg", "c.jpg"})
			assert.Equal(t, 2, rep.Succeeded)
			require.Len(t, rep.Failures, 1)
			assert.Equal(t, "b.jpg", rep.Failures[0].Item)
			assert.Empty(t, rep.Failures[0].Step)
			assert.Contains(t, rep.Failures[0].Error, "disk full")
		})
	}
}

func TestCancelledRunReportsUndispatched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, strategy := range []string{StrategyItemMajor, StrategyStepMajor} {
		o, err := New(strategy, Options{Steps: fourSteps(nil, nil), Store: newMemStore(), Workers: 2})
		require.NoError(t, err)
		rep := o.Run(ctx, []string{"a.jpg", "b.jpg"})
		assert.Equal(t, 2, rep.Failed, strategy)
		assert.Len(t, rep.Failures, 2, strategy)
	}
}

func TestNewUnknownStrategy(t *testing.T) {
	_, err := New("diagonal", Options{})
	assert.Error(t, err)
}

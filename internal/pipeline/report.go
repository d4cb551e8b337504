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
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cloudwego/captioner/internal/log"
)

const (
	StrategyItemMajor = "item"
	StrategyStepMajor = "step"
)

// Failure attributes an error to one item and, when known, one step. Step is
// empty for errors outside any step, such as a state store failure.
type Failure struct {
	Item  string `json:"item"`
	Step  string `json:"step,omitempty"`
	Error string `json:"error"`
}

// ItemReport is the outcome of one item in a batch.
type ItemReport struct {
	Key      string         `json:"item"`
	Status   Status         `json:"status"`
	Duration time.Duration  `json:"duration"`
	Err      string         `json:"error,omitempty"`
	Steps    []*StepResult  `json:"-"`
	State    *PipelineState `json:"-"`
}

func (r *ItemReport) fail(err error) {
	r.Err = err.Error()
	r.Status = StatusFailed
}

func (r *ItemReport) failures() []Failure {
	var out []Failure
	if r.State != nil {
		for _, f := range r.State.FailedRecords() {
			out = append(out, Failure{Item: r.Key, Step: f[0], Error: f[1]})
		}
	}
	if r.Err != "" {
		out = append(out, Failure{Item: r.Key, Error: r.Err})
	}
	return out
}

// StepSummary aggregates one step over all items of a batch. Durations only
// count calls that actually ran the step.
type StepSummary struct {
	Step       string        `json:"step"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Min        time.Duration `json:"min"`
	Avg        time.Duration `json:"avg"`
	Max        time.Duration `json:"max"`
}

type stepStats struct {
	name                     string
	successful, failed, skip int
	durations                []time.Duration
}

func (s *stepStats) add(res *StepResult) {
	switch res.Status {
	case StatusCompleted:
		s.successful++
	case StatusFailed:
		s.failed++
	default:
		s.skip++
	}
	if !res.Cached {
		s.durations = append(s.durations, res.Duration)
	}
}

func (s *stepStats) summary() StepSummary {
	sum := StepSummary{Step: s.name, Successful: s.successful, Failed: s.failed, Skipped: s.skip}
	if len(s.durations) == 0 {
		return sum
	}
	var total time.Duration
	sum.Min, sum.Max = s.durations[0], s.durations[0]
	for _, d := range s.durations {
		total += d
		sum.Min = min(sum.Min, d)
		sum.Max = max(sum.Max, d)
	}
	sum.Avg = total / time.Duration(len(s.durations))
	return sum
}

func (s StepSummary) Log() {
	log.Info("step %s: %d successful, %d failed, %d skipped, duration min %.2fs avg %.2fs max %.2fs",
		s.Step, s.Successful, s.Failed, s.Skipped, s.Min.Seconds(), s.Avg.Seconds(), s.Max.Seconds())
}

// Report summarizes a batch run. Items and Failures are sorted by item key so
// the report does not depend on completion order.
type Report struct {
	RunID     string        `json:"run_id"`
	Strategy  string        `json:"strategy"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Items     []ItemReport  `json:"items"`
	Steps     []StepSummary `json:"steps"`
	Failures  []Failure     `json:"failures"`
}

func newReport(strategy string) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Strategy:  strategy,
		StartedAt: time.Now(),
	}
}

// OK reports whether every item completed.
func (r *Report) OK() bool {
	return r.Failed == 0
}

func (r *Report) finish(items []ItemReport, stats []*stepStats) *Report {
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	r.Items = items
	r.Total = len(items)
	r.Failures = []Failure{}
	for i := range items {
		if items[i].Status == StatusCompleted && items[i].Err == "" {
			r.Succeeded++
		} else {
			r.Failed++
		}
		r.Failures = append(r.Failures, items[i].failures()...)
	}
	for _, s := range stats {
		r.Steps = append(r.Steps, s.summary())
	}
	r.Elapsed = time.Since(r.StartedAt)
	return r
}

// Log writes the report through the package logger.
func (r *Report) Log() {
	log.Info("run %s (%s-major): %d items, %d completed, %d failed in %.2fs",
		r.RunID, r.Strategy, r.Total, r.Succeeded, r.Failed, r.Elapsed.Seconds())
	for _, s := range r.Steps {
		s.Log()
	}
	for _, it := range r.Items {
		log.Debug("  %s: %s (%.2fs)", it.Key, it.Status, it.Duration.Seconds())
	}
	for _, f := range r.Failures {
		if f.Step == "" {
			log.Error("  %s: %s", f.Item, f.Error)
		} else {
			log.Error("  %s [%s]: %s", f.Item, f.Step, f.Error)
		}
	}
}

func newStepStats(names []string) ([]*stepStats, map[string]*stepStats) {
	list := make([]*stepStats, 0, len(names))
	byName := make(map[string]*stepStats, len(names))
	for _, n := range names {
		s := &stepStats{name: n}
		list = append(list, s)
		byName[n] = s
	}
	return list, byName
}

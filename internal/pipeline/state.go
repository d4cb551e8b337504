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
	"math"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Status is the lifecycle status of a step record or of a whole item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Done reports whether a step in this status needs no further work.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusSkipped
}

const (
	StepOCR         = "ocr_processing"
	StepVision      = "image_agent_analysis"
	StepCorrection  = "text_agent_processing"
	StepTranslation = "translation"
	StepAggregation = "metadata_combination"
)

// Sequence is the fixed order of every step the pipeline knows about.
var Sequence = []string{StepOCR, StepVision, StepCorrection, StepTranslation, StepAggregation}

var (
	ErrUnknownStep       = errors.New("unknown step")
	ErrInvalidTransition = errors.New("invalid step transition")
)

// timeNow is swapped in tests.
var timeNow = time.Now

// PipelineState is the single source of truth for one item's progress. It is
// persisted after every step so a restarted process can resume from it.
type PipelineState struct {
	ItemKey       string             `yaml:"item_key" json:"item_key"`
	ItemName      string             `yaml:"item_name" json:"item_name"`
	CreatedAt     time.Time          `yaml:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `yaml:"updated_at" json:"updated_at"`
	OverallStatus Status             `yaml:"overall_status" json:"overall_status"`
	CurrentStep   string             `yaml:"current_step" json:"current_step"`
	Steps         StepRecords        `yaml:"steps" json:"steps"`
	Results       map[string]Payload `yaml:"results" json:"results"`
	Metadata      Metadata           `yaml:"metadata" json:"metadata"`
}

// StepRecord describes one step of one item. Nil pointers mean "not set".
type StepRecord struct {
	Status      Status     `yaml:"status" json:"status"`
	StartedAt   *time.Time `yaml:"started_at" json:"started_at"`
	CompletedAt *time.Time `yaml:"completed_at" json:"completed_at"`
	Duration    *float64   `yaml:"duration" json:"duration"`
	Error       *string    `yaml:"error" json:"error"`
	Data        Payload    `yaml:"data" json:"data"`
}

type Metadata struct {
	TotalProcessingTime float64  `yaml:"total_processing_time" json:"total_processing_time"`
	FailedSteps         []string `yaml:"failed_steps" json:"failed_steps"`
	Retries             int      `yaml:"retries" json:"retries"`
}

// Err returns the recorded error or skip reason, or "".
func (r *StepRecord) Err() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return *r.Error
}

func (r *StepRecord) Seconds() float64 {
	if r == nil || r.Duration == nil {
		return 0
	}
	return *r.Duration
}

func (r *StepRecord) clone() *StepRecord {
	out := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	if r.Duration != nil {
		d := *r.Duration
		out.Duration = &d
	}
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	out.Data = r.Data.Clone()
	return &out
}

func pendingRecord() *StepRecord {
	return &StepRecord{Status: StatusPending}
}

// NewPipelineState returns a fresh state for itemKey with every step pending.
func NewPipelineState(itemKey string, steps []string) *PipelineState {
	t := timeNow()
	st := &PipelineState{
		ItemKey:       itemKey,
		ItemName:      filepath.Base(itemKey),
		CreatedAt:     t,
		UpdatedAt:     t,
		OverallStatus: StatusPending,
		Results:       make(map[string]Payload),
		Metadata:      Metadata{FailedSteps: []string{}},
	}
	st.EnsureSteps(steps)
	return st
}

// EnsureSteps adds a pending record for every step not yet present and keeps
// the records in pipeline order. States written before a step was enabled
// gain the missing record here.
func (s *PipelineState) EnsureSteps(steps []string) {
	for _, name := range steps {
		s.Steps.ensure(name)
	}
	rank := func(name string) int {
		if i := slices.Index(Sequence, name); i >= 0 {
			return i
		}
		return len(Sequence)
	}
	sort.SliceStable(s.Steps.names, func(i, j int) bool {
		return rank(s.Steps.names[i]) < rank(s.Steps.names[j])
	})
}

// Clone returns a deep copy; the executor never mutates its caller's state.
func (s *PipelineState) Clone() *PipelineState {
	if s == nil {
		return nil
	}
	out := *s
	out.Steps = s.Steps.clone()
	out.Results = make(map[string]Payload, len(s.Results))
	for k, v := range s.Results {
		out.Results[k] = v.Clone()
	}
	out.Metadata.FailedSteps = append([]string{}, s.Metadata.FailedSteps...)
	return &out
}

func (s *PipelineState) Record(step string) (*StepRecord, bool) {
	return s.Steps.Get(step)
}

// StepStatus returns the status of step; missing records read as pending.
func (s *PipelineState) StepStatus(step string) Status {
	if rec, ok := s.Steps.Get(step); ok {
		return rec.Status
	}
	return StatusPending
}

func (s *PipelineState) IsCompleted(step string) bool {
	return s.StepStatus(step) == StatusCompleted
}

func (s *PipelineState) IsFailed(step string) bool {
	return s.StepStatus(step) == StatusFailed
}

// IsStale reports whether a finished step has an input step that finished
// after it, meaning its output was computed from outdated inputs.
func (s *PipelineState) IsStale(step string, inputs []string) bool {
	rec, ok := s.Steps.Get(step)
	if !ok || rec.CompletedAt == nil {
		return false
	}
	for _, in := range inputs {
		dep, ok := s.Steps.Get(in)
		if !ok || dep.CompletedAt == nil || !dep.Status.Done() {
			continue
		}
		if dep.CompletedAt.After(*rec.CompletedAt) {
			return true
		}
	}
	return false
}

func (s *PipelineState) transition(step string, to Status, from ...Status) (*StepRecord, error) {
	rec := s.Steps.ensure(step)
	if !slices.Contains(from, rec.Status) {
		return nil, errors.Wrapf(ErrInvalidTransition, "%s: %s -> %s", step, rec.Status, to)
	}
	return rec, nil
}

func (s *PipelineState) MarkRunning(step string) error {
	rec, err := s.transition(step, StatusRunning, StatusPending)
	if err != nil {
		return err
	}
	t := timeNow()
	rec.Status = StatusRunning
	rec.StartedAt = &t
	rec.CompletedAt = nil
	rec.Duration = nil
	rec.Error = nil
	s.CurrentStep = step
	s.OverallStatus = StatusRunning
	return nil
}

// MarkCompleted stores data in both the step record and the results map.
func (s *PipelineState) MarkCompleted(step string, data Payload, d time.Duration) error {
	rec, err := s.transition(step, StatusCompleted, StatusRunning)
	if err != nil {
		return err
	}
	t := timeNow()
	secs := roundSeconds(d.Seconds())
	rec.Status = StatusCompleted
	rec.CompletedAt = &t
	rec.Duration = &secs
	rec.Error = nil
	if data != nil {
		rec.Data = data.Clone()
		s.Results[step] = data.Clone()
	}
	s.settle()
	return nil
}

func (s *PipelineState) MarkFailed(step string, msg string) error {
	rec, err := s.transition(step, StatusFailed, StatusRunning)
	if err != nil {
		return err
	}
	t := timeNow()
	rec.Status = StatusFailed
	rec.CompletedAt = &t
	rec.Error = &msg
	rec.Data = nil
	delete(s.Results, step)
	s.OverallStatus = StatusFailed
	if !slices.Contains(s.Metadata.FailedSteps, step) {
		s.Metadata.FailedSteps = append(s.Metadata.FailedSteps, step)
	}
	return nil
}

// MarkSkipped records reason in the error field for diagnostics.
func (s *PipelineState) MarkSkipped(step string, reason string) error {
	rec, err := s.transition(step, StatusSkipped, StatusPending, StatusRunning)
	if err != nil {
		return err
	}
	t := timeNow()
	rec.Status = StatusSkipped
	rec.CompletedAt = &t
	rec.Error = &reason
	rec.Data = nil
	delete(s.Results, step)
	s.settle()
	return nil
}

// settle keeps an earlier failure visible while later steps still run.
func (s *PipelineState) settle() {
	if len(s.Metadata.FailedSteps) > 0 {
		s.OverallStatus = StatusFailed
	}
}

func (s *PipelineState) MarkPipelineCompleted() {
	s.OverallStatus = StatusCompleted
	s.CurrentStep = ""
	s.Metadata.TotalProcessingTime = s.totalDuration()
}

// Finalize settles the overall status once every enabled step had its turn:
// failed if any of them failed, completed if all are done, otherwise the item
// stays pending so a later run picks it up.
func (s *PipelineState) Finalize(enabled []string) Status {
	s.Metadata.TotalProcessingTime = s.totalDuration()
	s.CurrentStep = ""
	allDone := true
	for _, step := range enabled {
		switch st := s.StepStatus(step); {
		case st == StatusFailed:
			s.OverallStatus = StatusFailed
			return s.OverallStatus
		case !st.Done():
			allDone = false
		}
	}
	if allDone {
		s.MarkPipelineCompleted()
	} else {
		s.OverallStatus = StatusPending
	}
	return s.OverallStatus
}

// ResetStep restores step to a pristine pending record. A record left running
// by a crashed process is reset the same way before it is retried.
func (s *PipelineState) ResetStep(step string) {
	rec := s.Steps.ensure(step)
	*rec = *pendingRecord()
	delete(s.Results, step)
	s.Metadata.FailedSteps = slices.DeleteFunc(s.Metadata.FailedSteps, func(n string) bool { return n == step })
	switch {
	case s.OverallStatus == StatusCompleted:
		s.OverallStatus = StatusPending
	case s.OverallStatus == StatusFailed && len(s.Metadata.FailedSteps) == 0:
		s.OverallStatus = StatusPending
	}
}

// FailedRecords returns (step, error) pairs of failed steps in pipeline order.
func (s *PipelineState) FailedRecords() [][2]string {
	var out [][2]string
	for _, name := range s.Steps.Names() {
		rec, _ := s.Steps.Get(name)
		if rec.Status == StatusFailed {
			out = append(out, [2]string{name, rec.Err()})
		}
	}
	return out
}

func (s *PipelineState) totalDuration() float64 {
	var total float64
	for _, name := range s.Steps.Names() {
		rec, _ := s.Steps.Get(name)
		total += rec.Seconds()
	}
	return roundSeconds(total)
}

func roundSeconds(f float64) float64 {
	return math.Round(f*1000) / 1000
}

/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"text/tabwriter"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/config"
	"github.com/cloudwego/captioner/internal/log"
	"github.com/cloudwego/captioner/internal/pipeline"
	"github.com/cloudwego/captioner/internal/store"
	"github.com/cloudwego/captioner/internal/utils"
)

const allSteps = "all"

type folderStatus struct {
	Images  int                       `json:"images"`
	Overall map[pipeline.Status]int   `json:"overall"`
	Steps   map[string]map[string]int `json:"steps"`
	Items   []*pipeline.PipelineState `json:"items,omitempty"`
	Missing []string                  `json:"missing,omitempty"`
	// Store counts every document in a shared store, including other folders.
	Store map[pipeline.Status]int `json:"store,omitempty"`
}

type statusCounter interface {
	CountByStatus(ctx context.Context) (map[pipeline.Status]int, error)
}

// storeTotals asks a database backed store for its overall counts. Other
// stores return nil.
func storeTotals(ctx context.Context, st pipeline.StateStore) (map[pipeline.Status]int, error) {
	c, ok := st.(statusCounter)
	if !ok {
		return nil, nil
	}
	counts, err := c.CountByStatus(ctx)
	return counts, errors.Wrap(err, "count states")
}

// loadStates returns the persisted state of every image under folder, nil
// entries for images never processed.
func loadStates(ctx context.Context, cfg *config.Config, folder string) ([]string, []*pipeline.PipelineState, pipeline.StateStore, func(), error) {
	files, err := utils.ListImages(folder, cfg.Data.SupportedFormats)
	if err != nil {
		return nil, nil, nil, func() {}, err
	}
	st, release, err := store.Open(cfg.StoreOptions())
	if err != nil {
		return nil, nil, nil, release, errors.Wrap(err, "open state store")
	}
	states := make([]*pipeline.PipelineState, len(files))
	for i, f := range files {
		if states[i], err = st.Load(ctx, f); err != nil {
			return nil, nil, nil, release, err
		}
	}
	return files, states, st, release, nil
}

func collectStatus(files []string, states []*pipeline.PipelineState) *folderStatus {
	out := &folderStatus{
		Images:  len(files),
		Overall: make(map[pipeline.Status]int),
		Steps:   make(map[string]map[string]int),
	}
	for i, st := range states {
		if st == nil {
			out.Missing = append(out.Missing, files[i])
			continue
		}
		out.Items = append(out.Items, st)
		out.Overall[st.OverallStatus]++
		for _, name := range st.Steps.Names() {
			if out.Steps[name] == nil {
				out.Steps[name] = make(map[string]int)
			}
			out.Steps[name][string(st.StepStatus(name))]++
		}
	}
	return out
}

func printStatus(ctx context.Context, cfg *config.Config, folder string, asJSON bool) error {
	files, states, st, release, err := loadStates(ctx, cfg, folder)
	defer release()
	if err != nil {
		return err
	}
	sum := collectStatus(files, states)
	if sum.Store, err = storeTotals(ctx, st); err != nil {
		return err
	}
	if asJSON {
		js, err := utils.MarshalJSONIndent(sum)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, js)
		return nil
	}
	return writeStatusTable(os.Stdout, files, states, sum)
}

func writeStatusTable(out io.Writer, files []string, states []*pipeline.PipelineState, sum *folderStatus) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprint(w, "IMAGE\tOVERALL")
	for _, name := range pipeline.Sequence {
		fmt.Fprintf(w, "\t%s", name)
	}
	fmt.Fprintln(w)
	for i, st := range states {
		if st == nil {
			fmt.Fprintf(w, "%s\t-\n", files[i])
			continue
		}
		fmt.Fprintf(w, "%s\t%s", files[i], st.OverallStatus)
		for _, name := range pipeline.Sequence {
			if _, ok := st.Record(name); ok {
				fmt.Fprintf(w, "\t%s", st.StepStatus(name))
			} else {
				fmt.Fprint(w, "\t-")
			}
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d images: %d completed, %d failed, %d pending, %d not processed\n",
		sum.Images, sum.Overall[pipeline.StatusCompleted], sum.Overall[pipeline.StatusFailed],
		sum.Overall[pipeline.StatusPending]+sum.Overall[pipeline.StatusRunning], len(sum.Missing))
	if sum.Store != nil {
		fmt.Fprintf(out, "store: %d completed, %d failed, %d pending\n",
			sum.Store[pipeline.StatusCompleted], sum.Store[pipeline.StatusFailed],
			sum.Store[pipeline.StatusPending]+sum.Store[pipeline.StatusRunning])
	}
	return nil
}

// resetSteps resets step, or every step for "all", and reports whether st changed.
func resetSteps(st *pipeline.PipelineState, step string) bool {
	names := []string{step}
	if step == allSteps {
		names = st.Steps.Names()
	}
	changed := false
	for _, name := range names {
		if _, ok := st.Record(name); !ok {
			continue
		}
		st.ResetStep(name)
		changed = true
	}
	return changed
}

func resetFolder(ctx context.Context, cfg *config.Config, folder, step string) error {
	if step == "" {
		return errors.New("-step is required")
	}
	if step != allSteps && !slices.Contains(pipeline.Sequence, step) {
		return errors.Wrap(pipeline.ErrUnknownStep, step)
	}
	files, states, st, release, err := loadStates(ctx, cfg, folder)
	defer release()
	if err != nil {
		return err
	}
	n := 0
	for i, s := range states {
		if s == nil || !resetSteps(s, step) {
			continue
		}
		if err := st.Save(ctx, files[i], s); err != nil {
			return err
		}
		n++
	}
	log.Info("reset %s of %d images in %s", step, n, folder)
	return nil
}

// stateSchema is the JSON schema of the persisted state document. Steps are
// keyed by step name in pipeline order.
func stateSchema() string {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	record := r.Reflect(&pipeline.StepRecord{})
	record.Version = ""
	names := make([]any, 0, len(pipeline.Sequence))
	for _, n := range pipeline.Sequence {
		names = append(names, n)
	}
	r.Mapper = func(t reflect.Type) *jsonschema.Schema {
		if t == reflect.TypeOf(pipeline.StepRecords{}) {
			return &jsonschema.Schema{
				Type:                 "object",
				PropertyNames:        &jsonschema.Schema{Enum: names},
				AdditionalProperties: record,
			}
		}
		return nil
	}
	s := r.Reflect(&pipeline.PipelineState{})
	s.Title = "Caption pipeline state"
	js, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(js)
}

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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprint hashes the parts of a state that describe its outcome: step
// statuses, errors and results. Timestamps and durations are left out so two
// runs over the same input compare equal.
func fingerprint(st *PipelineState) string {
	type view struct {
		Status  Status             `json:"status"`
		Steps   map[string]any     `json:"steps"`
		Results map[string]Payload `json:"results"`
		Failed  []string           `json:"failed"`
	}
	v := view{
		Status:  st.OverallStatus,
		Steps:   make(map[string]any, st.Steps.Len()),
		Results: st.Results,
		Failed:  st.Metadata.FailedSteps,
	}
	for _, name := range st.Steps.Names() {
		rec, _ := st.Steps.Get(name)
		v.Steps[name] = map[string]any{"status": rec.Status, "error": rec.Err(), "data": rec.Data}
	}
	raw, _ := json.Marshal(v)
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

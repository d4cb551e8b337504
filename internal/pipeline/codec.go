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
	"bytes"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MarshalState encodes st as a YAML document with two space indentation.
func MarshalState(st *PipelineState) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(st); err != nil {
		return nil, errors.Wrap(err, "encode state")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encode state")
	}
	return buf.Bytes(), nil
}

// UnmarshalState decodes a YAML (or JSON, which is valid YAML) state document.
// Unknown keys are ignored so documents written by newer versions still load.
func UnmarshalState(data []byte) (*PipelineState, error) {
	st := &PipelineState{}
	if err := yaml.Unmarshal(data, st); err != nil {
		return nil, errors.Wrap(err, "decode state")
	}
	if st.Results == nil {
		st.Results = make(map[string]Payload)
	}
	if st.Metadata.FailedSteps == nil {
		st.Metadata.FailedSteps = []string{}
	}
	if !st.OverallStatus.valid() {
		st.OverallStatus = StatusPending
	}
	return st, nil
}

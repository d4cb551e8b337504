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
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Payload is the free-form result of a step.
type Payload map[string]any

// Clone deep-copies nested maps and slices.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Payload:
		return x.Clone()
	case map[string]any:
		return map[string]any(Payload(x).Clone())
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	case []string:
		return append([]string(nil), x...)
	}
	return v
}

// String returns p[key] if it is a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Float accepts any numeric representation a decoder may have produced.
func (p Payload) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// StepRecords keeps step records in pipeline order, which a plain map would lose
// in the persisted document.
type StepRecords struct {
	names []string
	recs  map[string]*StepRecord
}

func (s *StepRecords) Get(name string) (*StepRecord, bool) {
	rec, ok := s.recs[name]
	return rec, ok
}

func (s *StepRecords) Names() []string {
	return append([]string(nil), s.names...)
}

func (s *StepRecords) Len() int {
	return len(s.names)
}

func (s *StepRecords) ensure(name string) *StepRecord {
	if rec, ok := s.recs[name]; ok {
		return rec
	}
	if s.recs == nil {
		s.recs = make(map[string]*StepRecord)
	}
	rec := pendingRecord()
	s.recs[name] = rec
	s.names = append(s.names, name)
	return rec
}

func (s *StepRecords) set(name string, rec *StepRecord) {
	if _, ok := s.recs[name]; !ok {
		s.names = append(s.names, name)
	}
	if s.recs == nil {
		s.recs = make(map[string]*StepRecord)
	}
	s.recs[name] = rec
}

func (s StepRecords) clone() StepRecords {
	out := StepRecords{
		names: append([]string(nil), s.names...),
		recs:  make(map[string]*StepRecord, len(s.recs)),
	}
	for k, v := range s.recs {
		out.recs[k] = v.clone()
	}
	return out
}

func (s StepRecords) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, name := range s.names {
		val := &yaml.Node{}
		if err := val.Encode(s.recs[name]); err != nil {
			return nil, errors.Wrapf(err, "encode step %s", name)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}, val)
	}
	return node, nil
}

func (s *StepRecords) UnmarshalYAML(value *yaml.Node) error {
	*s = StepRecords{}
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("steps: expected mapping, got kind %d", value.Kind)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		name := value.Content[i].Value
		rec := pendingRecord()
		if err := value.Content[i+1].Decode(rec); err != nil {
			return errors.Wrapf(err, "decode step %s", name)
		}
		rec.normalize()
		s.set(name, rec)
	}
	return nil
}

func (s StepRecords) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(name)
		v, err := json.Marshal(s.recs[name])
		if err != nil {
			return nil, errors.Wrapf(err, "encode step %s", name)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *StepRecords) UnmarshalJSON(data []byte) error {
	*s = StepRecords{}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("steps: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		rec := pendingRecord()
		if err := dec.Decode(rec); err != nil {
			return errors.Wrapf(err, "decode step %s", name)
		}
		rec.normalize()
		s.set(name, rec)
	}
	_, err = dec.Token()
	return err
}

// normalize maps unknown status strings written by other tools to pending so
// the step runs again instead of being trusted.
func (r *StepRecord) normalize() {
	if !r.Status.valid() {
		r.Status = StatusPending
	}
}

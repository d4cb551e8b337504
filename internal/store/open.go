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

package store

import (
	"fmt"
	"time"

	"github.com/cloudwego/captioner/internal/pipeline"
)

const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendValkey = "valkey"
)

type Options struct {
	Backend        string
	Dir            string
	SQLitePath     string
	ValkeyAddr     string
	ValkeyPassword string
	ValkeyTTL      time.Duration
}

// Open returns the configured backend and a function releasing it.
func Open(opts Options) (pipeline.StateStore, func(), error) {
	noop := func() {}
	switch opts.Backend {
	case BackendFile, "":
		return NewFileStore(opts.Dir), noop, nil
	case BackendMemory:
		return NewMemoryStore(), noop, nil
	case BackendSQLite:
		s, err := NewSQLiteStore(opts.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case BackendValkey:
		client, err := NewValkeyClient(opts.ValkeyAddr, opts.ValkeyPassword)
		if err != nil {
			return nil, noop, err
		}
		s := NewValkeyStore(client, opts.ValkeyTTL)
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown state backend %q", opts.Backend)
	}
}

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

// Package store implements pipeline.StateStore backends.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/log"
	"github.com/cloudwego/captioner/internal/pipeline"
)

// FileStore keeps one YAML document per image. With an empty Dir the document
// sits next to the image as <name>.<ext>.yml. With a Dir every document shares
// one directory, so the name also carries a hash of the full key.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Path returns the document location for an item key.
func (s *FileStore) Path(key string) string {
	key = filepath.Clean(key)
	base := filepath.Base(key)
	if s.Dir == "" {
		return filepath.Join(filepath.Dir(key), base+".yml")
	}
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.Dir, base+"-"+hex.EncodeToString(sum[:4])+".yml")
}

// Load treats a document recorded for a different item as absent.
func (s *FileStore) Load(_ context.Context, key string) (*pipeline.PipelineState, error) {
	path := s.Path(key)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	st, err := pipeline.UnmarshalState(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if st.ItemKey != "" && filepath.Clean(st.ItemKey) != filepath.Clean(key) {
		log.Warn("state %s belongs to %s, ignoring it for %s", path, st.ItemKey, key)
		return nil, nil
	}
	return st, nil
}

// Save writes to a temp file in the target directory and renames it over the
// document, so readers see either the old or the new version.
func (s *FileStore) Save(_ context.Context, key string, st *pipeline.PipelineState) error {
	st.UpdatedAt = time.Now()
	raw, err := pipeline.MarshalState(st)
	if err != nil {
		return err
	}
	path := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create state dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp state")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp state")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temp state")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp state")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "replace %s", path)
	}
	return nil
}

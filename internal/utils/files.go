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

package utils

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/log"
)

// ListImages walks root recursively and returns the files whose extension is
// one of formats (case-insensitive, with leading dot), sorted by path.
func ListImages(root string, formats []string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, errors.Wrapf(err, "input folder %s", root)
	}
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if HasFormat(path, formats) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", root)
	}
	sort.Strings(files)
	return files, nil
}

func HasFormat(path string, formats []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range formats {
		if strings.ToLower(f) == ext {
			return true
		}
	}
	return false
}

// WatchDir calls handle for every filesystem event under dir until ctx is done.
// Newly created sub directories are watched as well.
func WatchDir(ctx context.Context, dir string, handle func(op fsnotify.Op, file string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer watcher.Close()

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := watcher.Add(ev.Name); err != nil {
						log.Warn("watch %s: %v", ev.Name, err)
					}
					continue
				}
			}
			handle(ev.Op, ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watch %s: %v", dir, err)
		}
	}
}

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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestListImages(t *testing.T) {
	root := t.TempDir()
	for _, f := range []string{"b.PNG", "a.jpg", "notes.txt", "a.yml", "sub/c.webp"} {
		touch(t, filepath.Join(root, f))
	}
	got, err := ListImages(root, []string{".jpg", ".png", ".webp"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.jpg"),
		filepath.Join(root, "b.PNG"),
		filepath.Join(root, "sub", "c.webp"),
	}, got)

	_, err = ListImages(filepath.Join(root, "missing"), []string{".jpg"})
	assert.Error(t, err)
}

func TestHasFormat(t *testing.T) {
	assert.True(t, HasFormat("/x/y.JPEG", []string{".jpeg"}))
	assert.False(t, HasFormat("/x/y", []string{".jpeg"}))
	assert.False(t, HasFormat("/x/y.png", nil))
}

func TestWatchDir(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- WatchDir(ctx, root, func(op fsnotify.Op, file string) {
			if op&fsnotify.Create != 0 {
				events <- file
			}
		})
	}()
	time.Sleep(100 * time.Millisecond)

	want := filepath.Join(root, "new.png")
	touch(t, want)
	select {
	case got := <-events:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no create event")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil, "ctx"))
	err := WrapError(os.ErrNotExist, "open state")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, "open state: file does not exist", err.Error())
}

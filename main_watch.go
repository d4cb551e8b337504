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
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cloudwego/captioner/internal/config"
	"github.com/cloudwego/captioner/internal/log"
	"github.com/cloudwego/captioner/internal/pipeline"
	"github.com/cloudwego/captioner/internal/utils"
)

// settleDelay lets a file being copied finish before it is processed.
const settleDelay = 500 * time.Millisecond

// debouncer emits a file once no event touched it for settleDelay.
type debouncer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	delay  time.Duration
	emit   func(file string)
}

func newDebouncer(delay time.Duration, emit func(string)) *debouncer {
	return &debouncer{timers: make(map[string]*time.Timer), delay: delay, emit: emit}
}

func (d *debouncer) touch(file string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[file]; ok {
		t.Reset(d.delay)
		return
	}
	d.timers[file] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.timers, file)
		d.mu.Unlock()
		d.emit(file)
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for f, t := range d.timers {
		t.Stop()
		delete(d.timers, f)
	}
}

func watchFolder(ctx context.Context, cfg *config.Config, opts cliOptions, folder string) error {
	orch, release, err := newOrchestrator(cfg, opts)
	defer release()
	if err != nil {
		return err
	}
	files, err := utils.ListImages(folder, cfg.Data.SupportedFormats)
	if err != nil {
		return err
	}
	if len(files) > 0 {
		orch.Run(ctx, files).Log()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	queue := make(chan string, 64)
	deb := newDebouncer(settleDelay, func(file string) {
		select {
		case queue <- file:
		case <-ctx.Done():
		}
	})
	defer deb.stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		processQueue(ctx, orch, queue)
	}()

	log.Info("watching %s for new images", folder)
	err = utils.WatchDir(ctx, folder, func(op fsnotify.Op, file string) {
		if op&(fsnotify.Create|fsnotify.Write) == 0 || !utils.HasFormat(file, cfg.Data.SupportedFormats) {
			return
		}
		deb.touch(file)
	})
	cancel()
	wg.Wait()
	return err
}

func processQueue(ctx context.Context, orch pipeline.Orchestrator, queue <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case file := <-queue:
			log.Info("new image %s", file)
			orch.Run(ctx, []string{file}).Log()
		}
	}
}

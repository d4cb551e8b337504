// Copyright 2025 CloudWeGo Authors
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
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/cloudwego/captioner/internal/caption"
	"github.com/cloudwego/captioner/internal/config"
	"github.com/cloudwego/captioner/internal/log"
	"github.com/cloudwego/captioner/internal/pipeline"
	"github.com/cloudwego/captioner/internal/pipeline/steps"
	"github.com/cloudwego/captioner/internal/server"
	"github.com/cloudwego/captioner/internal/store"
	"github.com/cloudwego/captioner/internal/utils"
	"github.com/cloudwego/captioner/llm/mcp"
	"github.com/cloudwego/captioner/version"
)

const Usage = `captioner <Action> [Path] [Flags]
Action:
   run          process every image under Path (default: data.input_folder)
   status       print the pipeline status of every image under Path
   reset        reset one step (-step) of every image under Path, "all" resets every step
   watch        process the images under Path, then every image added to it
   serve        run the HTTP caption service
   mcp          run as a MCP server over stdio
   schema       print the JSON schema of the pipeline state document
   version      print the version of captioner
`

type cliOptions struct {
	configPath string
	strategy   string
	workers    int
	force      bool
	step       string
	json       bool
	verbose    bool
}

func main() {
	flags := flag.NewFlagSet("captioner", flag.ExitOnError)

	var opts cliOptions
	flagHelp := flags.Bool("h", false, "Show help message.")
	flags.BoolVar(&opts.verbose, "verbose", false, "Verbose mode.")
	flags.StringVar(&opts.configPath, "config", config.DefaultPath, "Config file path.")
	flags.StringVar(&opts.strategy, "strategy", "", "Batch strategy: item (item-major) or step (step-major). Overrides batch_processing.strategy.")
	flags.IntVar(&opts.workers, "workers", 0, "Concurrent workers. Overrides processing.num_threads.")
	flags.BoolVar(&opts.force, "force", false, "Rerun steps that already completed.")
	flags.StringVar(&opts.step, "step", "", "Step to reset: "+strings.Join(pipeline.Sequence, ", ")+" or all.")
	flags.BoolVar(&opts.json, "json", false, "Print status as JSON.")

	flags.Usage = func() {
		fmt.Fprint(os.Stderr, Usage)
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flags.PrintDefaults()
	}

	if len(os.Args) < 2 {
		flags.Usage()
		os.Exit(1)
	}
	action := strings.ToLower(os.Args[1])
	path := parseArgsAndFlags(flags, flagHelp)

	if action == "version" {
		fmt.Fprintf(os.Stdout, "%s\n", version.Version)
		return
	}
	if action == "schema" {
		fmt.Fprintf(os.Stdout, "%s\n", stateSchema())
		return
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	if err := setupLogging(cfg.Logging, opts.verbose); err != nil {
		log.Error("Failed to set up logging: %v", err)
		os.Exit(1)
	}
	if path == "" {
		path = cfg.Data.InputFolder
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch action {
	case "run":
		err = runFolder(ctx, cfg, opts, path)
	case "status":
		err = printStatus(ctx, cfg, path, opts.json)
	case "reset":
		err = resetFolder(ctx, cfg, path, opts.step)
	case "watch":
		err = watchFolder(ctx, cfg, opts, path)
	case "serve":
		err = withService(cfg, func(svc *caption.Service) error {
			return server.Serve(ctx, svc, cfg.Server)
		})
	case "mcp":
		err = withService(cfg, func(svc *caption.Service) error {
			return mcp.NewServer(mcp.ServerOptions{
				ServerName:    "captioner",
				ServerVersion: version.Version,
				Service:       svc,
			}).ServeStdio()
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown action: %s\n", action)
		flags.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Error("Failed to %s: %v", action, err)
		os.Exit(1)
	}
}

// parseArgsAndFlags accepts the optional Path before or after the flags.
func parseArgsAndFlags(flags *flag.FlagSet, flagHelp *bool) (path string) {
	args := os.Args[2:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		path, args = args[0], args[1:]
	}
	flags.Parse(args)
	if path == "" && flags.NArg() > 0 {
		path = flags.Arg(0)
	}
	if flagHelp != nil && *flagHelp {
		flags.Usage()
		os.Exit(0)
	}
	return path
}

func setupLogging(cfg config.LoggingConfig, verbose bool) error {
	log.SetLogLevel(log.ParseLevel(cfg.Level))
	if verbose {
		log.SetLogLevel(log.DebugLevel)
	}
	if strings.EqualFold(cfg.Format, "json") {
		log.SetJSONFormat()
	}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		log.SetOutput(f)
	}
	return nil
}

// newOrchestrator wires the configured store and engines into the pipeline.
// The returned function releases the store.
func newOrchestrator(cfg *config.Config, opts cliOptions) (pipeline.Orchestrator, func(), error) {
	if opts.workers > 0 {
		cfg.Processing.NumThreads = opts.workers
	}
	strategy := cfg.BatchProcessing.Strategy
	if opts.strategy != "" {
		strategy = opts.strategy
	}
	st, release, err := store.Open(cfg.StoreOptions())
	if err != nil {
		return nil, release, errors.Wrap(err, "open state store")
	}
	eng, err := caption.NewEngines(cfg)
	if err != nil {
		release()
		return nil, func() {}, err
	}
	popts := cfg.PipelineOptions()
	popts.Steps = steps.Build(cfg.StepOptions(), eng)
	popts.Store = st
	if opts.force {
		popts.SkipIfCompleted = false
	}
	if len(popts.Steps) == 0 {
		release()
		return nil, func() {}, caption.ErrNoSteps
	}
	orch, err := pipeline.New(strategy, popts)
	if err != nil {
		release()
		return nil, func() {}, err
	}
	return orch, release, nil
}

func runFolder(ctx context.Context, cfg *config.Config, opts cliOptions, folder string) error {
	files, err := utils.ListImages(folder, cfg.Data.SupportedFormats)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Warn("no images found in %s", folder)
		return nil
	}
	orch, release, err := newOrchestrator(cfg, opts)
	defer release()
	if err != nil {
		return err
	}
	log.Info("processing %d images in %s", len(files), folder)
	rep := orch.Run(ctx, files)
	rep.Log()
	if !rep.OK() {
		return errors.Errorf("%d of %d images failed", rep.Failed, rep.Total)
	}
	return nil
}

func withService(cfg *config.Config, fn func(svc *caption.Service) error) error {
	st, release, err := store.Open(cfg.StoreOptions())
	defer release()
	if err != nil {
		return errors.Wrap(err, "open state store")
	}
	eng, err := caption.NewEngines(cfg)
	if err != nil {
		return err
	}
	return fn(caption.NewService(cfg, eng, st))
}

// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// gorchk: detects the allocator functions of Go programs written against a
// tagged-value managed runtime. This is the entry point of gorchk.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/brodieG/rchk/analysis"
	"github.com/brodieG/rchk/analysis/annotate"
	"github.com/brodieG/rchk/analysis/callocators"
	"github.com/brodieG/rchk/analysis/config"
	"github.com/brodieG/rchk/analysis/linemsg"
	"github.com/brodieG/rchk/analysis/runtimefacts"
	"golang.org/x/term"
	"gonum.org/v1/gonum/stat"
)

// flags
var (
	configPath   = ""
	platformFlag = ""
	annotateFlag = ""
	statsFlag    = false
)

func init() {
	flag.StringVar(&configPath, "config", "", "config file path for the analysis (required)")
	flag.StringVar(&platformFlag, "platform", "", "target platform (GOOS)")
	flag.StringVar(&annotateFlag, "annotate", "",
		"directory whose sources get a "+annotate.Marker+" comment on detected wrappers")
	flag.BoolVar(&statsFlag, "stats", false, "print exploration statistics")
}

const usage = `Detect allocator functions of a managed-runtime Go program.

Usage:
  gorchk -config config.yaml package...
  gorchk -config config.yaml source.go

Use the -help flag to display the options.
`

func main() {
	flag.Parse()
	if err := doMain(); err != nil {
		fmt.Fprintf(os.Stderr, "gorchk: %s\n", err)
		os.Exit(1)
	}
}

func doMain() error {
	if configPath == "" || flag.NArg() == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("missing config or packages")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logs := config.NewLogGroup(cfg)

	program, err := analysis.LoadProgram(nil, platformFlag, analysis.BuilderMode, flag.Args())
	if err != nil {
		return err
	}

	facts, err := runtimefacts.Compute(program, cfg, logs)
	if err != nil {
		return err
	}

	cm := callocators.NewCalledModule(facts)
	msg := linemsg.New(logs, program.Fset, cfg.UniqueMsgs)
	summaries := callocators.GetCalledAllocators(cm, msg)

	colored := term.IsTerminal(int(os.Stdout.Fd()))
	callocators.WriteReports(os.Stdout, cm, summaries, colored)

	wrapGraph := callocators.NewWrapGraph(cm, summaries)
	for _, cycle := range wrapGraph.WrapCycles() {
		names := ""
		for i, cf := range cycle {
			if i > 0 {
				names += ", "
			}
			names += cf.Name()
		}
		logs.Warnf("mutually wrapping functions: %s", names)
	}

	if statsFlag {
		printStats(logs, summaries)
	}

	if annotateFlag != "" {
		wrappers := make(map[string]bool)
		for cf, summary := range summaries {
			if len(summary.Wrapped) > 0 {
				wrappers[cf.Fn.Name()] = true
			}
		}
		modified, err := annotate.Dir(annotateFlag, wrappers)
		if err != nil {
			return err
		}
		for _, path := range modified {
			logs.Infof("annotated %s", path)
		}
	}
	return nil
}

// printStats summarizes the per-function exploration sizes.
func printStats(logs *config.LogGroup, summaries map[*callocators.CalledFunction]*callocators.Summary) {
	var states []float64
	for _, summary := range summaries {
		states = append(states, float64(summary.States))
	}
	if len(states) == 0 {
		return
	}
	sort.Float64s(states)
	logs.Infof("explored states per function: mean %.1f, median %.1f, p95 %.1f, max %.0f",
		stat.Mean(states, nil),
		stat.Quantile(0.5, stat.Empirical, states, nil),
		stat.Quantile(0.95, stat.Empirical, states, nil),
		states[len(states)-1])
}

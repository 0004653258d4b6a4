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

package config_test

import (
	"path"
	"runtime"
	"testing"

	"github.com/brodieG/rchk/analysis/config"
)

func testdataConfig(t *testing.T, name string) *config.Config {
	_, filename, _, _ := runtime.Caller(0)
	file := path.Join(path.Dir(filename), "../callocators/testdata", name, "config.yaml")
	cfg, err := config.Load(file)
	if err != nil {
		t.Fatalf("error loading config %s: %s", file, err)
	}
	return cfg
}

func TestLoadBasicConfig(t *testing.T) {
	cfg := testdataConfig(t, "basic")

	if cfg.ValueType.Type != "value" {
		t.Errorf("value-type: got %q", cfg.ValueType.Type)
	}
	if cfg.GCFunction.Method != "gc" {
		t.Errorf("gc-function: got %q", cfg.GCFunction.Method)
	}
	if cfg.InstallFunction.Method != "install" {
		t.Errorf("install-function: got %q", cfg.InstallFunction.Method)
	}
	if len(cfg.ErrorFunctions) != 1 || cfg.ErrorFunctions[0].Method != "fatal" {
		t.Errorf("error-functions: got %v", cfg.ErrorFunctions)
	}
	if cfg.LogLevel != int(config.WarnLevel) {
		t.Errorf("log-level: got %d", cfg.LogLevel)
	}

	// unspecified options keep their defaults
	if cfg.MaxStates != config.DefaultMaxStates {
		t.Errorf("max-states default: got %d", cfg.MaxStates)
	}
	if !cfg.UniqueMsgs {
		t.Errorf("unique-msgs should default to true")
	}
}

func TestLoadMaxStatesOverride(t *testing.T) {
	cfg := testdataConfig(t, "maxstates")
	if cfg.MaxStates != 50 {
		t.Errorf("max-states: got %d, want 50", cfg.MaxStates)
	}
}

func TestCodeIdentifierMatching(t *testing.T) {
	cid := config.CompileRegexes(config.CodeIdentifier{Method: "alloc.*"})
	if !cid.MatchesFunc("any/pkg", "allocVector") {
		t.Errorf("alloc.* should match allocVector in any package")
	}
	if cid.MatchesFunc("any/pkg", "gc") {
		t.Errorf("alloc.* should not match gc")
	}
	if cid.MatchesFunc("any/pkg", "myallocVector") {
		t.Errorf("identifier regexes are anchored")
	}

	typed := config.CompileRegexes(config.CodeIdentifier{Package: "runtime", Type: "value"})
	if !typed.MatchesType("runtime", "value") || typed.MatchesType("other", "value") {
		t.Errorf("package field must constrain type matching")
	}
}

func TestValidateRejectsIncompleteConfig(t *testing.T) {
	if err := config.NewDefault().Validate(); err == nil {
		t.Errorf("a config without a value type must not validate")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load("does-not-exist.yaml"); err == nil {
		t.Errorf("loading a missing file must fail")
	}
}

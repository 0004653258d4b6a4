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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// The global config file
	configFile string
)

// SetGlobalConfig sets the global config filename
func SetGlobalConfig(filename string) {
	configFile = filename
}

// LoadGlobal loads the config file that has been set by SetGlobalConfig
func LoadGlobal() (*Config, error) {
	return Load(configFile)
}

// Config describes the managed-runtime surface of the analyzed program and
// the options of the allocator analysis.
// If some field is not defined in the config file, it keeps its NewDefault
// value (empty/zero for the fields NewDefault does not set).
type Config struct {
	Options `yaml:",inline"`

	sourceFile string

	// ValueType identifies the tagged heap value type of the runtime. A local
	// or a return of type pointer-to-ValueType is a managed value.
	ValueType CodeIdentifier `yaml:"value-type"`

	// GCFunction identifies the garbage collector entry point. Functions from
	// which it is reachable are classified as allocating.
	GCFunction CodeIdentifier `yaml:"gc-function"`

	// InstallFunction identifies the symbol-interning function of the runtime
	// (the install("name") idiom).
	InstallFunction CodeIdentifier `yaml:"install-function"`

	// ErrorFunctions lists functions known to never return normally, seeding
	// the error-function classification.
	ErrorFunctions []CodeIdentifier `yaml:"error-functions"`
}

// Options holds the tunable knobs of the analysis. The zero value is not
// usable; use NewDefault to get the documented defaults.
type Options struct {
	// LogLevel controls the verbosity of the tool
	LogLevel int `yaml:"log-level"`

	// MaxStates bounds the number of abstract states explored per function.
	// When the bound is hit the per-function analysis aborts with a partial
	// result. Defaults to DefaultMaxStates.
	MaxStates int `yaml:"max-states"`

	// UniqueMsgs suppresses repeated identical diagnostics within one
	// function when true.
	UniqueMsgs bool `yaml:"unique-msgs"`

	// DumpStates dumps every abstract state popped from the worklist, for
	// debugging on small programs.
	DumpStates bool `yaml:"dump-states"`

	// DumpStatesFunction restricts DumpStates to the named function. Empty
	// means all functions.
	DumpStatesFunction string `yaml:"dump-states-function"`

	// OnlyFunction restricts the whole analysis to the named function.
	OnlyFunction string `yaml:"only-function"`

	// VerboseDump includes guard maps and origins in state dumps.
	VerboseDump bool `yaml:"verbose-dump"`

	// PkgFilter restricts reporting to functions whose package matches the
	// prefix.
	PkgFilter string `yaml:"pkg-filter"`
}

// NewDefault returns a config with the documented defaults.
func NewDefault() *Config {
	return &Config{
		sourceFile: "",
		Options: Options{
			LogLevel:   int(InfoLevel),
			MaxStates:  DefaultMaxStates,
			UniqueMsgs: true,
		},
	}
}

// Load reads a configuration from a yaml file
func Load(filename string) (*Config, error) {
	cfg := NewDefault()
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config file: %w", err)
	}
	cfg.sourceFile = filename

	cfg.ValueType = CompileRegexes(cfg.ValueType)
	cfg.GCFunction = CompileRegexes(cfg.GCFunction)
	cfg.InstallFunction = CompileRegexes(cfg.InstallFunction)
	for i, cid := range cfg.ErrorFunctions {
		cfg.ErrorFunctions[i] = CompileRegexes(cid)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the config identifies enough of the runtime surface
// for the analysis to run.
func (cfg *Config) Validate() error {
	if cfg.ValueType.Type == "" {
		return fmt.Errorf("config %q: value-type must name a type", cfg.sourceFile)
	}
	if cfg.GCFunction.Method == "" {
		return fmt.Errorf("config %q: gc-function must name a function", cfg.sourceFile)
	}
	if cfg.MaxStates <= 0 {
		return fmt.Errorf("config %q: max-states must be positive", cfg.sourceFile)
	}
	return nil
}

// SourceFile returns the file this config was loaded from, or "" for a
// default config.
func (cfg *Config) SourceFile() string {
	return cfg.sourceFile
}

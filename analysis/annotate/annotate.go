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

// Package annotate rewrites analyzed sources, marking the functions the
// analysis detected as allocator wrappers with a machine-readable comment.
package annotate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dave/dst"
	"github.com/dave/dst/decorator"
	"github.com/dave/dst/dstutil"
)

// Marker is the comment attached to every detected allocator wrapper.
const Marker = "//gorchk:allocator"

// Dir rewrites the Go files in dir, adding the Marker to every top-level
// function whose name is in wrappers; methods are never marked.
// Already-marked functions are left untouched, so the rewrite is idempotent.
// Returns the files modified.
func Dir(dir string, wrappers map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var modified []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		path := filepath.Join(dir, name)
		changed, err := file(path, wrappers)
		if err != nil {
			return modified, err
		}
		if changed {
			modified = append(modified, path)
		}
	}
	return modified, nil
}

// file rewrites one source file; returns true when the file was modified.
func file(path string, wrappers map[string]bool) (bool, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := decorator.Parse(src)
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}

	changed := false
	dstutil.Apply(f, func(c *dstutil.Cursor) bool {
		decl, ok := c.Node().(*dst.FuncDecl)
		if !ok {
			return true
		}
		if decl.Recv != nil || !wrappers[decl.Name.Name] {
			return false
		}
		for _, line := range decl.Decs.Start.All() {
			if line == Marker {
				return false
			}
		}
		decl.Decs.Start.Append(Marker)
		changed = true
		return false
	}, nil)

	if !changed {
		return false, nil
	}

	var buf bytes.Buffer
	if err := decorator.Fprint(&buf, f); err != nil {
		return false, fmt.Errorf("printing %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}

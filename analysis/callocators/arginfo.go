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

package callocators

import "strings"

// ArgInfoKind discriminates the per-argument facts. The set is open; new
// kinds are added by extending the constants.
type ArgInfoKind uint8

const (
	// ArgUnknown means nothing is known about the argument.
	ArgUnknown ArgInfoKind = iota

	// ArgSymbol means the argument is known to be the symbol whose printed
	// name is SymbolName.
	ArgSymbol
)

// ArgInfo is one per-argument fact. Equality is structural; all ArgUnknown
// values are equal and SymbolName is meaningful only for ArgSymbol.
type ArgInfo struct {
	Kind       ArgInfoKind
	SymbolName string
}

// IsSymbol returns true for a known-symbol fact.
func (a *ArgInfo) IsSymbol() bool {
	return a != nil && a.Kind == ArgSymbol
}

// ArgInfos is a positional argument context: element i describes argument i
// of the specialized function. Interned contexts compare by pointer.
type ArgInfos []*ArgInfo

// key builds the interning key of the context. Symbol names may contain any
// character, so entries are NUL-separated.
func (ai ArgInfos) key() string {
	var b strings.Builder
	for _, a := range ai {
		if a.IsSymbol() {
			b.WriteString("S:")
			b.WriteString(a.SymbolName)
		} else {
			b.WriteString("?")
		}
		b.WriteByte(0)
	}
	return b.String()
}

// suffix renders the context for reports, one entry per argument ("?" for an
// unknown one), and returns the number of known entries.
func (ai ArgInfos) suffix() (string, int) {
	var b strings.Builder
	known := 0
	for i, a := range ai {
		if i > 0 {
			b.WriteString(",")
		}
		if a.IsSymbol() {
			b.WriteString("S:")
			b.WriteString(a.SymbolName)
			known++
		} else {
			b.WriteString("?")
		}
	}
	return b.String(), known
}

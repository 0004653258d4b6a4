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

import "regexp"

// A CodeIdentifier identifies a code element of the analyzed runtime: a
// function, or a type, or any combination of those with its package.
// An empty field matches anything.
type CodeIdentifier struct {
	Package string
	Method  string
	Type    string
	// This will not be part of the yaml config
	computedRegexs *codeIdentifierRegex
}

type codeIdentifierRegex struct {
	packageRegex *regexp.Regexp
	typeRegex    *regexp.Regexp
	methodRegex  *regexp.Regexp
}

// CompileRegexes compiles the strings in the code identifier into regexes. It
// compiles all identifiers into regexes or none.
func CompileRegexes(cid CodeIdentifier) CodeIdentifier {
	packageRegex, err := regexp.Compile(anchor(cid.Package))
	if err != nil {
		return cid
	}
	typeRegex, err := regexp.Compile(anchor(cid.Type))
	if err != nil {
		return cid
	}
	methodRegex, err := regexp.Compile(anchor(cid.Method))
	if err != nil {
		return cid
	}
	cid.computedRegexs = &codeIdentifierRegex{packageRegex, typeRegex, methodRegex}
	return cid
}

func anchor(s string) string {
	if s == "" {
		return ""
	}
	return "^(?:" + s + ")$"
}

// MatchesFunc returns true if the identifier matches a function of the given
// name in the given package. An empty field of the identifier matches
// anything.
func (cid *CodeIdentifier) MatchesFunc(pkg string, name string) bool {
	if cid.computedRegexs != nil {
		return (cid.Package == "" || cid.computedRegexs.packageRegex.MatchString(pkg)) &&
			(cid.Method == "" || cid.computedRegexs.methodRegex.MatchString(name))
	}
	return (cid.Package == "" || cid.Package == pkg) &&
		(cid.Method == "" || cid.Method == name)
}

// MatchesType returns true if the identifier matches a type of the given name
// in the given package.
func (cid *CodeIdentifier) MatchesType(pkg string, name string) bool {
	if cid.computedRegexs != nil {
		return (cid.Package == "" || cid.computedRegexs.packageRegex.MatchString(pkg)) &&
			(cid.Type == "" || cid.computedRegexs.typeRegex.MatchString(name))
	}
	return (cid.Package == "" || cid.Package == pkg) &&
		(cid.Type == "" || cid.Type == name)
}

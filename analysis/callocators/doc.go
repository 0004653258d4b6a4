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

// Package callocators computes, for every (function, argument-context) pair
// of the analyzed program, the set of allocators it calls and the set of
// allocators whose freshly allocated result it may return.
//
// Functions are specialized by an interned argument context: a positional
// tuple of per-argument facts, presently "nothing known" or "this argument
// is the symbol with this name". Each context-specialized function is
// explored by a worklist-driven abstract interpretation of its control-flow
// graph under a symbolic state tracking integer guards, managed-value
// guards, the calls accumulated along the path, and the per-local origins of
// values that may reach a return. States are deduplicated by content hash,
// which bounds the exploration; a configurable cap backstops guard
// combinations that do not converge.
package callocators

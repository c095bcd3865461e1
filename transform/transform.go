// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transform completes the scheduling attributes of a program.
//
// Each pass fills the attributes a previous compilation stage left
// unspecified and leaves the ones already present untouched, so a fully
// attributed program goes through the pipeline unchanged. Decisions are
// buffered in the analyses and written back to the program only once the
// whole pass succeeds.
package transform

import (
	"github.com/MortadhaMannai/structured-additive-IR/ir"
)

// Option configures how the passes report errors.
type Option func(*config)

type config struct {
	failFast bool
}

// FailFast stops a pass at the first operation that fails instead of
// collecting the errors of all the operations visited by the pass.
func FailFast() Option {
	return func(cfg *config) { cfg.failFast = true }
}

func newConfig(opts []Option) config {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DefaultLoweringAttributes assigns the attributes lowering relies on to
// their default value: canonical sequence numbers first, then loop nests,
// then storage. Values are stored in registers when possible and in buffers
// materializing the minimum number of dimensions otherwise.
func DefaultLoweringAttributes(program *ir.Program, opts ...Option) error {
	if err := AssignDefaultSequence(program); err != nil {
		return err
	}
	if err := AssignDefaultLoopNests(program, opts...); err != nil {
		return err
	}
	return AssignDefaultStorage(program, opts...)
}

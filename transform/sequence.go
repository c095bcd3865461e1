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

package transform

import (
	"github.com/MortadhaMannai/structured-additive-IR/analysis"
	"github.com/MortadhaMannai/structured-additive-IR/ir"
)

// AssignDefaultSequence rewrites the sequence attribute of every compute
// operation with its canonical position. The relative order of operations is
// preserved but the absolute sequence numbers are not; operations that carry
// no sequence attribute are ordered after their dependencies, in program
// order.
func AssignDefaultSequence(program *ir.Program) error {
	seq, err := analysis.NewSequence(program, analysis.NewBackwardSlice(program))
	if err != nil {
		return err
	}
	for index, op := range seq.Ops() {
		op.SetSequence(index)
	}
	return nil
}

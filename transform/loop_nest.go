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
	"go.uber.org/multierr"

	"github.com/MortadhaMannai/structured-additive-IR/analysis"
	"github.com/MortadhaMannai/structured-additive-IR/fmterr"
	"github.com/MortadhaMannai/structured-additive-IR/ir"
	"github.com/MortadhaMannai/structured-additive-IR/mapping"
)

// GetDefaultLoopNest returns a loop nest for an operation with numDimensions
// domain dimensions, starting with the given prefix. Dimensions the prefix
// does not iterate get one loop each, innermost, in domain order, with fresh
// names so that they are not fused with any other operation.
func GetDefaultLoopNest(fusion *analysis.LoopFusion, numDimensions int, prefix []ir.Loop) ([]ir.Loop, error) {
	iterExprs := make([]mapping.Expr, len(prefix))
	for i, loop := range prefix {
		iterExprs[i] = loop.Iter
	}
	partial, err := mapping.New(numDimensions, iterExprs...)
	if err != nil {
		return nil, err
	}

	// Invert the prefix iterators, complete the resulting mapping with fresh
	// dimensions, and invert again to obtain the missing loop iterators.
	partialInverse, err := partial.Inverse()
	if err != nil {
		return nil, err
	}
	newIterExprs, err := partialInverse.MakeSurjective().Inverse()
	if err != nil {
		return nil, err
	}

	nest := append(make([]ir.Loop, 0, numDimensions), prefix...)
	for _, expr := range newIterExprs.Dimensions()[len(prefix):] {
		nest = append(nest, ir.Loop{Name: fusion.FreshLoopName(), Iter: expr})
	}
	return nest, nil
}

// AssignDefaultLoopNests assigns a loop nest to every compute operation that
// lacks one. The default nest iterates over each dimension of the domain in
// order, without fusing the operation with any other.
func AssignDefaultLoopNests(program *ir.Program, opts ...Option) error {
	cfg := newConfig(opts)
	seq, err := analysis.NewSequence(program, analysis.NewBackwardSlice(program))
	if err != nil {
		return err
	}
	fusion, err := analysis.NewLoopFusion(program, seq)
	if err != nil {
		return err
	}

	type opNest struct {
		op   ir.ComputeOp
		nest []ir.Loop
	}
	var assigned []opNest
	var errs error
	for _, op := range program.ComputeOps() {
		if op.LoopNest() != nil {
			continue
		}
		nest, err := GetDefaultLoopNest(fusion, len(op.Domain()), nil)
		if err != nil {
			errs = multierr.Append(errs, fmterr.Position(op, err))
			if cfg.failFast {
				return errs
			}
			continue
		}
		assigned = append(assigned, opNest{op: op, nest: nest})
	}
	if errs != nil {
		return errs
	}
	for _, a := range assigned {
		a.op.SetLoopNest(a.nest)
	}
	return nil
}

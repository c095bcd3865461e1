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

package analysis

import "github.com/MortadhaMannai/structured-additive-IR/ir"

// Direction distinguishes the two sides of an operation, or of the whole
// program, a program point can be on.
type Direction int

const (
	// Before places the point immediately before the operation or program.
	Before Direction = iota
	// After places the point immediately after the operation or program.
	After
)

// ProgramPoint is a position in the execution of a program: immediately
// before or after a compute operation, or before or after the whole program.
// The point records the loops it is nested in.
type ProgramPoint struct {
	op        ir.ComputeOp
	direction Direction
	loopNest  []string
}

// BeforeProgram returns the point before the whole program executes.
func BeforeProgram() ProgramPoint { return ProgramPoint{direction: Before} }

// AfterProgram returns the point after the whole program executed.
func AfterProgram() ProgramPoint { return ProgramPoint{direction: After} }

// NewProgramPoint returns the point immediately before or after an operation,
// nested in the given loops.
func NewProgramPoint(op ir.ComputeOp, direction Direction, loopNest []string) ProgramPoint {
	return ProgramPoint{op: op, direction: direction, loopNest: loopNest}
}

// Operation returns the operation the point is adjacent to, or nil when the
// point is a boundary of the whole program.
func (p ProgramPoint) Operation() ir.ComputeOp { return p.op }

// Direction indicates on which side of the operation or program the point is.
func (p ProgramPoint) Direction() Direction { return p.direction }

// LoopNest returns the loops the point is nested in, outermost first.
func (p ProgramPoint) LoopNest() []string { return p.loopNest }

// TrimLoopNest reduces the number of loops the point is nested in.
func (p *ProgramPoint) TrimLoopNest(numLoops int) {
	p.loopNest = p.loopNest[:numLoops]
}

// NumCommonLoops returns the number of loops shared with another point.
func (p ProgramPoint) NumCommonLoops(other ProgramPoint) int {
	return commonPrefix(p.loopNest, other.loopNest)
}

// IsBefore reports whether the point is before the given operation in the
// order defined by seq.
func (p ProgramPoint) IsBefore(seq *Sequence, op ir.ComputeOp) bool {
	if p.op == nil {
		return p.direction == Before
	}
	pos, opPos := seq.Index(p.op), seq.Index(op)
	return pos < opPos || (pos == opPos && p.direction == Before)
}

// IsAfter reports whether the point is after the given operation in the order
// defined by seq.
func (p ProgramPoint) IsAfter(seq *Sequence, op ir.ComputeOp) bool {
	if p.op == nil {
		return p.direction == After
	}
	pos, opPos := seq.Index(p.op), seq.Index(op)
	return pos > opPos || (pos == opPos && p.direction == After)
}

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

// Package analysis computes scheduling information for a program: the
// iteration space each operation executes in, the fused loop nests these
// spaces describe, the relative order of compute operations and the storage
// of the values they exchange.
//
// Analyses are computed from the attributes present on compute operations
// when they are constructed and are not updated when attributes change.
package analysis

import (
	"github.com/MortadhaMannai/structured-additive-IR/ir"
	"github.com/MortadhaMannai/structured-additive-IR/mapping"
)

// IterationSpace describes how the domain of an operation distributes across
// the loops the operation executes in. The space is the domain of the loop
// nest followed by the domain dimensions no loop iterates, and the mapping
// sends the operation domain to the space.
type IterationSpace struct {
	loopNames      []string
	mapping        mapping.Mapping
	fullySpecified bool
}

// newIterationSpace extends a mapping from an operation domain to its loops
// with the domain dimensions the loops do not cover.
func newIterationSpace(loopNames []string, domainToLoops mapping.Mapping, fullySpecified bool) IterationSpace {
	var free []mapping.Expr
	for d, covered := range domainToLoops.DependencyMask() {
		if !covered {
			free = append(free, mapping.Dim(d))
		}
	}
	return IterationSpace{
		loopNames:      loopNames,
		mapping:        domainToLoops.AddSuffix(free),
		fullySpecified: fullySpecified,
	}
}

// LoopNames returns the names of the loops the operation executes in,
// outermost first. The returned slice must not be modified.
func (s IterationSpace) LoopNames() []string { return s.loopNames }

// NumLoops returns the number of loops the operation executes in.
func (s IterationSpace) NumLoops() int { return len(s.loopNames) }

// NumDimensions returns the number of dimensions of the space, loops and free
// dimensions included.
func (s IterationSpace) NumDimensions() int { return s.mapping.Size() }

// Mapping returns the mapping from the operation domain to the space.
func (s IterationSpace) Mapping() mapping.Mapping { return s.mapping }

// MappingToLoops returns the mapping from the operation domain to the loops
// only.
func (s IterationSpace) MappingToLoops() mapping.Mapping {
	return s.mapping.Resize(len(s.loopNames))
}

// FullySpecified reports whether the space can still change as scheduling
// attributes are assigned.
func (s IterationSpace) FullySpecified() bool { return s.fullySpecified }

// NumCommonLoops returns the number of loops shared with another iteration
// space. Loops are shared as long as their names match, starting from the
// outermost loop.
func (s IterationSpace) NumCommonLoops(other IterationSpace) int {
	return commonPrefix(s.loopNames, other.loopNames)
}

func commonPrefix(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// IterationSpaces is the analysis assigning an iteration space to every
// operation of a program. Compute operations execute in the loops of their
// loop-nest attribute while other operations execute with the operation
// producing their last operand, the one their result follows.
type IterationSpaces struct {
	program  *ir.Program
	spaces   []IterationSpace
	computed []bool
}

// NewIterationSpaces computes the iteration space of each operation of a
// program.
func NewIterationSpaces(program *ir.Program) *IterationSpaces {
	analysis := &IterationSpaces{
		program:  program,
		spaces:   make([]IterationSpace, program.NumOps()),
		computed: make([]bool, program.NumOps()),
	}
	for _, op := range program.Ops() {
		analysis.compute(op)
	}
	return analysis
}

// Program the analysis was computed for.
func (a *IterationSpaces) Program() *ir.Program { return a.program }

// Get returns the iteration space of an operation.
func (a *IterationSpaces) Get(op ir.Op) IterationSpace { return a.spaces[op.ID()] }

func (a *IterationSpaces) compute(op ir.Op) IterationSpace {
	id := op.ID()
	if a.computed[id] {
		return a.spaces[id]
	}
	// Mark the operation before recursing so that use-before-def cycles
	// resolve to an empty space instead of recursing forever.
	a.computed[id] = true
	numDims := len(op.Domain())
	emptySpace := mapping.Identity(numDims).Resize(0)
	if compute, ok := op.(ir.ComputeOp); ok {
		nest := compute.LoopNest()
		if nest == nil {
			a.spaces[id] = newIterationSpace(nil, emptySpace, false)
			return a.spaces[id]
		}
		exprs := make([]mapping.Expr, len(nest))
		for i, loop := range nest {
			exprs[i] = loop.Iter
		}
		a.spaces[id] = newIterationSpace(ir.LoopNames(nest), emptySpace.AddSuffix(exprs), true)
		return a.spaces[id]
	}
	operands := op.Operands()
	if len(operands) == 0 {
		a.spaces[id] = newIterationSpace(nil, emptySpace, true)
		return a.spaces[id]
	}
	operand := operands[len(operands)-1]
	def := a.program.Producer(operand.Value)
	defSpace := a.compute(def)
	toLoops := operand.Mapping.Resize(len(def.Domain())).Compose(defSpace.MappingToLoops())
	a.spaces[id] = newIterationSpace(defSpace.LoopNames(), toLoops, defSpace.FullySpecified())
	return a.spaces[id]
}

// TranslateMapping converts a mapping from the domain of one operation to the
// domain of another into a mapping between their iteration spaces. The common
// loops of both spaces are pinned to each other since the operations iterate
// them together.
func (a *IterationSpaces) TranslateMapping(from, to ir.Op, m mapping.Mapping) (mapping.Mapping, error) {
	fromSpace, toSpace := a.Get(from), a.Get(to)
	fromInverse, err := fromSpace.Mapping().Inverse()
	if err != nil {
		return mapping.Mapping{}, err
	}
	translated := fromInverse.Compose(m).Compose(toSpace.Mapping())
	numCommon := fromSpace.NumCommonLoops(toSpace)
	exprs := make([]mapping.Expr, translated.Size())
	for i := range exprs {
		if i < numCommon {
			exprs[i] = mapping.Dim(i)
		} else {
			exprs[i] = mapping.Unknown
		}
	}
	onCommonLoops, err := mapping.New(translated.UseDomainSize(), exprs...)
	if err != nil {
		return mapping.Mapping{}, err
	}
	return translated.Unify(onCommonLoops)
}

// TryTranslateMapping converts a mapping like TranslateMapping but reports
// failure instead of returning an error, for callers where an untranslatable
// mapping only means the information does not carry over.
func (a *IterationSpaces) TryTranslateMapping(from, to ir.Op, m mapping.Mapping) (mapping.Mapping, bool) {
	translated, err := a.TranslateMapping(from, to, m)
	if err != nil {
		return mapping.Mapping{}, false
	}
	return translated, true
}

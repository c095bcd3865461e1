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

import (
	"container/heap"
	"math"

	"github.com/MortadhaMannai/structured-additive-IR/fmterr"
	"github.com/MortadhaMannai/structured-additive-IR/ir"
	"go.uber.org/multierr"
)

// OpSet is a set of compute operations that preserves insertion order.
type OpSet struct {
	ops     []ir.ComputeOp
	members map[ir.OpID]bool
}

// NewOpSet returns an empty set.
func NewOpSet() *OpSet {
	return &OpSet{members: make(map[ir.OpID]bool)}
}

// Insert adds an operation to the set.
func (s *OpSet) Insert(op ir.ComputeOp) {
	if s.members[op.ID()] {
		return
	}
	s.members[op.ID()] = true
	s.ops = append(s.ops, op)
}

// Merge inserts all the operations of another set.
func (s *OpSet) Merge(other *OpSet) {
	for _, op := range other.ops {
		s.Insert(op)
	}
}

// Size returns the number of operations in the set.
func (s *OpSet) Size() int { return len(s.ops) }

// Contains reports whether the set contains an operation.
func (s *OpSet) Contains(op ir.ComputeOp) bool { return s.members[op.ID()] }

// Ops returns the operations of the set in insertion order. The returned
// slice must not be modified.
func (s *OpSet) Ops() []ir.ComputeOp { return s.ops }

// BackwardSlice keeps track of the compute operations whose results flow into
// each operation of a program.
type BackwardSlice struct {
	program   *ir.Program
	frontiers []*OpSet
	slices    map[ir.OpID]*OpSet
}

// NewBackwardSlice computes the frontier of every operation of a program: the
// compute operations whose results reach the operation through non-compute
// operations only. Operands that may be produced after the operation do not
// contribute to the frontier since they do not constrain its position.
func NewBackwardSlice(program *ir.Program) *BackwardSlice {
	analysis := &BackwardSlice{
		program:   program,
		frontiers: make([]*OpSet, program.NumOps()),
		slices:    make(map[ir.OpID]*OpSet),
	}
	for _, op := range program.Ops() {
		analysis.frontier(op)
	}
	return analysis
}

// Frontier returns the compute operations whose results the operation uses,
// looking through non-compute operations. The returned set must not be
// modified.
func (a *BackwardSlice) Frontier(op ir.Op) *OpSet { return a.frontiers[op.ID()] }

// Slice returns the compute operations whose results the operation
// transitively uses. Slices are computed on demand and cached. The returned
// set must not be modified.
func (a *BackwardSlice) Slice(op ir.ComputeOp) *OpSet {
	if slice, ok := a.slices[op.ID()]; ok {
		return slice
	}
	slice := NewOpSet()
	a.slices[op.ID()] = slice
	slice.Merge(a.frontiers[op.ID()])
	for i := 0; i < slice.Size(); i++ {
		pred := slice.Ops()[i]
		if cached, ok := a.slices[pred.ID()]; ok {
			slice.Merge(cached)
			continue
		}
		slice.Merge(a.frontiers[pred.ID()])
	}
	return slice
}

func (a *BackwardSlice) frontier(op ir.Op) *OpSet {
	id := op.ID()
	if a.frontiers[id] != nil {
		return a.frontiers[id]
	}
	// Install the set before recursing so that use-before-def cycles
	// terminate.
	frontier := NewOpSet()
	a.frontiers[id] = frontier
	for _, dim := range op.Domain() {
		a.addProducer(frontier, dim.Value)
	}
	for i, operand := range op.Operands() {
		if op.AllowsUseBeforeDef(i) {
			continue
		}
		a.addProducer(frontier, operand.Value)
	}
	return frontier
}

func (a *BackwardSlice) addProducer(frontier *OpSet, value ir.ValueID) {
	def := a.program.Producer(value)
	if compute, ok := def.(ir.ComputeOp); ok {
		frontier.Insert(compute)
		return
	}
	frontier.Merge(a.frontier(def))
}

// Sequence is a total order on the compute operations of a program, inferred
// from their sequence attributes and their use-def chains. Operations without
// a sequence attribute are interleaved deterministically: an operation is
// placed once the operations it depends on are placed, favoring the operation
// leading to the smallest explicit sequence number and breaking ties by
// program order.
type Sequence struct {
	program *ir.Program
	slices  *BackwardSlice
	ops     []ir.ComputeOp
	index   map[ir.OpID]int
}

// NewSequence orders the compute operations of a program. Ordering fails if
// an operation carries a sequence number smaller than the number of an
// operation it transitively depends on, or if operations depend on each other
// in a cycle.
func NewSequence(program *ir.Program, slices *BackwardSlice) (*Sequence, error) {
	seq := &Sequence{
		program: program,
		slices:  slices,
		index:   make(map[ir.OpID]int),
	}
	if err := seq.verify(); err != nil {
		return nil, err
	}
	if err := seq.computeDefault(); err != nil {
		return nil, err
	}
	return seq, nil
}

// verify reports explicit sequence numbers that contradict use-def chains.
func (s *Sequence) verify() error {
	var errs error
	for _, op := range s.program.ComputeOps() {
		num, ok := op.Sequence()
		if !ok {
			continue
		}
		for _, pred := range s.slices.Slice(op).Ops() {
			predNum, ok := pred.Sequence()
			if !ok || predNum <= num {
				continue
			}
			errs = multierr.Append(errs, fmterr.Errorf(op,
				"sequenced at %d but depends on %s sequenced at %d", num, pred, predNum))
		}
	}
	return errs
}

func (s *Sequence) computeDefault() error {
	computeOps := s.program.ComputeOps()
	programIndex := make(map[ir.OpID]int, len(computeOps))
	for i, op := range computeOps {
		programIndex[op.ID()] = i
	}
	numDeps := make(map[ir.OpID]int, len(computeOps))
	consumers := make(map[ir.OpID][]ir.ComputeOp)
	for _, op := range computeOps {
		frontier := s.slices.Frontier(op).Ops()
		numDeps[op.ID()] = len(frontier)
		for _, pred := range frontier {
			consumers[pred.ID()] = append(consumers[pred.ID()], op)
		}
	}
	// The ceiling of an operation is the smallest explicit sequence number
	// among the operation and the operations that transitively consume its
	// results. Scheduling ready operations by ascending ceiling places the
	// chains leading to explicitly sequenced operations first.
	ceils := make(map[ir.OpID]int, len(computeOps))
	visiting := make(map[ir.OpID]bool)
	var ceilOf func(op ir.ComputeOp) int
	ceilOf = func(op ir.ComputeOp) int {
		if ceil, ok := ceils[op.ID()]; ok {
			return ceil
		}
		if visiting[op.ID()] {
			return math.MaxInt
		}
		visiting[op.ID()] = true
		ceil := math.MaxInt
		if num, ok := op.Sequence(); ok {
			ceil = num
		}
		for _, consumer := range consumers[op.ID()] {
			ceil = min(ceil, ceilOf(consumer))
		}
		visiting[op.ID()] = false
		ceils[op.ID()] = ceil
		return ceil
	}
	ready := &sequenceHeap{}
	push := func(op ir.ComputeOp) {
		heap.Push(ready, sequenceItem{op: op, ceil: ceilOf(op), index: programIndex[op.ID()]})
	}
	for _, op := range computeOps {
		if numDeps[op.ID()] == 0 {
			push(op)
		}
	}
	for ready.Len() > 0 {
		item := heap.Pop(ready).(sequenceItem)
		s.index[item.op.ID()] = len(s.ops)
		s.ops = append(s.ops, item.op)
		for _, consumer := range consumers[item.op.ID()] {
			numDeps[consumer.ID()]--
			if numDeps[consumer.ID()] == 0 {
				push(consumer)
			}
		}
	}
	if len(s.ops) < len(computeOps) {
		for _, op := range computeOps {
			if _, ok := s.index[op.ID()]; !ok {
				return fmterr.Errorf(op, "cannot sequence the operation: it transitively depends on itself")
			}
		}
	}
	return nil
}

// Ops returns an iterator over the operations in their relative order. The
// order preserves explicit sequence numbers but the yielded indices do not
// reproduce their values.
func (s *Sequence) Ops() func(func(int, ir.ComputeOp) bool) {
	return func(yield func(int, ir.ComputeOp) bool) {
		for i, op := range s.ops {
			if !yield(i, op) {
				return
			}
		}
	}
}

// OpsBefore returns an iterator over the operations sequenced strictly before
// op, in their relative order.
func (s *Sequence) OpsBefore(op ir.ComputeOp) func(func(int, ir.ComputeOp) bool) {
	return func(yield func(int, ir.ComputeOp) bool) {
		for i := 0; i < s.index[op.ID()]; i++ {
			if !yield(i, s.ops[i]) {
				return
			}
		}
	}
}

// Index returns the relative position of a compute operation.
func (s *Sequence) Index(op ir.ComputeOp) int { return s.index[op.ID()] }

// NumOps returns the number of sequenced operations.
func (s *Sequence) NumOps() int { return len(s.ops) }

// Slices returns the backward slice analysis the sequence was computed from.
func (s *Sequence) Slices() *BackwardSlice { return s.slices }

type sequenceItem struct {
	op    ir.ComputeOp
	ceil  int
	index int
}

type sequenceHeap []sequenceItem

func (h sequenceHeap) Len() int { return len(h) }

func (h sequenceHeap) Less(i, j int) bool {
	if h[i].ceil != h[j].ceil {
		return h[i].ceil < h[j].ceil
	}
	return h[i].index < h[j].index
}

func (h sequenceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *sequenceHeap) Push(x any) { *h = append(*h, x.(sequenceItem)) }

func (h *sequenceHeap) Pop() any {
	old := *h
	item := old[len(old)-1]
	*h = old[:len(old)-1]
	return item
}

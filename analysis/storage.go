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
	"math"
	"slices"

	"github.com/MortadhaMannai/structured-additive-IR/base/ordered"
	"github.com/MortadhaMannai/structured-additive-IR/base/uname"
	"github.com/MortadhaMannai/structured-additive-IR/fmterr"
	"github.com/MortadhaMannai/structured-additive-IR/ir"
	"github.com/MortadhaMannai/structured-additive-IR/mapping"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ValueStorage is the storage assigned to a value: a memory space, the name
// of the buffer holding the value when the space is memory, and a layout
// mapping the iteration space of the producer of the value to the dimensions
// of the buffer. Fields are unset until analyses and transformations merge
// constraints into them.
type ValueStorage struct {
	space  ir.Space
	buffer string
	layout *mapping.Mapping
}

// Space returns the memory space of the value, or an empty string when it is
// not decided yet.
func (v ValueStorage) Space() ir.Space { return v.space }

// BufferName returns the name of the buffer holding the value, or an empty
// string when no buffer is assigned.
func (v ValueStorage) BufferName() string { return v.buffer }

// Layout returns the mapping from the iteration space of the producer of the
// value to the buffer dimensions, or nil when no layout is known.
func (v ValueStorage) Layout() *mapping.Mapping { return v.layout }

// Buffer is a multi-dimensional memory allocation values are stored in.
type Buffer struct {
	name     string
	kind     ir.Kind
	rank     int
	external bool
	loopNest []string
	values   []ir.ValueID
	firstOp  ir.Op
}

// Name of the buffer.
func (b *Buffer) Name() string { return b.name }

// Kind of the values stored in the buffer.
func (b *Buffer) Kind() ir.Kind { return b.kind }

// Rank returns the number of dimensions of the buffer.
func (b *Buffer) Rank() int { return b.rank }

// External reports whether the buffer is allocated by the caller of the
// program, in which case its rank cannot change.
func (b *Buffer) External() bool { return b.external }

// LoopNest returns the loops the buffer is allocated in.
func (b *Buffer) LoopNest() []string { return b.loopNest }

// Values returns the values stored in the buffer.
func (b *Buffer) Values() []ir.ValueID { return b.values }

// storageLink propagates the storage of one value to another. Values are
// linked when a non-compute operation forwards one into the other, in which
// case both share the same storage, with the layout rewritten between the
// iteration spaces of their producers.
type storageLink struct {
	from, to ir.ValueID
	// Mapping from the space of the producer of to, to the space of the
	// producer of from. Composing it with the layout of from yields the
	// layout of to.
	translate mapping.Mapping
}

// Storage keeps track of the storage of every value of a program and of the
// buffers the program uses. The storage of a value is only ever refined: new
// constraints are unified with the previous ones and conflicts are errors.
type Storage struct {
	program  *ir.Program
	spaces   *IterationSpaces
	fusion   *LoopFusion
	seq      *Sequence
	storages []ValueStorage
	buffers  *ordered.Map[string, *Buffer]
	links    []storageLink
	related  unionFind
	names    *uname.Unique
}

// NewStorage computes the initial storage of every value of a program:
// external buffers are registered from buffer operations, storage attributes
// already present on compute operations are converted and every constraint is
// propagated to the values connected through non-compute operations.
func NewStorage(program *ir.Program, spaces *IterationSpaces, fusion *LoopFusion, seq *Sequence) (*Storage, error) {
	s := &Storage{
		program:  program,
		spaces:   spaces,
		fusion:   fusion,
		seq:      seq,
		storages: make([]ValueStorage, program.NumValues()),
		buffers:  ordered.NewMap[string, *Buffer](),
		related:  newUnionFind(program.NumValues()),
		names:    uname.New(),
	}
	for _, op := range program.Ops() {
		if err := s.addLinks(op); err != nil {
			return nil, err
		}
	}
	var errs error
	for _, op := range program.Ops() {
		switch op := op.(type) {
		case *ir.FromBufferOp:
			errs = multierr.Append(errs, s.seedFromBuffer(op))
		case *ir.ToBufferOp:
			errs = multierr.Append(errs, s.seedToBuffer(op))
		}
	}
	for _, op := range program.ComputeOps() {
		errs = multierr.Append(errs, s.seedAttributes(op))
	}
	if errs != nil {
		return nil, errs
	}
	return s, nil
}

// Of returns the storage of a value.
func (s *Storage) Of(value ir.ValueID) ValueStorage { return s.storages[value] }

// Buffer returns a buffer given its name.
func (s *Storage) Buffer(name string) (*Buffer, bool) { return s.buffers.Load(name) }

// Buffers returns an iterator over the buffers in registration order.
func (s *Storage) Buffers() func(func(*Buffer) bool) { return s.buffers.Values() }

// MergeSpace constrains the memory space of a value.
func (s *Storage) MergeSpace(value ir.ValueID, space ir.Space) error {
	return s.merge(value, ValueStorage{space: space})
}

// MergeLayout constrains the layout of a value. The layout is unified with
// the one already known.
func (s *Storage) MergeLayout(value ir.ValueID, layout mapping.Mapping) error {
	return s.merge(value, ValueStorage{layout: &layout})
}

// CreateBuffer allocates a fresh buffer nested in the given loops and assigns
// the value to it. The operation requiring the buffer is recorded for
// diagnostics.
func (s *Storage) CreateBuffer(value ir.ValueID, loopNames []string, op ir.Op) (string, error) {
	name := s.names.Name("buffer")
	kind := s.program.Value(value).Kind()
	if _, err := s.registerBuffer(op, name, kind, 0, false, slices.Clone(loopNames)); err != nil {
		return "", err
	}
	return name, s.merge(value, ValueStorage{space: ir.Memory, buffer: name})
}

// AddDimensionsToBuffer grows the rank of a buffer to the size of the given
// layout. New dimensions are added in front of the existing ones and the
// layouts of the values stored in the buffer are padded with unknown
// dimensions accordingly, without propagation: the caller is expected to
// merge a layout covering the new dimensions afterwards.
func (s *Storage) AddDimensionsToBuffer(name string, newLayout mapping.Mapping) error {
	buffer, ok := s.buffers.Load(name)
	if !ok {
		return errors.Errorf("unknown buffer %q", name)
	}
	if buffer.external {
		return errors.Errorf("cannot add dimensions to the external buffer %q", name)
	}
	numNew := newLayout.Size() - buffer.rank
	if numNew <= 0 {
		return nil
	}
	buffer.rank = newLayout.Size()
	prefix := make([]mapping.Expr, numNew)
	for i := range prefix {
		prefix[i] = mapping.Unknown
	}
	for _, v := range buffer.values {
		if layout := s.storages[v].layout; layout != nil {
			padded := layout.AddPrefix(prefix)
			s.storages[v].layout = &padded
		}
	}
	return nil
}

// VerifyAndMinimizeBufferLoopNests checks that every value stored in a buffer
// has a complete layout and shrinks the loop nest of each buffer to the loops
// shared by all the operations accessing it.
func (s *Storage) VerifyAndMinimizeBufferLoopNests() error {
	var errs error
	for buffer := range s.buffers.Values() {
		for _, v := range buffer.values {
			value := s.program.Value(v)
			producer := s.program.Producer(v)
			layout := s.storages[v].layout
			if layout == nil || !layout.IsFullySpecified() {
				errs = multierr.Append(errs, fmterr.Errorf(producer,
					"the layout of %s in buffer %q is not fully specified", value, buffer.name))
				continue
			}
			if layout.Size() != buffer.rank {
				errs = multierr.Append(errs, fmterr.Errorf(producer,
					"the layout of %s does not match the rank %d of buffer %q", value, buffer.rank, buffer.name))
			}
		}
		if buffer.external {
			continue
		}
		numLoops := len(buffer.loopNest)
		for _, v := range buffer.values {
			numLoops = min(numLoops, s.accessLoops(buffer, s.program.Producer(v)))
			for _, use := range s.program.Value(v).Uses() {
				numLoops = min(numLoops, s.accessLoops(buffer, s.program.Op(use)))
			}
		}
		buffer.loopNest = buffer.loopNest[:numLoops]
	}
	return errs
}

func (s *Storage) accessLoops(buffer *Buffer, op ir.Op) int {
	return commonPrefix(buffer.loopNest, s.spaces.Get(op).LoopNames())
}

// VerifyValuesNotOverwritten checks that no value stored in a buffer is
// overwritten by another, unrelated value before its last use. Values
// forwarded into each other by non-compute operations share their storage on
// purpose and are not reported.
func (s *Storage) VerifyValuesNotOverwritten() error {
	memo := make(map[ir.ValueID]int)
	var errs error
	for buffer := range s.buffers.Values() {
		type write struct {
			value ir.ValueID
			index int
		}
		var writes []write
		for _, v := range buffer.values {
			switch producer := s.program.Producer(v).(type) {
			case ir.ComputeOp:
				writes = append(writes, write{value: v, index: s.seq.Index(producer)})
			case *ir.FromBufferOp:
				// The buffer content exists before the program runs.
				writes = append(writes, write{value: v, index: -1})
			}
		}
		for _, w := range writes {
			end := s.liveEnd(w.value, memo)
			for _, other := range writes {
				if s.related.find(int(w.value)) == s.related.find(int(other.value)) {
					continue
				}
				if w.index < other.index && other.index <= end {
					errs = multierr.Append(errs, fmterr.Errorf(s.program.Producer(w.value),
						"%s stored in buffer %q is overwritten by %s before its last use",
						s.program.Value(w.value), buffer.name, s.program.Value(other.value)))
					break
				}
			}
		}
	}
	return errs
}

// liveEnd returns the position of the last read of a value, following the
// non-compute operations that forward it. A value carried across a loop by an
// fby operation is read until the loop ends and a value written to an
// external buffer is read until the program ends.
func (s *Storage) liveEnd(value ir.ValueID, memo map[ir.ValueID]int) int {
	if end, ok := memo[value]; ok {
		return end
	}
	memo[value] = -1
	end := -1
	for _, useID := range s.program.Value(value).Uses() {
		use := s.program.Op(useID)
		switch use := use.(type) {
		case ir.ComputeOp:
			end = max(end, s.seq.Index(use))
		case *ir.ToBufferOp:
			end = math.MaxInt
		case *ir.FbyOp:
			end = max(end, s.carriedLoopEnd(use))
			for _, result := range use.Results() {
				end = max(end, s.liveEnd(result, memo))
			}
		default:
			for _, result := range use.Results() {
				end = max(end, s.liveEnd(result, memo))
			}
		}
	}
	memo[value] = end
	return end
}

// carriedLoopEnd returns the position of the last operation of the innermost
// loop an fby operation carries its value across.
func (s *Storage) carriedLoopEnd(op *ir.FbyOp) int {
	space := s.spaces.Get(op)
	numParallel := len(op.Parallel())
	last := -1
	for i, e := range space.MappingToLoops().Dimensions() {
		if d, ok := e.(mapping.Dim); ok && int(d) >= numParallel {
			last = i
		}
	}
	if last < 0 {
		// The carried dimensions are not scheduled to a loop yet. Assume the
		// value stays live.
		return math.MaxInt
	}
	class, ok := s.fusion.Class(space.LoopNames()[last])
	if !ok {
		return math.MaxInt
	}
	return s.seq.Index(class.EndPoint().Operation())
}

func (s *Storage) addLinks(op ir.Op) error {
	if _, ok := op.(ir.ComputeOp); ok {
		return nil
	}
	var results []ir.ValueID
	for _, result := range op.Results() {
		if s.program.Value(result).Kind().IsValue() {
			results = append(results, result)
		}
	}
	if len(results) == 0 {
		return nil
	}
	for _, operand := range op.Operands() {
		def := s.program.Producer(operand.Value)
		m := operand.Mapping.Resize(len(def.Domain()))
		opToDef, err := s.spaces.TranslateMapping(op, def, m)
		if err != nil {
			return fmterr.Position(op, err)
		}
		var defToOp mapping.Mapping
		reverseOK := false
		if reverse, err := m.Inverse(); err == nil {
			defToOp, reverseOK = s.spaces.TryTranslateMapping(def, op, reverse)
		}
		for _, result := range results {
			s.links = append(s.links, storageLink{from: operand.Value, to: result, translate: opToDef})
			if reverseOK {
				s.links = append(s.links, storageLink{from: result, to: operand.Value, translate: defToOp})
			}
			s.related.union(int(operand.Value), int(result))
		}
	}
	return nil
}

func (s *Storage) seedFromBuffer(op *ir.FromBufferOp) error {
	kind := s.program.Value(op.Out()).Kind()
	rank := len(op.Domain())
	if _, err := s.registerBuffer(op, op.Buffer(), kind, rank, true, nil); err != nil {
		return err
	}
	layout := mapping.Identity(rank)
	return s.merge(op.Out(), ValueStorage{space: ir.Memory, buffer: op.Buffer(), layout: &layout})
}

func (s *Storage) seedToBuffer(op *ir.ToBufferOp) error {
	operand := op.Operand()
	value := s.program.Value(operand.Value)
	rank := len(op.Domain())
	if _, err := s.registerBuffer(op, op.Buffer(), value.Kind(), rank, true, nil); err != nil {
		return err
	}
	def := s.program.Producer(operand.Value)
	defToDomain, err := s.spaces.Get(def).Mapping().Inverse()
	if err != nil {
		return fmterr.Position(def, err)
	}
	operandInverse, err := operand.Mapping.Inverse()
	if err != nil {
		return fmterr.Position(op, err)
	}
	layout := defToDomain.Resize(value.Rank()).Compose(operandInverse)
	return s.merge(operand.Value, ValueStorage{space: ir.Memory, buffer: op.Buffer(), layout: &layout})
}

// seedAttributes converts the storage attributes already present on a compute
// operation. Layouts are expressed over loop names in attributes and over the
// iteration space of the operation in the analysis.
func (s *Storage) seedAttributes(op ir.ComputeOp) error {
	var errs error
	space := s.spaces.Get(op)
	for i, result := range op.Results() {
		attr := op.Storage(i)
		if attr == nil {
			continue
		}
		if attr.Space == ir.Register && attr.Buffer != "" {
			errs = multierr.Append(errs, fmterr.Errorf(op,
				"register storage of %s cannot name a buffer", s.program.Value(result)))
			continue
		}
		if attr.Layout != nil && attr.Buffer == "" {
			errs = multierr.Append(errs, fmterr.Errorf(op,
				"the layout of %s requires a buffer", s.program.Value(result)))
			continue
		}
		storage := ValueStorage{space: attr.Space, buffer: attr.Buffer}
		if attr.Buffer != "" {
			rank := 0
			if attr.Layout != nil {
				rank = attr.Layout.Mapping().Size()
			}
			kind := s.program.Value(result).Kind()
			if _, err := s.registerBuffer(op, attr.Buffer, kind, rank, false, slices.Clone(space.LoopNames())); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
		}
		if attr.Layout != nil {
			layout, err := s.attributeLayout(op, space, attr.Layout)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			storage.layout = &layout
		}
		errs = multierr.Append(errs, s.merge(result, storage))
	}
	return errs
}

// attributeLayout rewrites a layout expressed over loop names into a layout
// over the iteration space of the operation.
func (s *Storage) attributeLayout(op ir.ComputeOp, space IterationSpace, layout *mapping.NamedMapping) (mapping.Mapping, error) {
	exprs := make([]mapping.Expr, len(layout.Names()))
	for i, name := range layout.Names() {
		pos := slices.Index(space.LoopNames(), name)
		if pos < 0 {
			return mapping.Mapping{}, fmterr.Errorf(op, "unknown loop %q in a storage layout", name)
		}
		exprs[i] = mapping.Dim(pos)
	}
	renaming, err := mapping.New(space.NumDimensions(), exprs...)
	if err != nil {
		return mapping.Mapping{}, fmterr.Position(op, err)
	}
	return renaming.Compose(layout.Mapping()), nil
}

func (s *Storage) registerBuffer(op ir.Op, name string, kind ir.Kind, rank int, external bool, loopNest []string) (*Buffer, error) {
	buffer, created := s.buffers.LoadOrCreate(name, func() *Buffer {
		return &Buffer{
			name:     name,
			kind:     kind,
			rank:     rank,
			external: external,
			loopNest: loopNest,
			firstOp:  op,
		}
	})
	if created {
		s.names.Reserve(name)
		return buffer, nil
	}
	if buffer.kind != kind {
		return nil, fmterr.Errorf(op, "buffer %q stores %s values, not %s values", name, buffer.kind, kind)
	}
	if external && !buffer.external {
		return nil, fmterr.Errorf(op, "buffer %q is both external and locally allocated", name)
	}
	if buffer.external {
		// The rank of an external buffer is fixed by its shape. Storage
		// attributes may reference the buffer with a smaller layout; the
		// mismatch is reported when verifying layouts against ranks.
		if external && buffer.rank != rank {
			return nil, fmterr.Errorf(op, "external buffer %q is used with ranks %d and %d", name, buffer.rank, rank)
		}
		return buffer, nil
	}
	buffer.rank = max(buffer.rank, rank)
	return buffer, nil
}

func (s *Storage) addValueToBuffer(value ir.ValueID, name string) error {
	buffer, ok := s.buffers.Load(name)
	if !ok {
		return errors.Errorf("unknown buffer %q", name)
	}
	if kind := s.program.Value(value).Kind(); kind != buffer.kind {
		return errors.Errorf("cannot store %s values in buffer %q of %s values", kind, name, buffer.kind)
	}
	buffer.values = append(buffer.values, value)
	return nil
}

// merge unifies a storage constraint into the storage of a value and
// propagates the result through the links until it stabilizes.
func (s *Storage) merge(value ir.ValueID, other ValueStorage) error {
	changed, err := s.mergeValue(value, other)
	if err != nil {
		return fmterr.Position(s.program.Producer(value),
			errors.Wrapf(err, "cannot unify the storage of %s", s.program.Value(value)))
	}
	if !changed {
		return nil
	}
	return s.propagate()
}

func (s *Storage) mergeValue(value ir.ValueID, other ValueStorage) (bool, error) {
	current := s.storages[value]
	changed := false
	if other.space != "" && other.space != current.space {
		if current.space != "" {
			return false, errors.Errorf("conflicting memory spaces %s and %s", current.space, other.space)
		}
		current.space = other.space
		changed = true
	}
	if other.buffer != "" && other.buffer != current.buffer {
		if current.buffer != "" {
			return false, errors.Errorf("conflicting buffers %q and %q", current.buffer, other.buffer)
		}
		if err := s.addValueToBuffer(value, other.buffer); err != nil {
			return false, err
		}
		current.buffer = other.buffer
		changed = true
	}
	if other.layout != nil {
		switch {
		case current.layout == nil:
			current.layout = other.layout
			changed = true
		case !current.layout.Equal(*other.layout):
			unified, err := current.layout.Unify(*other.layout)
			if err != nil {
				return false, err
			}
			if !unified.Equal(*current.layout) {
				changed = true
			}
			current.layout = &unified
		}
	}
	s.storages[value] = current
	return changed, nil
}

func (s *Storage) propagate() error {
	for changed := true; changed; {
		changed = false
		for _, link := range s.links {
			from := s.storages[link.from]
			if from.space == "" && from.buffer == "" && from.layout == nil {
				continue
			}
			mapped := ValueStorage{space: from.space, buffer: from.buffer}
			if from.layout != nil {
				layout := link.translate.Compose(*from.layout)
				mapped.layout = &layout
			}
			linkChanged, err := s.mergeValue(link.to, mapped)
			if err != nil {
				return fmterr.Position(s.program.Producer(link.to),
					errors.Wrapf(err, "cannot unify the storage of %s", s.program.Value(link.to)))
			}
			changed = changed || linkChanged
		}
	}
	return nil
}

// CommunicationVolume returns the mapping from the dimensions of a value to
// the sub-domain that must be visible in memory when the value flows from its
// producer to a consumer: the dimensions the loops common to both iteration
// spaces do not already carry. A value whose communication volume is empty
// can stay in registers.
func CommunicationVolume(valueRank int, def, use IterationSpace) (mapping.Mapping, error) {
	numCommon := def.NumCommonLoops(use)
	commonToValue, err := def.MappingToLoops().Resize(numCommon).Inverse()
	if err != nil {
		return mapping.Mapping{}, err
	}
	valueToCommon, err := commonToValue.Resize(valueRank).MakeSurjective().Inverse()
	if err != nil {
		return mapping.Mapping{}, err
	}
	return valueToCommon.DropFront(numCommon), nil
}

// unionFind tracks which values share their storage through links.
type unionFind struct {
	parent []int
}

func newUnionFind(size int) unionFind {
	parent := make([]int, size)
	for i := range parent {
		parent[i] = i
	}
	return unionFind{parent: parent}
}

func (u unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u unionFind) union(a, b int) {
	u.parent[u.find(a)] = u.find(b)
}

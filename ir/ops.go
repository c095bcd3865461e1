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

package ir

import (
	"fmt"

	"github.com/gx-org/backend/shape"
)

// opCommon carries the fields shared by all operations.
type opCommon struct {
	id       OpID
	prog     *Program
	mnemonic string
	name     string
	domain   []ValueAccess
}

func (p *Program) newOpCommon(mnemonic, name string, domain []ValueAccess) opCommon {
	p.checkDomain(domain)
	return opCommon{
		id:       OpID(len(p.ops)),
		prog:     p,
		mnemonic: mnemonic,
		name:     name,
		domain:   domain,
	}
}

func (o *opCommon) isOp() {}

// ID of the operation.
func (o *opCommon) ID() OpID { return o.id }

// Name of the operation.
func (o *opCommon) Name() string { return o.name }

// Domain returns the dimensions of the iteration domain of the operation.
func (o *opCommon) Domain() []ValueAccess { return o.domain }

// AllowsUseBeforeDef reports whether the given operand may be produced after
// the operation.
func (o *opCommon) AllowsUseBeforeDef(int) bool { return false }

// String returns the operation mnemonic and name.
func (o *opCommon) String() string { return o.mnemonic + " %" + o.name }

// computeCommon carries the scheduling attributes of compute operations.
type computeCommon struct {
	opCommon
	loopNest    []Loop
	sequence    int
	hasSequence bool
	storage     []*Storage
}

func (p *Program) newComputeCommon(mnemonic, name string, domain []ValueAccess, numResults int) computeCommon {
	return computeCommon{
		opCommon: p.newOpCommon(mnemonic, name, domain),
		storage:  make([]*Storage, numResults),
	}
}

// LoopNest returns the loop nest attribute, or nil when it is not set.
func (o *computeCommon) LoopNest() []Loop { return o.loopNest }

// SetLoopNest sets the loop nest attribute.
func (o *computeCommon) SetLoopNest(nest []Loop) {
	for _, loop := range nest {
		if loop.Iter.MinDomainSize() > len(o.domain) {
			panic(fmt.Sprintf("loop %s of %s iterates outside of the domain", loop, &o.opCommon))
		}
	}
	o.loopNest = nest
}

// Sequence returns the sequence number of the operation.
func (o *computeCommon) Sequence() (int, bool) { return o.sequence, o.hasSequence }

// SetSequence sets the sequence number of the operation.
func (o *computeCommon) SetSequence(seq int) {
	o.sequence = seq
	o.hasSequence = true
}

// Storage returns the storage attribute of the given result, or nil when the
// attribute is not set.
func (o *computeCommon) Storage(result int) *Storage { return o.storage[result] }

// SetStorage sets the storage attribute of the given result.
func (o *computeCommon) SetStorage(result int, storage Storage) {
	o.storage[result] = &storage
}

// StaticRangeOp defines an iteration range of known constant size.
type StaticRangeOp struct {
	opCommon
	size   int
	result ValueID
}

var _ Op = (*StaticRangeOp)(nil)

// StaticRange appends an operation defining a range of the given size.
func (p *Program) StaticRange(name string, size int) *StaticRangeOp {
	op := &StaticRangeOp{opCommon: p.newOpCommon("static_range", name, nil), size: size}
	op.result = p.newValue(op.id, 0, 0, Range, name)
	p.append(op)
	return op
}

// Size of the range.
func (op *StaticRangeOp) Size() int { return op.size }

// Operands of the operation.
func (op *StaticRangeOp) Operands() []ValueAccess { return nil }

// Results of the operation.
func (op *StaticRangeOp) Results() []ValueID { return []ValueID{op.result} }

// Out returns the range defined by the operation.
func (op *StaticRangeOp) Out() ValueID { return op.result }

// DynRangeOp defines an iteration range whose size is the value of its bound
// operand, evaluated for each point of the operation domain.
type DynRangeOp struct {
	opCommon
	bound  ValueAccess
	result ValueID
}

var _ Op = (*DynRangeOp)(nil)

// DynRange appends an operation defining a range bounded by a value.
func (p *Program) DynRange(name string, domain []ValueAccess, bound ValueAccess) *DynRangeOp {
	common := p.newOpCommon("dyn_range", name, domain)
	p.checkOperand(len(domain), bound)
	op := &DynRangeOp{opCommon: common, bound: bound}
	op.result = p.newValue(op.id, 0, len(domain), Range, name)
	p.append(op)
	return op
}

// Bound returns the operand giving the size of the range.
func (op *DynRangeOp) Bound() ValueAccess { return op.bound }

// Operands of the operation.
func (op *DynRangeOp) Operands() []ValueAccess { return []ValueAccess{op.bound} }

// Results of the operation.
func (op *DynRangeOp) Results() []ValueID { return []ValueID{op.result} }

// Out returns the range defined by the operation.
func (op *DynRangeOp) Out() ValueID { return op.result }

// CopyOp copies a value for each point of its domain.
type CopyOp struct {
	computeCommon
	src    ValueAccess
	result ValueID
}

var _ ComputeOp = (*CopyOp)(nil)

// Copy appends an operation copying the accessed value.
func (p *Program) Copy(name string, domain []ValueAccess, src ValueAccess) *CopyOp {
	common := p.newComputeCommon("copy", name, domain, 1)
	p.checkOperand(len(domain), src)
	op := &CopyOp{computeCommon: common, src: src}
	op.result = p.newValue(op.id, 0, len(domain), p.Value(src.Value).Kind(), name)
	p.append(op)
	return op
}

// Src returns the copied operand.
func (op *CopyOp) Src() ValueAccess { return op.src }

// Operands of the operation.
func (op *CopyOp) Operands() []ValueAccess { return []ValueAccess{op.src} }

// Results of the operation.
func (op *CopyOp) Results() []ValueID { return []ValueID{op.result} }

// Out returns the value defined by the operation.
func (op *CopyOp) Out() ValueID { return op.result }

// MapOp applies an opaque computation to its operands for each point of its
// domain.
type MapOp struct {
	computeCommon
	operands []ValueAccess
	results  []ValueID
}

var _ ComputeOp = (*MapOp)(nil)

// Map appends an operation computing one value per kind from the accessed
// operands.
func (p *Program) Map(name string, domain []ValueAccess, operands []ValueAccess, kinds []Kind) *MapOp {
	common := p.newComputeCommon("map", name, domain, len(kinds))
	for _, operand := range operands {
		p.checkOperand(len(domain), operand)
	}
	op := &MapOp{computeCommon: common, operands: operands}
	op.results = make([]ValueID, len(kinds))
	for i, kind := range kinds {
		if !kind.IsValue() {
			panic(fmt.Sprintf("result %d of %s: %s is not a value kind", i, op, kind))
		}
		valueName := name
		if len(kinds) > 1 {
			valueName = fmt.Sprintf("%s#%d", name, i)
		}
		op.results[i] = p.newValue(op.id, i, len(domain), kind, valueName)
	}
	p.append(op)
	return op
}

// Operands of the operation.
func (op *MapOp) Operands() []ValueAccess { return op.operands }

// Results of the operation.
func (op *MapOp) Results() []ValueID { return op.results }

// Out returns the i-th value defined by the operation.
func (op *MapOp) Out(i int) ValueID { return op.results[i] }

// ProjOp projects a value out of the projection dimensions of its domain. The
// result is defined over the parallel dimensions only and holds, for each
// point, either the last instance of the operand along the projection
// dimensions or any of them.
type ProjOp struct {
	opCommon
	numParallel int
	last        bool
	operand     ValueAccess
	result      ValueID
}

var _ Op = (*ProjOp)(nil)

func (p *Program) proj(mnemonic, name string, last bool, parallel, projection []ValueAccess, operand ValueAccess) *ProjOp {
	domain := make([]ValueAccess, 0, len(parallel)+len(projection))
	domain = append(domain, parallel...)
	domain = append(domain, projection...)
	common := p.newOpCommon(mnemonic, name, domain)
	p.checkOperand(len(domain), operand)
	op := &ProjOp{
		opCommon:    common,
		numParallel: len(parallel),
		last:        last,
		operand:     operand,
	}
	op.result = p.newValue(op.id, 0, len(parallel), p.Value(operand.Value).Kind(), name)
	p.append(op)
	return op
}

// ProjLast appends an operation projecting the last instance of the operand
// along the projection dimensions.
func (p *Program) ProjLast(name string, parallel, projection []ValueAccess, operand ValueAccess) *ProjOp {
	return p.proj("proj_last", name, true, parallel, projection, operand)
}

// ProjAny appends an operation projecting any instance of the operand along
// the projection dimensions.
func (p *Program) ProjAny(name string, parallel, projection []ValueAccess, operand ValueAccess) *ProjOp {
	return p.proj("proj_any", name, false, parallel, projection, operand)
}

// Parallel returns the dimensions the result is defined over.
func (op *ProjOp) Parallel() []ValueAccess { return op.domain[:op.numParallel] }

// Projection returns the dimensions projected out.
func (op *ProjOp) Projection() []ValueAccess { return op.domain[op.numParallel:] }

// Last reports whether the projection takes the last instance of its operand
// instead of an arbitrary one.
func (op *ProjOp) Last() bool { return op.last }

// Operand returns the projected operand.
func (op *ProjOp) Operand() ValueAccess { return op.operand }

// Operands of the operation.
func (op *ProjOp) Operands() []ValueAccess { return []ValueAccess{op.operand} }

// Results of the operation.
func (op *ProjOp) Results() []ValueID { return []ValueID{op.result} }

// Out returns the value defined by the operation.
func (op *ProjOp) Out() ValueID { return op.result }

// FbyOp produces its init operand at the first iteration of the carried
// dimensions and the carried value at the subsequent ones.
type FbyOp struct {
	opCommon
	numParallel int
	init        ValueAccess
	value       ValueAccess
	valueSet    bool
	result      ValueID
}

var _ Op = (*FbyOp)(nil)

// Fby appends an operation carrying a value across the iterations of the
// carried dimensions. The init operand is accessed over the parallel
// dimensions only. The carried operand is set separately with SetValue since
// it is usually produced by an operation consuming the result of this one.
func (p *Program) Fby(name string, parallel, carried []ValueAccess, init ValueAccess) *FbyOp {
	domain := make([]ValueAccess, 0, len(parallel)+len(carried))
	domain = append(domain, parallel...)
	domain = append(domain, carried...)
	common := p.newOpCommon("fby", name, domain)
	p.checkOperand(len(parallel), init)
	// The init access is stored over the full domain so that all operand
	// mappings of the operation share the same input space.
	m, err := init.Mapping.ResizeUseDomain(len(domain))
	if err != nil {
		panic(err.Error())
	}
	init.Mapping = m
	op := &FbyOp{opCommon: common, numParallel: len(parallel), init: init}
	op.result = p.newValue(op.id, 0, len(domain), p.Value(init.Value).Kind(), name)
	p.append(op)
	return op
}

// SetValue sets the loop-carried operand.
func (op *FbyOp) SetValue(value ValueAccess) {
	if op.valueSet {
		panic(fmt.Sprintf("the carried value of %s is already set", op))
	}
	p := op.prog
	p.checkOperand(len(op.domain), value)
	if kind := p.Value(value.Value).Kind(); kind != p.Value(op.init.Value).Kind() {
		panic(fmt.Sprintf("the carried value of %s has kind %s but its init has kind %s", op, kind, p.Value(op.init.Value).Kind()))
	}
	op.value = value
	op.valueSet = true
	p.recordUse(op.id, value)
}

// Parallel returns the dimensions the value is not carried across.
func (op *FbyOp) Parallel() []ValueAccess { return op.domain[:op.numParallel] }

// Carried returns the dimensions the value is carried across.
func (op *FbyOp) Carried() []ValueAccess { return op.domain[op.numParallel:] }

// Init returns the operand produced at the first iteration.
func (op *FbyOp) Init() ValueAccess { return op.init }

// Value returns the loop-carried operand.
func (op *FbyOp) Value() ValueAccess { return op.value }

// Operands of the operation. The carried operand is only listed once it is
// set.
func (op *FbyOp) Operands() []ValueAccess {
	if !op.valueSet {
		return []ValueAccess{op.init}
	}
	return []ValueAccess{op.init, op.value}
}

// AllowsUseBeforeDef reports whether the given operand may be produced after
// the operation. The carried operand always may.
func (op *FbyOp) AllowsUseBeforeDef(operand int) bool { return operand == 1 }

// Results of the operation.
func (op *FbyOp) Results() []ValueID { return []ValueID{op.result} }

// Out returns the value defined by the operation.
func (op *FbyOp) Out() ValueID { return op.result }

// FromBufferOp makes the content of an external buffer available as a value.
// The buffer has one dimension per dimension of the operation domain.
type FromBufferOp struct {
	opCommon
	buffer string
	shape  *shape.Shape
	result ValueID
}

var _ Op = (*FromBufferOp)(nil)

// FromBuffer appends an operation reading an external buffer.
func (p *Program) FromBuffer(name, buffer string, sh *shape.Shape, domain []ValueAccess) *FromBufferOp {
	common := p.newOpCommon("from_buffer", name, domain)
	if len(sh.AxisLengths) != len(domain) {
		panic(fmt.Sprintf("buffer %s has %d dimensions but the domain has %d", buffer, len(sh.AxisLengths), len(domain)))
	}
	kind := Kind(sh.DType)
	if !kind.IsValue() {
		panic(fmt.Sprintf("buffer %s: %s is not a value kind", buffer, kind))
	}
	op := &FromBufferOp{opCommon: common, buffer: buffer, shape: sh}
	op.result = p.newValue(op.id, 0, len(domain), kind, name)
	p.append(op)
	return op
}

// Buffer returns the name of the accessed buffer.
func (op *FromBufferOp) Buffer() string { return op.buffer }

// Shape of the accessed buffer.
func (op *FromBufferOp) Shape() *shape.Shape { return op.shape }

// Operands of the operation.
func (op *FromBufferOp) Operands() []ValueAccess { return nil }

// Results of the operation.
func (op *FromBufferOp) Results() []ValueID { return []ValueID{op.result} }

// Out returns the value defined by the operation.
func (op *FromBufferOp) Out() ValueID { return op.result }

// ToBufferOp writes a value to an external buffer. The buffer has one
// dimension per dimension of the operation domain.
type ToBufferOp struct {
	opCommon
	operand ValueAccess
	buffer  string
	shape   *shape.Shape
}

var _ Op = (*ToBufferOp)(nil)

// ToBuffer appends an operation writing the accessed value to an external
// buffer.
func (p *Program) ToBuffer(name, buffer string, sh *shape.Shape, domain []ValueAccess, operand ValueAccess) *ToBufferOp {
	common := p.newOpCommon("to_buffer", name, domain)
	p.checkOperand(len(domain), operand)
	if len(sh.AxisLengths) != len(domain) {
		panic(fmt.Sprintf("buffer %s has %d dimensions but the domain has %d", buffer, len(sh.AxisLengths), len(domain)))
	}
	if kind := p.Value(operand.Value).Kind(); kind != Kind(sh.DType) {
		panic(fmt.Sprintf("cannot store %s values in buffer %s of kind %s", kind, buffer, Kind(sh.DType)))
	}
	op := &ToBufferOp{opCommon: common, operand: operand, buffer: buffer, shape: sh}
	p.append(op)
	return op
}

// Operand returns the written value.
func (op *ToBufferOp) Operand() ValueAccess { return op.operand }

// Buffer returns the name of the written buffer.
func (op *ToBufferOp) Buffer() string { return op.buffer }

// Shape of the written buffer.
func (op *ToBufferOp) Shape() *shape.Shape { return op.shape }

// Operands of the operation.
func (op *ToBufferOp) Operands() []ValueAccess { return []ValueAccess{op.operand} }

// Results of the operation.
func (op *ToBufferOp) Results() []ValueID { return nil }

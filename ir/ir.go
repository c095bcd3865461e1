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

// Package ir defines a data-parallel intermediate representation in which
// operations execute over multi-dimensional iteration domains.
//
// A program is an arena of operations. Operations reference the values they
// use by identifier together with a mapping from their own iteration domain
// to the domain of the value, so that the program order of the arena never
// constrains how operations are eventually scheduled.
package ir

import (
	"fmt"

	"github.com/MortadhaMannai/structured-additive-IR/base/iter"
	"github.com/MortadhaMannai/structured-additive-IR/mapping"
)

type (
	// OpID identifies an operation within a program.
	OpID int
	// ValueID identifies a value within a program.
	ValueID int
)

// ValueAccess is a use of a value through a mapping from the domain of the
// user to the domain of the value.
type ValueAccess struct {
	Value   ValueID
	Mapping mapping.Mapping
}

// Value is defined by an operation for each point of its domain.
type Value struct {
	id       ValueID
	producer OpID
	index    int
	rank     int
	kind     Kind
	name     string
	uses     []OpID
}

// ID of the value.
func (v *Value) ID() ValueID { return v.id }

// Producer returns the operation defining the value.
func (v *Value) Producer() OpID { return v.producer }

// Index of the value in the results of its producer.
func (v *Value) Index() int { return v.index }

// Rank returns the number of dimensions of the domain the value is defined
// over.
func (v *Value) Rank() int { return v.rank }

// Kind of the value.
func (v *Value) Kind() Kind { return v.kind }

// Name of the value.
func (v *Value) Name() string { return v.name }

// Uses returns the operations using the value, in the order the uses were
// recorded. The returned slice must not be modified.
func (v *Value) Uses() []OpID { return v.uses }

// String returns the value name prefixed by %.
func (v *Value) String() string { return "%" + v.name }

// Op is an operation of a program.
type Op interface {
	fmt.Stringer

	// ID of the operation.
	ID() OpID
	// Name of the operation, used in diagnostics and to name its values.
	Name() string
	// Domain returns the dimensions of the iteration domain. Each dimension
	// accesses the range value that defines it through a mapping from the
	// previous dimensions to the domain of the range.
	Domain() []ValueAccess
	// Operands returns the value operands of the operation.
	Operands() []ValueAccess
	// Results returns the values defined by the operation.
	Results() []ValueID
	// AllowsUseBeforeDef reports whether the given operand may be produced
	// after the operation, as is the case for loop-carried values.
	AllowsUseBeforeDef(operand int) bool

	isOp()
}

// ComputeOp is an operation that performs computations and therefore carries
// scheduling attributes. Other operations only organize the flow of values
// and follow the schedule of the operations they are connected to.
type ComputeOp interface {
	Op

	// LoopNest returns the loops the operation is scheduled to, outermost
	// first, or nil when the attribute is not set.
	LoopNest() []Loop
	// SetLoopNest sets the loop nest attribute.
	SetLoopNest(nest []Loop)
	// Sequence returns the explicit sequence number of the operation.
	Sequence() (int, bool)
	// SetSequence sets the sequence number of the operation.
	SetSequence(seq int)
	// Storage returns the storage attribute of the given result, or nil when
	// the attribute is not set.
	Storage(result int) *Storage
	// SetStorage sets the storage attribute of the given result.
	SetStorage(result int, storage Storage)
}

// Program is an arena of operations and of the values they define. Operations
// and values reference each other by identifier.
type Program struct {
	name   string
	ops    []Op
	values []*Value
}

// NewProgram returns an empty program.
func NewProgram(name string) *Program {
	return &Program{name: name}
}

// Name of the program.
func (p *Program) Name() string { return p.name }

// Ops returns all operations in program order. The returned slice must not be
// modified.
func (p *Program) Ops() []Op { return p.ops }

// Op returns an operation given its identifier.
func (p *Program) Op(id OpID) Op { return p.ops[id] }

// NumOps returns the number of operations in the program.
func (p *Program) NumOps() int { return len(p.ops) }

// Value returns a value given its identifier.
func (p *Program) Value(id ValueID) *Value { return p.values[id] }

// NumValues returns the number of values in the program.
func (p *Program) NumValues() int { return len(p.values) }

// Producer returns the operation defining a value.
func (p *Program) Producer(id ValueID) Op { return p.ops[p.values[id].producer] }

// ComputeOps returns the compute operations of the program in program order.
func (p *Program) ComputeOps() []ComputeOp {
	var ops []ComputeOp
	for _, op := range p.ops {
		if compute, ok := op.(ComputeOp); ok {
			ops = append(ops, compute)
		}
	}
	return ops
}

// Dims builds the iteration domain accessing the given range values. All
// ranges must be independent, that is defined over an empty domain. Domains
// mixing dependent ranges are built dimension by dimension instead.
func (p *Program) Dims(ranges ...ValueID) []ValueAccess {
	domain := make([]ValueAccess, len(ranges))
	for i, r := range ranges {
		value := p.Value(r)
		if value.Rank() > 0 {
			panic(fmt.Sprintf("dimension %d: range %s depends on other dimensions, build its access explicitly", i, value))
		}
		m, err := mapping.New(i)
		if err != nil {
			panic(err.Error())
		}
		domain[i] = ValueAccess{Value: r, Mapping: m}
	}
	p.checkDomain(domain)
	return domain
}

func (p *Program) checkDomain(domain []ValueAccess) {
	for i, dim := range domain {
		value := p.Value(dim.Value)
		if value.Kind() != Range {
			panic(fmt.Sprintf("dimension %d: %s is not a range value", i, value))
		}
		if dim.Mapping.UseDomainSize() != i {
			panic(fmt.Sprintf("dimension %d: access %s is not over the %d previous dimensions", i, dim.Mapping, i))
		}
		if dim.Mapping.Size() != value.Rank() {
			panic(fmt.Sprintf("dimension %d: access %s does not match the domain of %s", i, dim.Mapping, value))
		}
	}
}

func (p *Program) checkOperand(domainSize int, access ValueAccess) {
	value := p.Value(access.Value)
	if !value.Kind().IsValue() {
		panic(fmt.Sprintf("operand %s is not a value", value))
	}
	if access.Mapping.UseDomainSize() != domainSize {
		panic(fmt.Sprintf("access %s to %s is not over a domain of size %d", access.Mapping, value, domainSize))
	}
	if access.Mapping.Size() != value.Rank() {
		panic(fmt.Sprintf("access %s does not match the domain of %s", access.Mapping, value))
	}
}

func (p *Program) newValue(producer OpID, index, rank int, kind Kind, name string) ValueID {
	id := ValueID(len(p.values))
	p.values = append(p.values, &Value{
		id:       id,
		producer: producer,
		index:    index,
		rank:     rank,
		kind:     kind,
		name:     name,
	})
	return id
}

func (p *Program) recordUse(op OpID, access ValueAccess) {
	p.values[access.Value].uses = append(p.values[access.Value].uses, op)
}

func (p *Program) append(op Op) {
	if op.ID() != OpID(len(p.ops)) {
		panic(fmt.Sprintf("operation %s registered out of order", op))
	}
	p.ops = append(p.ops, op)
	for access := range iter.All(op.Domain(), op.Operands()) {
		p.recordUse(op.ID(), access)
	}
}

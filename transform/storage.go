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
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/MortadhaMannai/structured-additive-IR/analysis"
	"github.com/MortadhaMannai/structured-additive-IR/base/iter"
	"github.com/MortadhaMannai/structured-additive-IR/fmterr"
	"github.com/MortadhaMannai/structured-additive-IR/ir"
	"github.com/MortadhaMannai/structured-additive-IR/mapping"
)

// AssignDefaultStorage assigns a storage to every value of the program.
// Values only used along the loops of their producer stay in registers;
// other values get a buffer materializing the accessed dimensions. The
// inferred storages are committed to the program only after they verify.
// Every compute operation must carry a loop nest attribute beforehand.
func AssignDefaultStorage(program *ir.Program, opts ...Option) error {
	cfg := newConfig(opts)
	var errs error
	for _, op := range program.ComputeOps() {
		if op.LoopNest() == nil {
			errs = multierr.Append(errs, fmterr.Errorf(op, "expected a loop-nest attribute"))
			if cfg.failFast {
				return errs
			}
		}
	}
	if errs != nil {
		return errs
	}

	spaces := analysis.NewIterationSpaces(program)
	seq, err := analysis.NewSequence(program, analysis.NewBackwardSlice(program))
	if err != nil {
		return err
	}
	fusion, err := analysis.NewLoopFusion(program, seq)
	if err != nil {
		return err
	}
	storage, err := analysis.NewStorage(program, spaces, fusion, seq)
	if err != nil {
		return err
	}
	pass := &storagePass{
		cfg:     cfg,
		program: program,
		spaces:  spaces,
		storage: storage,
	}
	return pass.run()
}

type storagePass struct {
	cfg     config
	program *ir.Program
	spaces  *analysis.IterationSpaces
	storage *analysis.Storage
}

func (p *storagePass) run() error {
	// Assign buffers to the values that do not fit in registers.
	if err := p.walkOperands(p.createBufferIfNeeded); err != nil {
		return err
	}
	// Assign the remaining values to registers and initialize layouts.
	if err := p.walkResults(p.initializeStorage); err != nil {
		return err
	}
	// Add layout dimensions until every use has access to the data it needs.
	if err := p.walkOperands(p.extendLayout); err != nil {
		return err
	}
	// Unknown layout expressions remain on values stored in a buffer that
	// gained dimensions for the sake of another value. They denote dimensions
	// the value does not use.
	if err := p.walkResults(p.makeLayoutFullySpecified); err != nil {
		return err
	}
	err := p.storage.VerifyAndMinimizeBufferLoopNests()
	if err == nil {
		err = p.storage.VerifyValuesNotOverwritten()
	}
	if err != nil {
		return multierr.Append(err, errors.New(
			"unable to generate storage attributes, see other errors for more information"))
	}
	return p.commit()
}

// walkOperands applies fn to every value operand of every operation.
func (p *storagePass) walkOperands(fn func(op ir.Op, operand ir.ValueAccess) error) error {
	var errs error
	for _, op := range p.program.Ops() {
		for _, operand := range op.Operands() {
			if err := fn(op, operand); err != nil {
				errs = multierr.Append(errs, err)
				if p.cfg.failFast {
					return errs
				}
			}
		}
	}
	return errs
}

// walkResults applies fn to every value defined by the program. Range
// results are skipped: they structure domains and are never stored.
func (p *storagePass) walkResults(fn func(value ir.ValueID) error) error {
	isValue := func(result ir.ValueID) bool {
		return p.program.Value(result).Kind().IsValue()
	}
	var errs error
	for _, op := range p.program.Ops() {
		for result := range iter.Filter(isValue, op.Results()) {
			if err := fn(result); err != nil {
				errs = multierr.Append(errs, err)
				if p.cfg.failFast {
					return errs
				}
			}
		}
	}
	return errs
}

// fitsInRegisters reports whether the operand accesses the value along loops
// shared with the producer only.
func (p *storagePass) fitsInRegisters(op ir.Op, operand ir.ValueAccess) (bool, error) {
	def := p.program.Producer(operand.Value)
	m, err := p.spaces.TranslateMapping(op, def, operand.Mapping.Resize(len(def.Domain())))
	if err != nil {
		return false, fmterr.Position(op, err)
	}
	commonLoops := p.spaces.Get(op).NumCommonLoops(p.spaces.Get(def))
	return m.MinDomainSize() <= commonLoops, nil
}

// createBufferIfNeeded assigns a fresh buffer to the operand value if it
// cannot fit in registers and no storage is requested for it yet. The buffer
// is nested in the loops of the operand owner.
func (p *storagePass) createBufferIfNeeded(op ir.Op, operand ir.ValueAccess) error {
	if p.storage.Of(operand.Value).Space() != "" {
		return nil
	}
	fits, err := p.fitsInRegisters(op, operand)
	if err != nil || fits {
		return err
	}
	if p.program.Value(operand.Value).Kind() == ir.Index {
		return fmterr.Errorf(p.program.Producer(operand.Value),
			"cannot generate default storage for multi-dimensional index values")
	}
	_, err = p.storage.CreateBuffer(operand.Value, p.spaces.Get(op).LoopNames(), op)
	return err
}

// initializeStorage defaults the space of the value to registers and its
// layout to unknown expressions over the rank of its buffer, if any.
func (p *storagePass) initializeStorage(value ir.ValueID) error {
	st := p.storage.Of(value)
	if st.Space() == "" {
		if err := p.storage.MergeSpace(value, ir.Register); err != nil {
			return err
		}
	}
	if st.Layout() != nil {
		return nil
	}
	numDimensions := 0
	if name := st.BufferName(); name != "" {
		buffer, _ := p.storage.Buffer(name)
		numDimensions = buffer.Rank()
	}
	space := p.spaces.Get(p.program.Producer(value))
	exprs := make([]mapping.Expr, numDimensions)
	for i := range exprs {
		exprs[i] = mapping.Unknown
	}
	layout, err := mapping.New(space.NumDimensions(), exprs...)
	if err != nil {
		return err
	}
	return p.storage.MergeLayout(value, layout)
}

// extendLayout adds dimensions to the layout of the operand value, and to its
// buffer, until the layout covers every dimension the operand communicates
// through memory.
func (p *storagePass) extendLayout(op ir.Op, operand ir.ValueAccess) error {
	st := p.storage.Of(operand.Value)
	def := p.program.Producer(operand.Value)
	defSpace := p.spaces.Get(def)
	useSpace := p.spaces.Get(op)

	valueRank := p.program.Value(operand.Value).Rank()
	volume, err := analysis.CommunicationVolume(valueRank, defSpace, useSpace)
	if err != nil {
		return fmterr.Position(op, err)
	}

	layoutToValue, err := defSpace.Mapping().Compose(*st.Layout()).Inverse()
	if err != nil {
		return fmterr.Position(def, err)
	}
	layoutToVolume := layoutToValue.Resize(valueRank).Compose(volume)
	if layoutToVolume.IsSurjective() {
		return nil
	}

	if st.BufferName() == "" {
		return fmterr.Position(def, fmterr.Internal(errors.Errorf(
			"no buffer assigned to %s before extending its layout", p.program.Value(operand.Value))))
	}
	buffer, _ := p.storage.Buffer(st.BufferName())
	if buffer.External() {
		return fmterr.Errorf(def,
			"specifying value layout would require to increase the rank of an external buffer")
	}

	// Extend the layout to cover the communication volume and permute its
	// dimensions so that the new ones are the leading dimensions of the
	// buffer.
	extended := layoutToVolume.MakeSurjective()
	numNewDims := extended.UseDomainSize() - buffer.Rank()
	permutation := mapping.Identity(buffer.Rank()).
		ShiftRight(numNewDims).
		AddSuffix(mapping.Identity(numNewDims).Dimensions())
	extended = permutation.Compose(extended)
	extendedInverse, err := extended.Inverse()
	if err != nil {
		return fmterr.Position(def, err)
	}

	// Layout expressions that do not map to the communication volume are
	// missing from the extended layout. Unifying with the old layout, shifted
	// by the new leading dimensions, preserves them.
	noneExprs := make([]mapping.Expr, numNewDims)
	for i := range noneExprs {
		noneExprs[i] = mapping.None
	}
	extendedOld := st.Layout().AddPrefix(noneExprs)
	spaceToDomain, err := defSpace.Mapping().Inverse()
	if err != nil {
		return fmterr.Position(def, err)
	}
	newLayout, err := spaceToDomain.Resize(valueRank).
		Compose(volume).
		Compose(extendedInverse).
		Unify(extendedOld)
	if err != nil {
		return fmterr.Position(def, err)
	}

	if err := p.storage.AddDimensionsToBuffer(st.BufferName(), newLayout); err != nil {
		return fmterr.Position(def, err)
	}
	return p.storage.MergeLayout(operand.Value, newLayout)
}

// makeLayoutFullySpecified turns the remaining unknown layout expressions
// into none expressions.
func (p *storagePass) makeLayoutFullySpecified(value ir.ValueID) error {
	layout := p.storage.Of(value).Layout()
	return p.storage.MergeLayout(value, layout.MakeFullySpecified())
}

// commit writes the inferred storages back to the results of compute
// operations.
func (p *storagePass) commit() error {
	var errs error
	for _, op := range p.program.ComputeOps() {
		if err := p.commitOp(op); err != nil {
			errs = multierr.Append(errs, err)
			if p.cfg.failFast {
				return errs
			}
		}
	}
	return errs
}

func (p *storagePass) commitOp(op ir.ComputeOp) error {
	for i, result := range op.Results() {
		if !p.program.Value(result).Kind().IsValue() {
			continue
		}
		st := p.storage.Of(result)
		attr := ir.Storage{Space: st.Space(), Buffer: st.BufferName()}
		// Layouts are only meaningful relative to a buffer. Register values
		// keep an empty layout in the analysis but commit without one.
		if st.BufferName() != "" && st.Layout() != nil {
			layout, err := p.loopsLayout(op, result, *st.Layout())
			if err != nil {
				return err
			}
			attr.Layout = layout
		}
		op.SetStorage(i, attr)
	}
	return nil
}

// loopsLayout renames the input dimensions of a layout from positions in the
// iteration space of the operation to the loops of the operation. Only the
// loops the layout depends on are named.
func (p *storagePass) loopsLayout(op ir.ComputeOp, value ir.ValueID, layout mapping.Mapping) (*mapping.NamedMapping, error) {
	space := p.spaces.Get(op)
	exprs := make([]mapping.Expr, space.NumDimensions())
	var names []string
	for dim, indexed := range layout.DependencyMask() {
		if !indexed {
			exprs[dim] = mapping.None
			continue
		}
		if dim >= space.NumLoops() {
			return nil, fmterr.Errorf(op,
				"the layout of %s references dimensions that are not loops", p.program.Value(value))
		}
		exprs[dim] = mapping.Dim(len(names))
		names = append(names, space.LoopNames()[dim])
	}
	renaming, err := mapping.New(len(names), exprs...)
	if err != nil {
		return nil, fmterr.Position(op, err)
	}
	named, err := mapping.NewNamed(names, renaming)
	if err != nil {
		return nil, fmterr.Position(op, err)
	}
	composed := named.Compose(layout)
	return &composed, nil
}

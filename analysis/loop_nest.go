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
	"slices"

	"github.com/MortadhaMannai/structured-additive-IR/base/ordered"
	"github.com/MortadhaMannai/structured-additive-IR/base/uname"
	"github.com/MortadhaMannai/structured-additive-IR/fmterr"
	"github.com/MortadhaMannai/structured-additive-IR/ir"
	"github.com/MortadhaMannai/structured-additive-IR/mapping"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// FusionClass is the canonical form of a loop: the operations declaring a
// loop with the same name execute fused in a single loop, so all occurrences
// must agree on the range the loop iterates and on the loops it is nested in.
//
// The class accumulates a domain: the dimensions defining the ranges of the
// loop and of the loops it is nested in, each accessed through a mapping from
// the indices of outer loops. The domain of an outer class is always a prefix
// of the domains of the classes nested in it.
type FusionClass struct {
	name            string
	loopNest        []string
	numDependencies int
	domain          []ir.ValueAccess
	iterExpr        mapping.Expr
	firstOp         ir.ComputeOp
	lastOp          ir.ComputeOp
}

// Name of the loop.
func (c *FusionClass) Name() string { return c.name }

// LoopNest returns the names of the loops the loop is nested in, outermost
// first and including the loop itself.
func (c *FusionClass) LoopNest() []string { return c.loopNest }

// Dependencies returns the outer loops whose indices the range of the loop
// depends on.
func (c *FusionClass) Dependencies() []string {
	return c.loopNest[:c.numDependencies]
}

// Domain returns the dimensions defining the ranges of the loop nest, ending
// with the dimension of this loop. Dimensions access their range through a
// mapping from the indices of the outer loops.
func (c *FusionClass) Domain() []ir.ValueAccess { return c.domain }

// IterExpr returns the expression deriving the loop index from the domain.
func (c *FusionClass) IterExpr() mapping.Expr { return c.iterExpr }

// FirstOp returns the first operation registered in the loop, in sequence
// order. Fusion errors are attributed to it.
func (c *FusionClass) FirstOp() ir.ComputeOp { return c.firstOp }

// EndPoint returns the point at which the loop ends: after the last operation
// of the loop, nested in the outer loops only.
func (c *FusionClass) EndPoint() ProgramPoint {
	return NewProgramPoint(c.lastOp, After, c.loopNest[:len(c.loopNest)-1])
}

// LoopNest is the unified domain a nest of fused loops iterates, common to
// all the operations scheduled to the nest.
type LoopNest struct {
	domain        []ir.ValueAccess
	domainToLoops mapping.Mapping
}

// Domain returns the dimensions defining the loop ranges.
func (n LoopNest) Domain() []ir.ValueAccess { return n.domain }

// DomainToLoops returns the mapping from the domain to the loops.
func (n LoopNest) DomainToLoops() mapping.Mapping { return n.domainToLoops }

// LoopFusion computes the fusion class of every loop name appearing in a
// program.
type LoopFusion struct {
	program *ir.Program
	classes *ordered.Map[string, *FusionClass]
	names   *uname.Unique
}

// NewLoopFusion registers the loop nest of every compute operation carrying
// one, in sequence order. Operations without a loop-nest attribute do not
// take part in fusion. Construction fails if some occurrences of a loop
// cannot be fused.
func NewLoopFusion(program *ir.Program, seq *Sequence) (*LoopFusion, error) {
	fusion := &LoopFusion{
		program: program,
		classes: ordered.NewMap[string, *FusionClass](),
		names:   uname.New(),
	}
	var errs error
	for _, op := range seq.Ops() {
		nest := op.LoopNest()
		for _, loop := range nest {
			fusion.names.Reserve(loop.Name)
		}
		for i := range nest {
			if err := fusion.registerLoop(op, nest[:i+1]); err != nil {
				errs = multierr.Append(errs, err)
				break
			}
		}
	}
	if errs != nil {
		return nil, errs
	}
	return fusion, nil
}

// Class returns the fusion class of a loop name.
func (f *LoopFusion) Class(name string) (*FusionClass, bool) {
	return f.classes.Load(name)
}

// Classes returns an iterator over the fusion classes in registration order.
func (f *LoopFusion) Classes() func(func(*FusionClass) bool) {
	return f.classes.Values()
}

// FreshLoopName returns a loop name that does not collide with the loops of
// the program. It can be called repeatedly without invalidating previously
// returned names.
func (f *LoopFusion) FreshLoopName() string { return f.names.Name("loop") }

// LoopNest returns the unified domain of a nest of fused loops given their
// names, outermost first.
func (f *LoopFusion) LoopNest(names []string) (LoopNest, error) {
	if len(names) == 0 {
		return LoopNest{domainToLoops: mapping.Identity(0)}, nil
	}
	exprs := make([]mapping.Expr, len(names))
	var inner *FusionClass
	for i, name := range names {
		class, ok := f.classes.Load(name)
		if !ok {
			return LoopNest{}, errors.Errorf("loop %q is not registered", name)
		}
		exprs[i] = class.iterExpr
		inner = class
	}
	if !slices.Equal(inner.loopNest, names) {
		return LoopNest{}, errors.Errorf("loops %q do not form a nest", names)
	}
	domainToLoops, err := mapping.New(len(inner.domain), exprs...)
	if err != nil {
		return LoopNest{}, err
	}
	return LoopNest{domain: inner.domain, domainToLoops: domainToLoops}, nil
}

// LoopNestOf returns the unified domain of the loops an operation is
// scheduled to.
func (f *LoopFusion) LoopNestOf(op ir.ComputeOp) (LoopNest, error) {
	return f.LoopNest(ir.LoopNames(op.LoopNest()))
}

// registerLoop registers the innermost loop of nest for an operation. The
// outer loops of the nest must be registered first.
func (f *LoopFusion) registerLoop(op ir.ComputeOp, nest []ir.Loop) error {
	name := nest[len(nest)-1].Name
	class, _ := f.classes.LoadOrCreate(name, func() *FusionClass {
		class := &FusionClass{
			name:            name,
			loopNest:        ir.LoopNames(nest),
			numDependencies: len(nest) - 1,
			iterExpr:        mapping.Unknown,
			firstOp:         op,
		}
		if len(nest) > 1 {
			if outer, ok := f.classes.Load(nest[len(nest)-2].Name); ok {
				class.domain = slices.Clone(outer.domain)
			}
		}
		return class
	})
	if !slices.Equal(class.loopNest, ir.LoopNames(nest)) {
		return fmterr.LoopErrorf(class.firstOp, name,
			"occurrences of the loop are not nested in the same outer loops")
	}
	class.lastOp = op
	dim, ok := nest[len(nest)-1].Iter.(mapping.Dim)
	if !ok {
		// The operation does not iterate the loop. It constrains neither the
		// range nor the iterator of the class.
		if class.iterExpr == mapping.Unknown {
			class.iterExpr = nest[len(nest)-1].Iter
		}
		return nil
	}
	access, err := f.outerLoopsAccess(op, nest, op.Domain()[dim])
	if err != nil {
		return err
	}
	if own, ok := class.iterExpr.(mapping.Dim); ok {
		existing := class.domain[own]
		if existing.Value != access.Value || !existing.Mapping.Equal(access.Mapping) {
			return fmterr.LoopErrorf(class.firstOp, name,
				"occurrences of the loop use different ranges")
		}
		return nil
	}
	// First occurrence that iterates the loop: extend the class domain with
	// the dimension defining the loop range.
	class.domain = append(class.domain, access)
	class.iterExpr = mapping.Dim(len(class.domain) - 1)
	class.numDependencies = min(class.numDependencies, access.Mapping.MinDomainSize())
	return f.checkNestedDomains(class)
}

// outerLoopsAccess rewrites the access to a domain dimension of op into an
// access from the indices of the outer loops of nest.
func (f *LoopFusion) outerLoopsAccess(op ir.ComputeOp, nest []ir.Loop, dim ir.ValueAccess) (ir.ValueAccess, error) {
	name := nest[len(nest)-1].Name
	numDims := len(op.Domain())
	outerExprs := make([]mapping.Expr, len(nest)-1)
	for i, loop := range nest[:len(nest)-1] {
		outerExprs[i] = loop.Iter
	}
	domainToOuter, err := mapping.New(numDims, outerExprs...)
	if err != nil {
		return ir.ValueAccess{}, fmterr.Position(op, err)
	}
	outerToDomain, err := domainToOuter.Inverse()
	if err != nil {
		return ir.ValueAccess{}, fmterr.Position(op, err)
	}
	overDomain, err := dim.Mapping.ResizeUseDomain(numDims)
	if err != nil {
		return ir.ValueAccess{}, fmterr.Position(op, err)
	}
	access := outerToDomain.Compose(overDomain)
	if !access.IsSurjective() {
		return ir.ValueAccess{}, fmterr.LoopErrorf(op, name,
			"the range of the loop depends on dimensions defined by inner loops")
	}
	return ir.ValueAccess{Value: dim.Value, Mapping: access}, nil
}

// checkNestedDomains verifies that the domain of outer remains a prefix of
// the domain of every class nested in it.
func (f *LoopFusion) checkNestedDomains(outer *FusionClass) error {
	for class := range f.classes.Values() {
		if class == outer || len(class.loopNest) <= len(outer.loopNest) {
			continue
		}
		if !slices.Equal(class.loopNest[:len(outer.loopNest)], outer.loopNest) {
			continue
		}
		if len(class.domain) < len(outer.domain) || !accessesEqual(class.domain[:len(outer.domain)], outer.domain) {
			return fmterr.LoopErrorf(class.firstOp, class.name,
				"the domain of outer loop %q is not a prefix of the loop domain", outer.name)
		}
	}
	return nil
}

func accessesEqual(a, b []ir.ValueAccess) bool {
	for i := range a {
		if a[i].Value != b[i].Value || !a[i].Mapping.Equal(b[i].Mapping) {
			return false
		}
	}
	return true
}

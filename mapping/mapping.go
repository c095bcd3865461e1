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

package mapping

import (
	"fmt"
	"slices"

	basefmt "github.com/MortadhaMannai/structured-additive-IR/base/fmt"
	"github.com/pkg/errors"
)

// Mapping maps the dimensions of an input index space to the dimensions of a
// target space, with one expression per target dimension. The input domain
// size is tracked explicitly so that mappings can be inverted even when some
// input dimensions are not referenced.
type Mapping struct {
	useDomainSize int
	exprs         []Expr
}

// New returns a mapping over an input domain of useDomainSize dimensions.
func New(useDomainSize int, exprs ...Expr) (Mapping, error) {
	for i, e := range exprs {
		if e.MinDomainSize() > useDomainSize {
			return Mapping{}, errors.Errorf("expression %s of dimension %d is invalid for an input domain of size %d", e, i, useDomainSize)
		}
	}
	return Mapping{useDomainSize: useDomainSize, exprs: exprs}, nil
}

// newMapping builds a mapping from expressions known to fit the input domain.
func newMapping(useDomainSize int, exprs []Expr) Mapping {
	m, err := New(useDomainSize, exprs...)
	if err != nil {
		panic(err.Error())
	}
	return m
}

// Identity returns the mapping of size n assigning each target dimension to
// the input dimension at the same position.
func Identity(n int) Mapping {
	exprs := make([]Expr, n)
	for i := range exprs {
		exprs[i] = Dim(i)
	}
	return Mapping{useDomainSize: n, exprs: exprs}
}

// UseDomainSize returns the number of dimensions of the input space.
func (m Mapping) UseDomainSize() int { return m.useDomainSize }

// Size returns the number of dimensions of the target space.
func (m Mapping) Size() int { return len(m.exprs) }

// Dimension returns the expression of the i-th target dimension.
func (m Mapping) Dimension(i int) Expr { return m.exprs[i] }

// Dimensions returns the expressions of the target dimensions. The returned
// slice must not be modified.
func (m Mapping) Dimensions() []Expr { return m.exprs }

// MinDomainSize returns the smallest input domain size for which all
// expressions of the mapping are meaningful.
func (m Mapping) MinDomainSize() int {
	size := 0
	for _, e := range m.exprs {
		size = max(size, e.MinDomainSize())
	}
	return size
}

// IsSurjective reports whether all target dimensions resolve to an input
// dimension.
func (m Mapping) IsSurjective() bool {
	for _, e := range m.exprs {
		if _, ok := e.(Dim); !ok {
			return false
		}
	}
	return true
}

// IsFullySpecified reports whether no target dimension is unknown.
func (m Mapping) IsFullySpecified() bool {
	return !slices.Contains(m.exprs, Unknown)
}

// IsIdentity reports whether the mapping assigns each target dimension to the
// input dimension at the same position and covers the whole input domain.
func (m Mapping) IsIdentity() bool {
	if m.useDomainSize != len(m.exprs) {
		return false
	}
	for i, e := range m.exprs {
		if e != Dim(i) {
			return false
		}
	}
	return true
}

// Equal reports whether both mappings have the same input domain size and the
// same expressions.
func (m Mapping) Equal(other Mapping) bool {
	return m.useDomainSize == other.useDomainSize && slices.Equal(m.exprs, other.exprs)
}

// DependencyMask returns a boolean per input dimension indicating whether the
// mapping references it.
func (m Mapping) DependencyMask() []bool {
	mask := make([]bool, m.useDomainSize)
	for _, e := range m.exprs {
		if d, ok := e.(Dim); ok {
			mask[d] = true
		}
	}
	return mask
}

// Compose applies m then other: the returned mapping sends the input space of
// m to the target space of other. Expressions of other that resolve to a
// dimension m marks none degrade to the none sentinel, and none or unknown
// never compose past a concrete dimension.
func (m Mapping) Compose(other Mapping) Mapping {
	if other.useDomainSize != len(m.exprs) {
		panic(fmt.Sprintf("cannot compose %s with %s: size mismatch", m, other))
	}
	exprs := make([]Expr, len(other.exprs))
	for i, e := range other.exprs {
		exprs[i] = e.substitute(m.exprs)
	}
	return Mapping{useDomainSize: m.useDomainSize, exprs: exprs}
}

// Inverse returns the mapping from the target space back to the input space.
// Input dimensions the mapping never references invert to unknown. Inversion
// fails if an input dimension is referenced by more than one target
// dimension.
func (m Mapping) Inverse() (Mapping, error) {
	exprs := make([]Expr, m.useDomainSize)
	for i := range exprs {
		exprs[i] = Unknown
	}
	for i, e := range m.exprs {
		d, ok := e.(Dim)
		if !ok {
			continue
		}
		if exprs[d] != Unknown {
			return Mapping{}, errors.Errorf("cannot invert %s: %s is referenced by more than one dimension", m, e)
		}
		exprs[d] = Dim(i)
	}
	return Mapping{useDomainSize: len(m.exprs), exprs: exprs}, nil
}

// MakeSurjective replaces each unknown expression by a reference to a fresh
// input dimension appended after the existing ones. Dimensions marked none
// are left untouched.
func (m Mapping) MakeSurjective() Mapping {
	useDomainSize := m.useDomainSize
	exprs := slices.Clone(m.exprs)
	for i, e := range exprs {
		if e == Unknown {
			exprs[i] = Dim(useDomainSize)
			useDomainSize++
		}
	}
	return Mapping{useDomainSize: useDomainSize, exprs: exprs}
}

// MakeFullySpecified replaces each unknown expression by none.
func (m Mapping) MakeFullySpecified() Mapping {
	exprs := slices.Clone(m.exprs)
	for i, e := range exprs {
		if e == Unknown {
			exprs[i] = None
		}
	}
	return Mapping{useDomainSize: m.useDomainSize, exprs: exprs}
}

// Unify merges two mappings of the same shape dimension by dimension.
func (m Mapping) Unify(other Mapping) (Mapping, error) {
	if m.useDomainSize != other.useDomainSize || len(m.exprs) != len(other.exprs) {
		return Mapping{}, errors.Errorf("cannot unify %s with %s: shape mismatch", m, other)
	}
	exprs := make([]Expr, len(m.exprs))
	for i := range exprs {
		e, err := UnifyExprs(m.exprs[i], other.exprs[i])
		if err != nil {
			return Mapping{}, errors.Wrapf(err, "dimension %d", i)
		}
		exprs[i] = e
	}
	return Mapping{useDomainSize: m.useDomainSize, exprs: exprs}, nil
}

// Resize truncates or extends the mapping to size target dimensions. Added
// dimensions are marked none.
func (m Mapping) Resize(size int) Mapping {
	if size <= len(m.exprs) {
		return Mapping{useDomainSize: m.useDomainSize, exprs: m.exprs[:size]}
	}
	exprs := make([]Expr, size)
	copy(exprs, m.exprs)
	for i := len(m.exprs); i < size; i++ {
		exprs[i] = None
	}
	return Mapping{useDomainSize: m.useDomainSize, exprs: exprs}
}

// ResizeUseDomain changes the input domain size. The size cannot shrink below
// the smallest domain the expressions reference.
func (m Mapping) ResizeUseDomain(size int) (Mapping, error) {
	if size < m.MinDomainSize() {
		return Mapping{}, errors.Errorf("cannot resize the input domain of %s to %d dimensions", m, size)
	}
	return Mapping{useDomainSize: size, exprs: m.exprs}, nil
}

// ShiftRight shifts every input dimension reference right by offset and grows
// the input domain accordingly.
func (m Mapping) ShiftRight(offset int) Mapping {
	exprs := make([]Expr, len(m.exprs))
	for i, e := range m.exprs {
		exprs[i] = e.shift(offset)
	}
	return Mapping{useDomainSize: m.useDomainSize + offset, exprs: exprs}
}

// AddPrefix prepends expressions to the target dimensions.
func (m Mapping) AddPrefix(exprs []Expr) Mapping {
	all := make([]Expr, 0, len(exprs)+len(m.exprs))
	all = append(all, exprs...)
	all = append(all, m.exprs...)
	return newMapping(m.useDomainSize, all)
}

// AddSuffix appends expressions to the target dimensions.
func (m Mapping) AddSuffix(exprs []Expr) Mapping {
	all := make([]Expr, 0, len(m.exprs)+len(exprs))
	all = append(all, m.exprs...)
	all = append(all, exprs...)
	return newMapping(m.useDomainSize, all)
}

// DropFront removes the first n target dimensions.
func (m Mapping) DropFront(n int) Mapping {
	return Mapping{useDomainSize: m.useDomainSize, exprs: m.exprs[n:]}
}

// String returns a representation of the mapping, for example "[d0, none]".
func (m Mapping) String() string {
	return "[" + basefmt.JoinStringer(slices.Values(m.exprs), ", ") + "]"
}

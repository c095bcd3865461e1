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

// Package mapping implements mappings between iteration index spaces.
//
// A mapping is an ordered list of expressions, one per dimension of a target
// space. Each expression states how the target dimension derives from the
// dimensions of an input space: a reference to one input dimension, none for
// a dimension that is never used, or unknown for a dimension that is not
// resolved yet.
package mapping

import (
	"fmt"

	"github.com/pkg/errors"
)

// Expr derives one dimension of a target space from the dimensions of an
// input space.
type Expr interface {
	fmt.Stringer

	// MinDomainSize returns the smallest input domain size for which the
	// expression is meaningful.
	MinDomainSize() int

	// substitute replaces input dimension references by the given
	// expressions. Substituting through none returns the none sentinel.
	substitute(exprs []Expr) Expr

	// shift adds an offset to input dimension references.
	shift(offset int) Expr

	isExpr()
}

// Dim references an input dimension by position.
type Dim int

func (d Dim) isExpr() {}

// MinDomainSize returns the referenced position plus one.
func (d Dim) MinDomainSize() int { return int(d) + 1 }

// String returns a representation of the dimension, for example "d0".
func (d Dim) String() string { return fmt.Sprintf("d%d", int(d)) }

func (d Dim) substitute(exprs []Expr) Expr {
	if int(d) >= len(exprs) {
		panic(fmt.Sprintf("substituting %s in a mapping of size %d", d, len(exprs)))
	}
	return exprs[d]
}

func (d Dim) shift(offset int) Expr { return Dim(int(d) + offset) }

type (
	noneExpr    struct{}
	unknownExpr struct{}
)

var (
	// None marks a target dimension as definitively unused.
	None Expr = noneExpr{}
	// Unknown marks a target dimension that is not resolved yet.
	Unknown Expr = unknownExpr{}
)

func (noneExpr) isExpr()                {}
func (noneExpr) MinDomainSize() int     { return 0 }
func (noneExpr) String() string         { return "none" }
func (noneExpr) substitute([]Expr) Expr { return None }
func (noneExpr) shift(int) Expr         { return None }

func (unknownExpr) isExpr()                {}
func (unknownExpr) MinDomainSize() int     { return 0 }
func (unknownExpr) String() string         { return "?" }
func (unknownExpr) substitute([]Expr) Expr { return Unknown }
func (unknownExpr) shift(int) Expr         { return Unknown }

// UnifyExprs merges two expressions. Unknown unifies with anything, none
// unifies with any resolved expression, and concrete expressions only unify
// with themselves.
func UnifyExprs(a, b Expr) (Expr, error) {
	switch {
	case a == Unknown:
		return b, nil
	case b == Unknown:
		return a, nil
	case a == None:
		return b, nil
	case b == None:
		return a, nil
	case a == b:
		return a, nil
	}
	return nil, errors.Errorf("cannot unify %s with %s", a, b)
}

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

package mapping_test

import (
	"testing"

	"github.com/MortadhaMannai/structured-additive-IR/mapping"
)

func mustMapping(t *testing.T, useDomainSize int, exprs ...mapping.Expr) mapping.Mapping {
	t.Helper()
	m, err := mapping.New(useDomainSize, exprs...)
	if err != nil {
		t.Fatalf("cannot build mapping: %v", err)
	}
	return m
}

func TestNewRejectsOutOfDomainExpressions(t *testing.T) {
	if _, err := mapping.New(1, mapping.Dim(1)); err == nil {
		t.Errorf("New(1, d1) returned no error but want one")
	}
	if _, err := mapping.New(0, mapping.None, mapping.Unknown); err != nil {
		t.Errorf("New(0, none, ?) returned error %v but want none", err)
	}
}

func TestCompose(t *testing.T) {
	tests := []struct {
		first, second, want mapping.Mapping
	}{
		{
			first:  mapping.Identity(2),
			second: mustMapping(t, 2, mapping.Dim(1), mapping.Dim(0)),
			want:   mustMapping(t, 2, mapping.Dim(1), mapping.Dim(0)),
		},
		{
			first:  mustMapping(t, 3, mapping.Dim(2), mapping.Dim(0)),
			second: mustMapping(t, 2, mapping.Dim(1), mapping.Dim(1), mapping.Dim(0)),
			want:   mustMapping(t, 3, mapping.Dim(0), mapping.Dim(0), mapping.Dim(2)),
		},
		{
			// none and unknown in the second mapping survive composition.
			first:  mapping.Identity(1),
			second: mustMapping(t, 1, mapping.None, mapping.Unknown, mapping.Dim(0)),
			want:   mustMapping(t, 1, mapping.None, mapping.Unknown, mapping.Dim(0)),
		},
		{
			// Dimensions resolving to none degrade to the sentinel.
			first:  mustMapping(t, 1, mapping.None, mapping.Dim(0)),
			second: mustMapping(t, 2, mapping.Dim(0), mapping.Dim(1)),
			want:   mustMapping(t, 1, mapping.None, mapping.Dim(0)),
		},
	}
	for i, test := range tests {
		got := test.first.Compose(test.second)
		if !got.Equal(test.want) {
			t.Errorf("test %d: %s.Compose(%s) = %s but want %s", i, test.first, test.second, got, test.want)
		}
	}
}

func TestInverse(t *testing.T) {
	tests := []struct {
		m, want mapping.Mapping
	}{
		{
			m:    mapping.Identity(3),
			want: mapping.Identity(3),
		},
		{
			m:    mustMapping(t, 2, mapping.Dim(1), mapping.Dim(0)),
			want: mustMapping(t, 2, mapping.Dim(1), mapping.Dim(0)),
		},
		{
			// Unreferenced input dimensions invert to unknown.
			m:    mustMapping(t, 2, mapping.Dim(1)),
			want: mustMapping(t, 1, mapping.Unknown, mapping.Dim(0)),
		},
		{
			m:    mustMapping(t, 1, mapping.Dim(0), mapping.None),
			want: mustMapping(t, 2, mapping.Dim(0)),
		},
	}
	for i, test := range tests {
		got, err := test.m.Inverse()
		if err != nil {
			t.Errorf("test %d: %s.Inverse() returned error %v", i, test.m, err)
			continue
		}
		if !got.Equal(test.want) {
			t.Errorf("test %d: %s.Inverse() = %s but want %s", i, test.m, got, test.want)
		}
	}
	if _, err := mustMapping(t, 1, mapping.Dim(0), mapping.Dim(0)).Inverse(); err == nil {
		t.Errorf("inverting [d0, d0] returned no error but want one")
	}
}

func TestComposeWithInverseIsIdentityOnSupport(t *testing.T) {
	tests := []mapping.Mapping{
		mapping.Identity(4),
		mustMapping(t, 3, mapping.Dim(2), mapping.Dim(0), mapping.Dim(1)),
		mustMapping(t, 3, mapping.Dim(1), mapping.None, mapping.Dim(0)),
	}
	for i, m := range tests {
		inv, err := m.Inverse()
		if err != nil {
			t.Fatalf("test %d: %s.Inverse() returned error %v", i, m, err)
		}
		got := m.Compose(inv)
		for d := 0; d < got.Size(); d++ {
			e := got.Dimension(d)
			if e == mapping.Unknown {
				continue
			}
			if e != mapping.Dim(d) {
				t.Errorf("test %d: %s.Compose(%s) maps dimension %d to %s but want d%d", i, m, inv, d, e, d)
			}
		}
	}
}

func TestMakeSurjective(t *testing.T) {
	m := mustMapping(t, 2, mapping.Unknown, mapping.Dim(1), mapping.Unknown, mapping.None)
	got := m.MakeSurjective()
	want := mustMapping(t, 4, mapping.Dim(2), mapping.Dim(1), mapping.Dim(3), mapping.None)
	if !got.Equal(want) {
		t.Errorf("%s.MakeSurjective() = %s but want %s", m, got, want)
	}
	if got.UseDomainSize() != 4 {
		t.Errorf("use domain size is %d but want 4", got.UseDomainSize())
	}
}

func TestMakeFullySpecified(t *testing.T) {
	m := mustMapping(t, 1, mapping.Unknown, mapping.Dim(0))
	if m.IsFullySpecified() {
		t.Errorf("%s reports fully specified but want not", m)
	}
	got := m.MakeFullySpecified()
	want := mustMapping(t, 1, mapping.None, mapping.Dim(0))
	if !got.Equal(want) {
		t.Errorf("%s.MakeFullySpecified() = %s but want %s", m, got, want)
	}
	if !got.IsFullySpecified() {
		t.Errorf("%s does not report fully specified but want so", got)
	}
}

func TestUnifyExprs(t *testing.T) {
	tests := []struct {
		a, b, want mapping.Expr
	}{
		{a: mapping.Unknown, b: mapping.Dim(2), want: mapping.Dim(2)},
		{a: mapping.Dim(2), b: mapping.Unknown, want: mapping.Dim(2)},
		{a: mapping.None, b: mapping.Dim(1), want: mapping.Dim(1)},
		{a: mapping.Unknown, b: mapping.None, want: mapping.None},
		{a: mapping.Dim(0), b: mapping.Dim(0), want: mapping.Dim(0)},
	}
	for i, test := range tests {
		got, err := mapping.UnifyExprs(test.a, test.b)
		if err != nil {
			t.Errorf("test %d: UnifyExprs(%s, %s) returned error %v", i, test.a, test.b, err)
			continue
		}
		if got != test.want {
			t.Errorf("test %d: UnifyExprs(%s, %s) = %s but want %s", i, test.a, test.b, got, test.want)
		}
	}
	if _, err := mapping.UnifyExprs(mapping.Dim(0), mapping.Dim(1)); err == nil {
		t.Errorf("UnifyExprs(d0, d1) returned no error but want one")
	}
}

func TestUnify(t *testing.T) {
	a := mustMapping(t, 2, mapping.Dim(0), mapping.Unknown, mapping.None)
	b := mustMapping(t, 2, mapping.Unknown, mapping.Dim(1), mapping.Dim(0))
	want := mustMapping(t, 2, mapping.Dim(0), mapping.Dim(1), mapping.Dim(0))
	got, err := a.Unify(b)
	if err != nil {
		t.Fatalf("%s.Unify(%s) returned error %v", a, b, err)
	}
	if !got.Equal(want) {
		t.Errorf("%s.Unify(%s) = %s but want %s", a, b, got, want)
	}

	conflict := mustMapping(t, 2, mapping.Dim(1), mapping.Unknown, mapping.None)
	if _, err := a.Unify(conflict); err == nil {
		t.Errorf("%s.Unify(%s) returned no error but want one", a, conflict)
	}
	shorter := mustMapping(t, 2, mapping.Dim(0))
	if _, err := a.Unify(shorter); err == nil {
		t.Errorf("%s.Unify(%s) returned no error but want one", a, shorter)
	}
}

func TestMinDomainSize(t *testing.T) {
	tests := []struct {
		m    mapping.Mapping
		want int
	}{
		{m: mustMapping(t, 4), want: 0},
		{m: mustMapping(t, 4, mapping.None, mapping.Unknown), want: 0},
		{m: mustMapping(t, 4, mapping.Dim(2), mapping.Dim(0)), want: 3},
	}
	for i, test := range tests {
		if got := test.m.MinDomainSize(); got != test.want {
			t.Errorf("test %d: %s.MinDomainSize() = %d but want %d", i, test.m, got, test.want)
		}
	}
}

func TestResize(t *testing.T) {
	m := mustMapping(t, 2, mapping.Dim(0), mapping.Dim(1))
	shrunk := m.Resize(1)
	if want := mustMapping(t, 2, mapping.Dim(0)); !shrunk.Equal(want) {
		t.Errorf("%s.Resize(1) = %s but want %s", m, shrunk, want)
	}
	grown := m.Resize(3)
	if want := mustMapping(t, 2, mapping.Dim(0), mapping.Dim(1), mapping.None); !grown.Equal(want) {
		t.Errorf("%s.Resize(3) = %s but want %s", m, grown, want)
	}
}

func TestResizeUseDomain(t *testing.T) {
	m := mustMapping(t, 2, mapping.Dim(1))
	grown, err := m.ResizeUseDomain(4)
	if err != nil {
		t.Fatalf("%s.ResizeUseDomain(4) returned error %v", m, err)
	}
	if grown.UseDomainSize() != 4 {
		t.Errorf("use domain size is %d but want 4", grown.UseDomainSize())
	}
	if _, err := m.ResizeUseDomain(1); err == nil {
		t.Errorf("%s.ResizeUseDomain(1) returned no error but want one", m)
	}
}

func TestShiftRight(t *testing.T) {
	m := mustMapping(t, 2, mapping.Dim(0), mapping.None, mapping.Dim(1))
	got := m.ShiftRight(2)
	want := mustMapping(t, 4, mapping.Dim(2), mapping.None, mapping.Dim(3))
	if !got.Equal(want) {
		t.Errorf("%s.ShiftRight(2) = %s but want %s", m, got, want)
	}
}

func TestAddPrefixSuffixDropFront(t *testing.T) {
	m := mustMapping(t, 2, mapping.Dim(1))
	prefixed := m.AddPrefix([]mapping.Expr{mapping.None, mapping.Dim(0)})
	if want := mustMapping(t, 2, mapping.None, mapping.Dim(0), mapping.Dim(1)); !prefixed.Equal(want) {
		t.Errorf("AddPrefix = %s but want %s", prefixed, want)
	}
	suffixed := m.AddSuffix([]mapping.Expr{mapping.Unknown})
	if want := mustMapping(t, 2, mapping.Dim(1), mapping.Unknown); !suffixed.Equal(want) {
		t.Errorf("AddSuffix = %s but want %s", suffixed, want)
	}
	dropped := prefixed.DropFront(1)
	if want := mustMapping(t, 2, mapping.Dim(0), mapping.Dim(1)); !dropped.Equal(want) {
		t.Errorf("DropFront = %s but want %s", dropped, want)
	}
}

func TestDependencyMask(t *testing.T) {
	m := mustMapping(t, 3, mapping.Dim(2), mapping.None, mapping.Dim(0))
	got := m.DependencyMask()
	want := []bool{true, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dependency %d is %t but want %t", i, got[i], want[i])
		}
	}
}

func TestPredicates(t *testing.T) {
	if !mapping.Identity(2).IsIdentity() {
		t.Errorf("Identity(2) does not report identity but want so")
	}
	if mustMapping(t, 2, mapping.Dim(0)).IsIdentity() {
		t.Errorf("[d0] over two dimensions reports identity but want not")
	}
	if !mustMapping(t, 2, mapping.Dim(1), mapping.Dim(0)).IsSurjective() {
		t.Errorf("[d1, d0] does not report surjective but want so")
	}
	if mustMapping(t, 2, mapping.Dim(1), mapping.None).IsSurjective() {
		t.Errorf("[d1, none] reports surjective but want not")
	}
}

func TestString(t *testing.T) {
	m := mustMapping(t, 3, mapping.Dim(0), mapping.None, mapping.Unknown)
	if got, want := m.String(), "[d0, none, ?]"; got != want {
		t.Errorf("String() = %q but want %q", got, want)
	}
}

func TestNamedMapping(t *testing.T) {
	m := mustMapping(t, 2, mapping.Dim(1), mapping.Dim(0))
	named, err := mapping.NewNamed([]string{"i", "j"}, m)
	if err != nil {
		t.Fatalf("NewNamed returned error %v", err)
	}
	if got, want := named.String(), "(i, j) -> [d1, d0]"; got != want {
		t.Errorf("String() = %q but want %q", got, want)
	}
	composed := named.Compose(mustMapping(t, 2, mapping.Dim(1)))
	if want := mustMapping(t, 2, mapping.Dim(0)); !composed.Mapping().Equal(want) {
		t.Errorf("Compose = %s but want %s", composed.Mapping(), want)
	}
	if _, err := mapping.NewNamed([]string{"i"}, m); err == nil {
		t.Errorf("NewNamed with one name returned no error but want one")
	}
}

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

package fmterr_test

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/MortadhaMannai/structured-additive-IR/fmterr"
	"github.com/MortadhaMannai/structured-additive-IR/ir"
)

func TestErrorf(t *testing.T) {
	p := ir.NewProgram("test")
	op := p.StaticRange("n", 8)
	err := fmterr.Errorf(op, "size %d is not supported", 8)
	if got, want := err.Error(), "static_range %n: size 8 is not supported"; got != want {
		t.Errorf("Error() = %q but want %q", got, want)
	}
	var withOp fmterr.ErrorWithOp
	if !errors.As(err, &withOp) {
		t.Fatalf("error does not expose its operation but want so")
	}
	if got := withOp.Op(); got.ID() != op.ID() {
		t.Errorf("Op() = %s but want %s", got, op)
	}
	if got, want := withOp.Err().Error(), "size 8 is not supported"; got != want {
		t.Errorf("Err() = %q but want %q", got, want)
	}
}

func TestLoopErrorf(t *testing.T) {
	p := ir.NewProgram("test")
	op := p.StaticRange("n", 8)
	err := fmterr.LoopErrorf(op, "i", "iterator does not cover dimension %d", 1)
	want := `static_range %n: error in loop "i": iterator does not cover dimension 1`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q but want %q", got, want)
	}
}

func TestPositionWrapsSentinels(t *testing.T) {
	sentinel := errors.New("sentinel")
	p := ir.NewProgram("test")
	err := fmterr.Position(p.StaticRange("n", 8), sentinel)
	if !errors.Is(err, sentinel) {
		t.Errorf("errors.Is does not find the wrapped error but want so")
	}
}

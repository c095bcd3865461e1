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

// Package fmterr attaches errors to the operations that caused them.
package fmterr

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/MortadhaMannai/structured-additive-IR/ir"
)

type (
	// ErrorWithOp is an error attached to an operation of a program.
	ErrorWithOp interface {
		error
		Op() ir.Op
		Err() error
	}

	errorWithOp struct {
		op  ir.Op
		err error
	}
)

// Position attaches an operation to an error.
func Position(op ir.Op, err error) ErrorWithOp {
	return errorWithOp{op: op, err: err}
}

// Errorf returns a formatted error attached to an operation.
func Errorf(op ir.Op, format string, a ...any) error {
	return Position(op, errors.Errorf(format, a...))
}

// LoopErrorf returns a formatted error scoped to a loop of an operation.
func LoopErrorf(op ir.Op, loop string, format string, a ...any) error {
	return Position(op, errors.Errorf("error in loop %q: %s", loop, fmt.Sprintf(format, a...)))
}

// Internal marks an error as internal, potentially adding additional
// information.
func Internal(err error) error {
	return fmt.Errorf("internal error. This is a bug in the compiler. Error:\n%+v", err)
}

// Error returns a string description of the error.
func (err errorWithOp) Error() string {
	if err.op == nil {
		return err.err.Error()
	}
	return err.op.String() + ": " + err.err.Error()
}

// Unwrap the error.
func (err errorWithOp) Unwrap() error {
	return err.err
}

// Format writes the error into the state of the formatter.
func (err errorWithOp) Format(s fmt.State, verb rune) {
	format(err, s, verb)
}

// Op returns the operation the error is attached to.
func (err errorWithOp) Op() ir.Op {
	return err.op
}

// Err returns the underlying error.
func (err errorWithOp) Err() error {
	return err.err
}

func formatVerbose(err error, s fmt.State) {
	fmt.Fprintf(s, "%s", err.Error())
	var withSt interface {
		StackTrace() errors.StackTrace
	}
	if !errors.As(err, &withSt) {
		return
	}
	fmt.Fprintf(s, "\nError generated at:%+v\n", withSt.StackTrace())
}

func format(err error, s fmt.State, verb rune) {
	switch verb {
	case 'w':
		fallthrough
	case 'v':
		if s.Flag('+') {
			formatVerbose(err, s)
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, err.Error())
	case 'q':
		fmt.Fprintf(s, "%q", err.Error())
	}
}

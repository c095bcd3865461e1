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

import "github.com/gx-org/backend/dtype"

// Kind of a value.
type Kind uint

const (
	// Invalid kind.
	Invalid = Kind(dtype.Invalid)
	// Bool value kind.
	Bool = Kind(dtype.Bool)
	// Int32 value kind.
	Int32 = Kind(dtype.Int32)
	// Int64 value kind.
	Int64 = Kind(dtype.Int64)
	// Uint32 value kind.
	Uint32 = Kind(dtype.Uint32)
	// Uint64 value kind.
	Uint64 = Kind(dtype.Uint64)
	// Bfloat16 value kind.
	Bfloat16 = Kind(dtype.Bfloat16)
	// Float32 value kind.
	Float32 = Kind(dtype.Float32)
	// Float64 value kind.
	Float64 = Kind(dtype.Float64)

	// Index is the kind of values indexing an iteration dimension.
	Index = Kind(iota + dtype.MaxDataType)
	// Range is the kind of values defining an iteration dimension.
	Range
)

// DType converts a kind into an array data type. Kinds that do not hold
// array data convert to dtype.Invalid.
func (k Kind) DType() dtype.DataType {
	if k >= dtype.MaxDataType {
		return dtype.Invalid
	}
	return dtype.DataType(k)
}

// IsValue reports whether values of that kind hold data that can be stored.
// Ranges structure iteration domains and are never stored.
func (k Kind) IsValue() bool {
	return k != Invalid && k != Range
}

// String returns a string representation of a kind.
func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Bfloat16:
		return "bfloat16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Index:
		return "index"
	case Range:
		return "range"
	}
	return "invalid"
}

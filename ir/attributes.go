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

	"github.com/MortadhaMannai/structured-additive-IR/mapping"
)

// Loop assigns one dimension of a loop nest. Operations scheduled to loops of
// the same name execute fused inside a single loop.
type Loop struct {
	// Name of the loop.
	Name string
	// Iter derives the loop index from the domain of the operation. A none
	// expression replicates the operation across the loop instead.
	Iter mapping.Expr
}

// String returns a representation such as "i:d0".
func (l Loop) String() string {
	return fmt.Sprintf("%s:%s", l.Name, l.Iter)
}

// LoopNames returns the names of the loops of a nest, outermost first.
func LoopNames(nest []Loop) []string {
	names := make([]string, len(nest))
	for i, loop := range nest {
		names[i] = loop.Name
	}
	return names
}

// Space tags where a value lives.
type Space string

const (
	// Register stores each instance of a value in virtual registers.
	Register Space = "register"
	// Memory stores a value in a buffer.
	Memory Space = "memory"
)

// Storage describes where the instances of a value live. The zero value
// leaves every field unspecified.
type Storage struct {
	// Space the value is stored in.
	Space Space
	// Buffer is the name of the buffer holding the value when it is stored
	// in memory.
	Buffer string
	// Layout maps the loops the value is distributed across, identified by
	// name, to the dimensions of the buffer.
	Layout *mapping.NamedMapping
}

// String returns a representation of the storage attribute.
func (s Storage) String() string {
	str := string(s.Space)
	if s.Buffer != "" {
		str += " " + s.Buffer
	}
	if s.Layout != nil {
		str += " " + s.Layout.String()
	}
	return str
}

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
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// NamedMapping is a mapping whose input dimensions carry names, typically the
// names of the loops a value is distributed across.
type NamedMapping struct {
	names   []string
	mapping Mapping
}

// NewNamed returns a mapping whose input dimensions are named. The mapping
// must have one input dimension per name.
func NewNamed(names []string, m Mapping) (NamedMapping, error) {
	if len(names) != m.UseDomainSize() {
		return NamedMapping{}, errors.Errorf("cannot name the %d input dimensions of %s with %d names", m.UseDomainSize(), m, len(names))
	}
	return NamedMapping{names: names, mapping: m}, nil
}

// Names returns the names of the input dimensions.
func (n NamedMapping) Names() []string { return n.names }

// Mapping returns the mapping over the named input dimensions.
func (n NamedMapping) Mapping() Mapping { return n.mapping }

// Compose applies the named mapping then other, preserving the input names.
func (n NamedMapping) Compose(other Mapping) NamedMapping {
	return NamedMapping{names: n.names, mapping: n.mapping.Compose(other)}
}

// Equal reports whether both named mappings have the same names and the same
// expressions.
func (n NamedMapping) Equal(other NamedMapping) bool {
	return slices.Equal(n.names, other.names) && n.mapping.Equal(other.mapping)
}

// String returns a representation such as "(i, j) -> [d1, none]".
func (n NamedMapping) String() string {
	return "(" + strings.Join(n.names, ", ") + ") -> " + n.mapping.String()
}

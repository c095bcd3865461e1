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

// Package uname provides unique names.
package uname

import "fmt"

// Unique generates unique names of the form root_N. Names already
// handed out or reserved are never returned again, so a generator can
// be queried repeatedly without invalidating previous results.
type Unique struct {
	used map[string]bool
	next map[string]int
}

// New name generator.
func New() *Unique {
	return &Unique{
		used: make(map[string]bool),
		next: make(map[string]int),
	}
}

// Reserve marks a name as taken so that Name never returns it.
func (n *Unique) Reserve(name string) {
	n.used[name] = true
}

// Name returns a fresh name for a root, skipping reserved names.
// Counters are per root and only move forward.
func (n *Unique) Name(root string) string {
	for {
		name := fmt.Sprintf("%s_%d", root, n.next[root])
		n.next[root]++
		if !n.used[name] {
			n.used[name] = true
			return name
		}
	}
}

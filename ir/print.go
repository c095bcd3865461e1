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
	"slices"
	"strings"

	basefmt "github.com/MortadhaMannai/structured-additive-IR/base/fmt"
)

// String returns a listing of the program with one operation per line.
// Scheduling attributes that are set follow each operation, indented.
func (p *Program) String() string {
	var b strings.Builder
	for _, op := range p.ops {
		p.appendOp(&b, op)
	}
	return b.String()
}

func (p *Program) appendOp(b *strings.Builder, op Op) {
	b.WriteString(op.String())
	if domain := op.Domain(); len(domain) > 0 {
		dims := make([]string, len(domain))
		for i, dim := range domain {
			dims[i] = fmt.Sprintf("d%d:%s", i, p.Value(dim.Value))
			if dim.Mapping.Size() > 0 {
				dims[i] += dim.Mapping.String()
			}
		}
		b.WriteString("[" + strings.Join(dims, ", ") + "]")
	}
	if operands := op.Operands(); len(operands) > 0 {
		uses := make([]string, len(operands))
		for i, operand := range operands {
			uses[i] = p.Value(operand.Value).String() + operand.Mapping.String()
		}
		b.WriteString("(" + strings.Join(uses, ", ") + ")")
	}
	if results := op.Results(); len(results) > 0 {
		kinds := make([]string, len(results))
		for i, result := range results {
			kinds[i] = p.Value(result).Kind().String()
		}
		sig := strings.Join(kinds, ", ")
		if len(kinds) > 1 {
			sig = "(" + sig + ")"
		}
		b.WriteString(" : " + sig)
	}
	b.WriteString("\n")
	compute, ok := op.(ComputeOp)
	if !ok {
		return
	}
	for _, attr := range p.attributeStrings(compute) {
		b.WriteString(basefmt.Indent(attr + "\n"))
	}
}

func (p *Program) attributeStrings(op ComputeOp) []string {
	var attrs []string
	if nest := op.LoopNest(); nest != nil {
		attrs = append(attrs, "loops = ["+basefmt.JoinStringer(slices.Values(nest), ", ")+"]")
	}
	if seq, ok := op.Sequence(); ok {
		attrs = append(attrs, fmt.Sprintf("seq = %d", seq))
	}
	for i, result := range op.Results() {
		if storage := op.Storage(i); storage != nil {
			attrs = append(attrs, fmt.Sprintf("storage %s = %s", p.Value(result), storage))
		}
	}
	return attrs
}

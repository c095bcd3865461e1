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

package analysis_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/backend/shape"

	"github.com/MortadhaMannai/structured-additive-IR/analysis"
	"github.com/MortadhaMannai/structured-additive-IR/ir"
	"github.com/MortadhaMannai/structured-additive-IR/mapping"
)

func float32Shape(lengths ...int) *shape.Shape {
	return &shape.Shape{DType: dtype.Float32, AxisLengths: lengths}
}

func mustAnalyses(t *testing.T, p *ir.Program) (*analysis.Storage, *analysis.IterationSpaces, *analysis.Sequence) {
	t.Helper()
	spaces := analysis.NewIterationSpaces(p)
	seq := mustSequence(t, p)
	fusion, err := analysis.NewLoopFusion(p, seq)
	if err != nil {
		t.Fatalf("NewLoopFusion: %v", err)
	}
	storage, err := analysis.NewStorage(p, spaces, fusion, seq)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return storage, spaces, seq
}

func TestStorageExternalBuffers(t *testing.T) {
	p := ir.NewProgram("test")
	n := p.StaticRange("n", 8)
	sh := float32Shape(8)
	in := p.FromBuffer("in", "arg0", sh, p.Dims(n.Out()))
	f := p.Map("f", p.Dims(n.Out()), []ir.ValueAccess{identityAccess(in.Out(), 1)}, []ir.Kind{ir.Float32})
	f.SetLoopNest([]ir.Loop{{Name: "i", Iter: mapping.Dim(0)}})
	p.ToBuffer("store", "arg1", sh, p.Dims(n.Out()), identityAccess(f.Out(0), 1))

	storage, _, _ := mustAnalyses(t, p)

	st := storage.Of(in.Out())
	if got := st.Space(); got != ir.Memory {
		t.Errorf("the space of %s is %s but want memory", p.Value(in.Out()), got)
	}
	if got := st.BufferName(); got != "arg0" {
		t.Errorf("%s is stored in %q but want %q", p.Value(in.Out()), got, "arg0")
	}
	if st.Layout() == nil || !st.Layout().Equal(mapping.Identity(1)) {
		t.Errorf("the layout of %s is %v but want the identity", p.Value(in.Out()), st.Layout())
	}

	// The value written to arg1 is laid out by the write.
	st = storage.Of(f.Out(0))
	if got := st.BufferName(); got != "arg1" {
		t.Errorf("%s is stored in %q but want %q", p.Value(f.Out(0)), got, "arg1")
	}
	if st.Layout() == nil || !st.Layout().Equal(mapping.Identity(1)) {
		t.Errorf("the layout of %s is %v but want the identity", p.Value(f.Out(0)), st.Layout())
	}

	buffer, ok := storage.Buffer("arg0")
	if !ok {
		t.Fatalf("buffer arg0 is not registered but want so")
	}
	if !buffer.External() {
		t.Errorf("arg0 is not external but want so")
	}
	if got := buffer.Rank(); got != 1 {
		t.Errorf("the rank of arg0 is %d but want 1", got)
	}
	if got := buffer.Kind(); got != ir.Float32 {
		t.Errorf("arg0 stores %s values but want float32", got)
	}
	if got := buffer.Values(); len(got) != 1 || got[0] != in.Out() {
		t.Errorf("arg0 stores values %v but want [%v]", got, in.Out())
	}
	if got := len(buffer.LoopNest()); got != 0 {
		t.Errorf("arg0 is nested in %d loops but want 0", got)
	}

	var names []string
	for buffer := range storage.Buffers() {
		names = append(names, buffer.Name())
	}
	if want := []string{"arg0", "arg1"}; !slices.Equal(names, want) {
		t.Errorf("buffers are %v but want %v", names, want)
	}
}

func TestStoragePropagatesThroughProj(t *testing.T) {
	p := ir.NewProgram("test")
	n := p.StaticRange("n", 8)
	k := p.StaticRange("k", 3)
	dims := p.Dims(n.Out(), k.Out())
	f := p.Map("f", dims, nil, []ir.Kind{ir.Float32})
	f.SetLoopNest([]ir.Loop{
		{Name: "i", Iter: mapping.Dim(0)},
		{Name: "j", Iter: mapping.Dim(1)},
	})
	res := p.ProjLast("res", dims[:1], dims[1:], identityAccess(f.Out(0), 2))
	p.ToBuffer("store", "out", float32Shape(8), p.Dims(n.Out()), identityAccess(res.Out(), 1))

	storage, _, _ := mustAnalyses(t, p)

	// The storage of the projected value flows back to its producer: f writes
	// buffer dimension 0 from loop i, overwriting it at every iteration of j.
	st := storage.Of(f.Out(0))
	if got := st.BufferName(); got != "out" {
		t.Errorf("%s is stored in %q but want %q", p.Value(f.Out(0)), got, "out")
	}
	if st.Layout() == nil || !st.Layout().Equal(mustMapping(t, 2, mapping.Dim(0))) {
		t.Errorf("the layout of %s is %v but want %s", p.Value(f.Out(0)), st.Layout(), mustMapping(t, 2, mapping.Dim(0)))
	}

	st = storage.Of(res.Out())
	if got := st.Space(); got != ir.Memory {
		t.Errorf("the space of %s is %s but want memory", p.Value(res.Out()), got)
	}
}

func TestStorageConflictingBuffers(t *testing.T) {
	p := ir.NewProgram("test")
	n := p.StaticRange("n", 8)
	sh := float32Shape(8)
	f := p.Map("f", p.Dims(n.Out()), nil, []ir.Kind{ir.Float32})
	p.ToBuffer("s1", "b1", sh, p.Dims(n.Out()), identityAccess(f.Out(0), 1))
	p.ToBuffer("s2", "b2", sh, p.Dims(n.Out()), identityAccess(f.Out(0), 1))

	spaces := analysis.NewIterationSpaces(p)
	seq := mustSequence(t, p)
	fusion, err := analysis.NewLoopFusion(p, seq)
	if err != nil {
		t.Fatalf("NewLoopFusion: %v", err)
	}
	_, err = analysis.NewStorage(p, spaces, fusion, seq)
	if err == nil {
		t.Fatalf("NewStorage succeeded but want an error")
	}
	if !strings.Contains(err.Error(), "conflicting buffers") {
		t.Errorf("error is %q but want it to report the conflicting buffers", err)
	}
}

func TestCreateBuffer(t *testing.T) {
	p := ir.NewProgram("test")
	n := p.StaticRange("n", 8)
	f := p.Map("f", p.Dims(n.Out()), nil, []ir.Kind{ir.Float32})
	f.SetLoopNest([]ir.Loop{{Name: "i", Iter: mapping.Dim(0)}})
	g := p.Map("g", p.Dims(n.Out()), nil, []ir.Kind{ir.Float32})
	g.SetLoopNest([]ir.Loop{{Name: "i", Iter: mapping.Dim(0)}})

	storage, _, _ := mustAnalyses(t, p)

	name, err := storage.CreateBuffer(f.Out(0), []string{"i"}, f)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if name != "buffer_0" {
		t.Errorf("CreateBuffer() = %q but want %q", name, "buffer_0")
	}
	st := storage.Of(f.Out(0))
	if st.Space() != ir.Memory || st.BufferName() != name {
		t.Errorf("the storage of %s is %s %q but want memory %q", p.Value(f.Out(0)), st.Space(), st.BufferName(), name)
	}
	buffer, ok := storage.Buffer(name)
	if !ok {
		t.Fatalf("buffer %q is not registered but want so", name)
	}
	if buffer.External() {
		t.Errorf("%q is external but want not", name)
	}
	if got := buffer.Rank(); got != 0 {
		t.Errorf("the rank of %q is %d but want 0", name, got)
	}
	if got, want := buffer.LoopNest(), []string{"i"}; !slices.Equal(got, want) {
		t.Errorf("%q is nested in loops %v but want %v", name, got, want)
	}

	second, err := storage.CreateBuffer(g.Out(0), nil, g)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if second != "buffer_1" {
		t.Errorf("CreateBuffer() = %q but want %q", second, "buffer_1")
	}
}

func TestAddDimensionsToBuffer(t *testing.T) {
	p := ir.NewProgram("test")
	n := p.StaticRange("n", 8)
	p.FromBuffer("in", "arg0", float32Shape(8), p.Dims(n.Out()))
	f := p.Map("f", p.Dims(n.Out()), nil, []ir.Kind{ir.Float32})
	f.SetLoopNest([]ir.Loop{{Name: "i", Iter: mapping.Dim(0)}})

	storage, _, _ := mustAnalyses(t, p)

	name, err := storage.CreateBuffer(f.Out(0), []string{"i"}, f)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := storage.MergeLayout(f.Out(0), mustMapping(t, 1)); err != nil {
		t.Fatalf("MergeLayout: %v", err)
	}

	if err := storage.AddDimensionsToBuffer(name, mustMapping(t, 1, mapping.Dim(0))); err != nil {
		t.Fatalf("AddDimensionsToBuffer: %v", err)
	}
	buffer, _ := storage.Buffer(name)
	if got := buffer.Rank(); got != 1 {
		t.Errorf("the rank of %q is %d but want 1", name, got)
	}
	// The layout of stored values is padded with unknown dimensions until the
	// caller merges a layout covering them.
	st := storage.Of(f.Out(0))
	if st.Layout() == nil || st.Layout().Size() != 1 || st.Layout().IsFullySpecified() {
		t.Errorf("the layout of %s is %v but want one unknown dimension", p.Value(f.Out(0)), st.Layout())
	}
	if err := storage.MergeLayout(f.Out(0), mustMapping(t, 1, mapping.Dim(0))); err != nil {
		t.Fatalf("MergeLayout: %v", err)
	}
	if got := storage.Of(f.Out(0)).Layout(); !got.Equal(mustMapping(t, 1, mapping.Dim(0))) {
		t.Errorf("the layout of %s is %v but want %s", p.Value(f.Out(0)), got, mustMapping(t, 1, mapping.Dim(0)))
	}

	if err := storage.AddDimensionsToBuffer("arg0", mapping.Identity(2)); err == nil {
		t.Errorf("AddDimensionsToBuffer succeeded on an external buffer but want an error")
	}
}

func TestStorageMergeSpaceConflict(t *testing.T) {
	p := ir.NewProgram("test")
	n := p.StaticRange("n", 8)
	f := p.Map("f", p.Dims(n.Out()), nil, []ir.Kind{ir.Float32})

	storage, _, _ := mustAnalyses(t, p)

	if err := storage.MergeSpace(f.Out(0), ir.Register); err != nil {
		t.Fatalf("MergeSpace: %v", err)
	}
	err := storage.MergeSpace(f.Out(0), ir.Memory)
	if err == nil {
		t.Fatalf("MergeSpace succeeded but want an error")
	}
	if !strings.Contains(err.Error(), "conflicting memory spaces") {
		t.Errorf("error is %q but want it to report the conflicting spaces", err)
	}
}

func TestCommunicationVolume(t *testing.T) {
	p := ir.NewProgram("test")
	n := p.StaticRange("n", 8)
	m := p.StaticRange("m", 4)
	dims := p.Dims(n.Out(), m.Out())
	f := p.Map("f", dims, nil, []ir.Kind{ir.Float32})
	f.SetLoopNest([]ir.Loop{{Name: "i", Iter: mapping.Dim(0)}})
	g := p.Map("g", p.Dims(n.Out()), nil, []ir.Kind{ir.Float32})
	g.SetLoopNest([]ir.Loop{{Name: "i", Iter: mapping.Dim(0)}})
	h := p.Map("h", dims, nil, []ir.Kind{ir.Float32})
	h.SetLoopNest([]ir.Loop{
		{Name: "i", Iter: mapping.Dim(0)},
		{Name: "j", Iter: mapping.Dim(1)},
	})

	spaces := analysis.NewIterationSpaces(p)

	// Only loop i is common: the second dimension of the value must be
	// communicated through memory.
	vol, err := analysis.CommunicationVolume(2, spaces.Get(f), spaces.Get(g))
	if err != nil {
		t.Fatalf("CommunicationVolume: %v", err)
	}
	if want := mustMapping(t, 2, mapping.Dim(1)); !vol.Equal(want) {
		t.Errorf("CommunicationVolume() = %s but want %s", vol, want)
	}

	// All loops are common: nothing needs to be visible in memory.
	vol, err = analysis.CommunicationVolume(2, spaces.Get(h), spaces.Get(h))
	if err != nil {
		t.Fatalf("CommunicationVolume: %v", err)
	}
	if got := vol.Size(); got != 0 {
		t.Errorf("CommunicationVolume() has %d dimensions but want 0", got)
	}
}

func TestVerifyAndMinimizeBufferLoopNests(t *testing.T) {
	p := ir.NewProgram("test")
	n := p.StaticRange("n", 8)
	m := p.StaticRange("m", 4)
	dims := p.Dims(n.Out(), m.Out())
	f := p.Map("f", dims, nil, []ir.Kind{ir.Float32})
	f.SetLoopNest([]ir.Loop{
		{Name: "i", Iter: mapping.Dim(0)},
		{Name: "j", Iter: mapping.Dim(1)},
	})
	g := p.Map("g", p.Dims(n.Out()), []ir.ValueAccess{{
		Value:   f.Out(0),
		Mapping: mustMapping(t, 1, mapping.Dim(0), mapping.None),
	}}, []ir.Kind{ir.Float32})
	g.SetLoopNest([]ir.Loop{{Name: "i", Iter: mapping.Dim(0)}})

	storage, _, _ := mustAnalyses(t, p)

	name, err := storage.CreateBuffer(f.Out(0), []string{"i", "j"}, f)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := storage.MergeLayout(f.Out(0), mustMapping(t, 2)); err != nil {
		t.Fatalf("MergeLayout: %v", err)
	}
	if err := storage.VerifyAndMinimizeBufferLoopNests(); err != nil {
		t.Fatalf("VerifyAndMinimizeBufferLoopNests: %v", err)
	}
	// g accesses the buffer from loop i only.
	buffer, _ := storage.Buffer(name)
	if got, want := buffer.LoopNest(), []string{"i"}; !slices.Equal(got, want) {
		t.Errorf("the loop nest of %q is %v but want %v", name, got, want)
	}

	// A value without a layout fails verification.
	if _, err := storage.CreateBuffer(g.Out(0), []string{"i"}, g); err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	err = storage.VerifyAndMinimizeBufferLoopNests()
	if err == nil {
		t.Fatalf("VerifyAndMinimizeBufferLoopNests succeeded but want an error")
	}
	if !strings.Contains(err.Error(), "is not fully specified") {
		t.Errorf("error is %q but want it to report the missing layout", err)
	}
}

func TestVerifyValuesNotOverwritten(t *testing.T) {
	p := ir.NewProgram("test")
	n := p.StaticRange("n", 8)
	sh := float32Shape(8)
	in := p.FromBuffer("in", "arg0", sh, p.Dims(n.Out()))
	f := p.Map("f", p.Dims(n.Out()), []ir.ValueAccess{identityAccess(in.Out(), 1)}, []ir.Kind{ir.Float32})
	p.ToBuffer("store", "arg0", sh, p.Dims(n.Out()), identityAccess(f.Out(0), 1))

	storage, _, _ := mustAnalyses(t, p)

	// f still reads the initial content of arg0 when it overwrites it.
	err := storage.VerifyValuesNotOverwritten()
	if err == nil {
		t.Fatalf("VerifyValuesNotOverwritten succeeded but want an error")
	}
	if !strings.Contains(err.Error(), "is overwritten by") {
		t.Errorf("error is %q but want it to report the overwrite", err)
	}
}

func TestVerifyValuesNotOverwrittenAfterLastUse(t *testing.T) {
	p := ir.NewProgram("test")
	n := p.StaticRange("n", 8)
	sh := float32Shape(8)
	in := p.FromBuffer("in", "arg0", sh, p.Dims(n.Out()))
	g := p.Map("g", p.Dims(n.Out()), []ir.ValueAccess{identityAccess(in.Out(), 1)}, []ir.Kind{ir.Float32})
	f := p.Map("f", p.Dims(n.Out()), []ir.ValueAccess{identityAccess(g.Out(0), 1)}, []ir.Kind{ir.Float32})
	p.ToBuffer("store", "arg0", sh, p.Dims(n.Out()), identityAccess(f.Out(0), 1))

	storage, _, _ := mustAnalyses(t, p)

	// The last read of the initial content happens before the write.
	if err := storage.VerifyValuesNotOverwritten(); err != nil {
		t.Errorf("VerifyValuesNotOverwritten() = %v but want no error", err)
	}
}

func TestVerifyValuesNotOverwrittenAllowsCarriedValues(t *testing.T) {
	p := ir.NewProgram("test")
	k := p.StaticRange("k", 10)
	dims := p.Dims(k.Out())
	init := p.Map("init", nil, nil, []ir.Kind{ir.Float32})
	acc := p.Fby("acc", nil, dims, ir.ValueAccess{Value: init.Out(0), Mapping: mustMapping(t, 0)})
	next := p.Map("next", dims, []ir.ValueAccess{identityAccess(acc.Out(), 1)}, []ir.Kind{ir.Float32})
	next.SetLoopNest([]ir.Loop{{Name: "c", Iter: mapping.Dim(0)}})
	acc.SetValue(identityAccess(next.Out(0), 1))
	res := p.ProjLast("res", nil, dims, identityAccess(acc.Out(), 1))
	p.ToBuffer("store", "out", float32Shape(), nil, ir.ValueAccess{Value: res.Out(), Mapping: mustMapping(t, 0)})

	storage, _, _ := mustAnalyses(t, p)

	// The init value and the carried values share the buffer on purpose:
	// each iteration overwrites the previous one.
	if err := storage.VerifyValuesNotOverwritten(); err != nil {
		t.Errorf("VerifyValuesNotOverwritten() = %v but want no error", err)
	}
}

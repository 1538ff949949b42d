// Copyright 2024-2025 queryforge
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/queryforge/jitgen/pkg/common"
	"github.com/queryforge/jitgen/pkg/util"
)

func TestRunSelectAndBranches(t *testing.T) {
	cg := NewCodeGen("sel")
	cond := cg.Param(common.BOOL)
	a := cg.Param(common.INT64)
	b := cg.Param(common.INT64)
	res := cg.Select(cond, a, b)
	cg.Ret(res)
	cg.Finish()

	rets, err := cg.Run(RtBool(true), RtInt(common.INT64, 1), RtInt(common.INT64, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rets[0].I64)
	rets, err = cg.Run(RtBool(false), RtInt(common.INT64, 1), RtInt(common.INT64, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rets[0].I64)
}

func TestRunPhiTracksPredecessor(t *testing.T) {
	cg := NewCodeGen("phi_raw")
	cond := cg.Param(common.BOOL)
	thenB := cg.NewBlock("then")
	elseB := cg.NewBlock("else")
	joinB := cg.NewBlock("join")
	cg.CondBr(cond, thenB, elseB)

	cg.SetInsertPoint(thenB)
	one := cg.ConstInt(common.INT32, 1)
	cg.Br(joinB)
	cg.SetInsertPoint(elseB)
	two := cg.ConstInt(common.INT32, 2)
	cg.Br(joinB)

	cg.SetInsertPoint(joinB)
	merged := cg.Phi(common.INT32, []util.Pair[Reg, *Block]{
		{First: one, Second: thenB},
		{First: two, Second: elseB},
	})
	cg.Ret(merged)
	cg.Finish()

	rets, err := cg.Run(RtBool(true))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rets[0].I64)
	rets, err = cg.Run(RtBool(false))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rets[0].I64)
}

func TestRunArgChecks(t *testing.T) {
	cg := NewCodeGen("args")
	cg.Param(common.INT32)
	cg.Ret(cg.ConstBool(true))
	cg.Finish()

	_, err := cg.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1 args")

	_, err = cg.Run(RtString("nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected INT32")
}

func TestFinishRejectsUnterminatedBlock(t *testing.T) {
	cg := NewCodeGen("open")
	_, err := Compile(func() int {
		b := cg.NewBlock("loose")
		cg.SetInsertPoint(b)
		cg.Not(cg.ConstBool(true))
		cg.Finish()
		return 0
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not terminated")
}

func TestPrintDump(t *testing.T) {
	ts := DefaultTypeSystem()
	intT := MakeType(common.IntegerType(), false, ts)
	cg := NewCodeGen("dump")
	_, err := Compile(func() int {
		in := Reconstruct(cg, []Type{intT, intT})
		Materialize(cg, []Value{in[0].Add(cg, in[1])})
		cg.Finish()
		return 0
	})
	require.NoError(t, err)
	out := cg.String()
	assert.Contains(t, out, "fn dump")
	assert.Contains(t, out, "entry:")
	assert.Contains(t, out, "add")
	assert.Contains(t, out, "ret")
}

func TestConcurrentCompilations(t *testing.T) {
	base := DefaultTypeSystem()
	var eg errgroup.Group
	for i := 0; i < 8; i++ {
		eg.Go(func() error {
			ts := base.Clone()
			intT := MakeType(common.IntegerType(), false, ts)
			cg := NewCodeGen("worker")
			_, err := Compile(func() int {
				in := Reconstruct(cg, []Type{intT, intT})
				sum := in[0].Add(cg, in[1])
				Materialize(cg, []Value{sum.CompareLt(cg, in[1])})
				cg.Finish()
				return 0
			})
			if err != nil {
				return err
			}
			rets, err := cg.Run(RtInt(common.INT32, -5), RtInt(common.INT32, 3))
			if err != nil {
				return err
			}
			if !rets[0].Bool {
				t.Error("-5+3 < 3 expected true")
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}

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

	"github.com/queryforge/jitgen/pkg/common"
)

func TestMissingArithStrategyFailsCompile(t *testing.T) {
	ts := DefaultTypeSystem()
	vcT := MakeType(common.VarcharType(), false, ts)
	cg := NewCodeGen("bad_add")
	_, err := Compile(func() int {
		in := Reconstruct(cg, []Type{vcT, vcT})
		in[0].Add(cg, in[1])
		return 0
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no arithmetic type")
}

func TestUnsupportedPromotionFailsCompile(t *testing.T) {
	ts := DefaultTypeSystem()
	// bigint + ubigint promotes to hugeint, which has no strategies
	bigT := MakeType(common.BigintType(), false, ts)
	ubigT := MakeType(common.UbigintType(), false, ts)
	cg := NewCodeGen("huge_add")
	_, err := Compile(func() int {
		in := Reconstruct(cg, []Type{bigT, ubigT})
		in[0].Add(cg, in[1])
		return 0
	})
	require.Error(t, err)
}

func TestMissingCastStrategyFailsCompile(t *testing.T) {
	ts := DefaultTypeSystem()
	vcT := MakeType(common.VarcharType(), false, ts)
	cg := NewCodeGen("bad_cast")
	_, err := Compile(func() int {
		in := Reconstruct(cg, []Type{vcT})
		in[0].CastTo(cg, MakeType(common.IntegerType(), false, ts))
		return 0
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cast strategy")
}

func TestHasCast(t *testing.T) {
	ts := DefaultTypeSystem()
	assert.True(t, ts.HasCast(common.LTID_INTEGER, common.LTID_BIGINT))
	assert.True(t, ts.HasCast(common.LTID_INTEGER, common.LTID_VARCHAR))
	assert.False(t, ts.HasCast(common.LTID_VARCHAR, common.LTID_INTEGER))
}

func TestRegisterOverridesStrategy(t *testing.T) {
	ts := DefaultTypeSystem()
	// replace integer add with subtract to prove lookup dispatches on
	// the registered entry
	ts.RegisterArith(OP_ID_ADD, common.LTID_INTEGER,
		func(cg *CodeGen, typ Type, left, right Operand, onError OnError) (Operand, Reg) {
			data := cg.Binary(OP_SUB, typ.PTyp, left.Data, right.Data)
			return Operand{Data: data, Len: InvalidReg}, InvalidReg
		})

	intT := MakeType(common.IntegerType(), false, ts)
	cg := NewCodeGen("odd_add")
	_, err := Compile(func() int {
		in := Reconstruct(cg, []Type{intT, intT})
		Materialize(cg, []Value{in[0].Add(cg, in[1])})
		cg.Finish()
		return 0
	})
	require.NoError(t, err)
	rets, err := cg.Run(RtInt(common.INT32, 10), RtInt(common.INT32, 4))
	require.NoError(t, err)
	assert.Equal(t, int64(6), rets[0].I64)
}

func TestCloneIsolation(t *testing.T) {
	base := DefaultTypeSystem()
	cloned := base.Clone()

	// a registration on the clone must not leak into the original
	cloned.RegisterCompare(OP_ID_CMP_EQ, common.LTID_HUGEINT,
		directCompareEmit(OP_CMP_EQ))
	assert.NotNil(t, cloned.GetCompare(OP_ID_CMP_EQ, common.LTID_HUGEINT))
	assert.Panics(t, func() {
		base.GetCompare(OP_ID_CMP_EQ, common.LTID_HUGEINT)
	})

	// and the clone still carries the defaults
	assert.NotNil(t, cloned.GetArith(OP_ID_MUL, common.LTID_DOUBLE))
	assert.True(t, cloned.HasCast(common.LTID_TINYINT, common.LTID_DOUBLE))
}

func TestCommonTypes(t *testing.T) {
	ts := DefaultTypeSystem()
	ct := ts.CommonComparableType(common.IntegerType(), common.BigintType())
	assert.Equal(t, common.LTID_BIGINT, ct.Id)

	ct = ts.CommonComparableType(common.IntegerType(), common.DoubleType())
	assert.Equal(t, common.LTID_DOUBLE, ct.Id)

	ct = ts.CommonArithmeticType(common.TinyintType(), common.SmallintType())
	assert.Equal(t, common.LTID_SMALLINT, ct.Id)

	assert.Panics(t, func() {
		ts.CommonArithmeticType(common.VarcharType(), common.VarcharType())
	})
}

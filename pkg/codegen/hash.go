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
	"github.com/queryforge/jitgen/pkg/common"
	"github.com/queryforge/jitgen/pkg/util"
)

// NullHash is the canonical hash of SQL NULL. Every NULL of every type
// hashes to this one sentinel, so hash tables group NULLs together
// regardless of declared type.
const NullHash uint64 = 0xbf58476d1ce4e5b9

// HashValue emits the hash of a single Value as a non-null UBIGINT.
// NULL short-circuits to the sentinel via select, never by feeding the
// indicator into the mixer.
func HashValue(cg *CodeGen, v Value) Value {
	ts := v.GetType().TypeSystem()
	data, _ := v.valuesForHash()
	h := cg.HashReg(data)
	if v.IsNullable() {
		h = cg.Select(v.IsNull(cg), cg.ConstUint(common.UINT64, NullHash), h)
	}
	typ := MakeType(common.UbigintType(), false, ts)
	return NewValue(typ, h, InvalidReg, InvalidReg)
}

// CombineHash mixes two UBIGINT hashes: (a * 0xbf58476d1ce4e5b9) ^ b,
// matching util.CombineHashScalar on the interpreter side. Wrapping
// multiply, order-sensitive.
func CombineHash(cg *CodeGen, a, b Value) Value {
	util.AssertFunc(a.GetType().Id == common.LTID_UBIGINT)
	util.AssertFunc(b.GetType().Id == common.LTID_UBIGINT)
	util.AssertFunc(!a.IsNullable() && !b.IsNullable())
	ts := a.GetType().TypeSystem()
	mul := cg.Binary(OP_MUL, common.UINT64,
		a._data, cg.ConstUint(common.UINT64, NullHash))
	h := cg.Binary(OP_XOR, common.UINT64, mul, b._data)
	typ := MakeType(common.UbigintType(), false, ts)
	return NewValue(typ, h, InvalidReg, InvalidReg)
}

// HashValues folds a tuple left to right: hash the first column, then
// combine each subsequent column's hash in order.
func HashValues(cg *CodeGen, vals []Value) Value {
	util.AssertFunc(!util.Empty(vals))
	res := HashValue(cg, vals[0])
	for i := 1; i < len(vals); i++ {
		res = CombineHash(cg, res, HashValue(cg, vals[i]))
	}
	return res
}

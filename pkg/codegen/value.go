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
	"fmt"

	"github.com/queryforge/jitgen/pkg/common"
	"github.com/queryforge/jitgen/pkg/util"
)

// Value wraps the symbolic registers of one SQL-typed expression
// result: the data register, a length register for variable-length
// types, and a null indicator for nullable types. Values are immutable;
// every operation returns a new Value, so sub-expressions are safe to
// reuse across branches.
type Value struct {
	_typ    Type
	_data   Reg
	_length Reg
	_null   Reg
}

// NewValue enforces the presence invariant: the length register exists
// iff the type is variable-length, the null register iff the type is
// nullable.
func NewValue(typ Type, data, length, null Reg) Value {
	util.AssertFunc(data.Valid())
	util.AssertFunc(length.Valid() == typ.IsVariableLength())
	util.AssertFunc(null.Valid() == typ.Nullable)
	return Value{_typ: typ, _data: data, _length: length, _null: null}
}

func (v Value) GetType() Type {
	return v._typ
}

func (v Value) typeSystem() *TypeSystem {
	return v._typ.TypeSystem()
}

func (v Value) IsNullable() bool {
	return v._typ.Nullable
}

func (v Value) operand() Operand {
	return Operand{Data: v._data, Len: v._length}
}

func fromOperand(typ Type, op Operand, null Reg) Value {
	return NewValue(typ, op.Data, op.Len, null)
}

// IsNull yields the boolean null condition. Statically non-null values
// produce the compile-time constant false without touching the
// instruction stream.
func (v Value) IsNull(cg *CodeGen) Reg {
	if !v._typ.Nullable {
		return cg.ConstBool(false)
	}
	return v._null
}

func (v Value) IsNotNull(cg *CodeGen) Reg {
	if !v._typ.Nullable {
		return cg.ConstBool(true)
	}
	return cg.Not(v._null)
}

// orNull is the OR-null propagation rule shared by comparisons and
// arithmetic: the result is null when either operand is.
func orNull(cg *CodeGen, left, right Value) (Reg, bool) {
	ln := left._typ.Nullable
	rn := right._typ.Nullable
	switch {
	case ln && rn:
		return cg.Or(left._null, right._null), true
	case ln:
		return left._null, true
	case rn:
		return right._null, true
	default:
		return InvalidReg, false
	}
}

func (v Value) castToLType(cg *CodeGen, lt common.LType) Value {
	if v._typ.LType.Equal(lt) {
		return v
	}
	return v.CastTo(cg, MakeType(lt, v._typ.Nullable, v.typeSystem()))
}

func (v Value) compareOp(cg *CodeGen, other Value, op OperatorId) Value {
	ts := v.typeSystem()
	util.AssertFunc(ts == other.typeSystem())
	ct := ts.CommonComparableType(v._typ.LType, other._typ.LType)
	lhs := v.castToLType(cg, ct)
	rhs := other.castToLType(cg, ct)

	emit := ts.GetCompare(op, ct.Id)
	data := emit(cg, MakeType(ct, false, ts), lhs.operand(), rhs.operand())

	null, nullable := orNull(cg, v, other)
	resTyp := MakeType(common.BooleanType(), nullable, ts)
	return NewValue(resTyp, data, InvalidReg, null)
}

func (v Value) CompareEq(cg *CodeGen, other Value) Value {
	return v.compareOp(cg, other, OP_ID_CMP_EQ)
}

func (v Value) CompareNe(cg *CodeGen, other Value) Value {
	eq := v.compareOp(cg, other, OP_ID_CMP_EQ)
	eq._data = cg.Not(eq._data)
	return eq
}

func (v Value) CompareLt(cg *CodeGen, other Value) Value {
	return v.compareOp(cg, other, OP_ID_CMP_LT)
}

func (v Value) CompareLte(cg *CodeGen, other Value) Value {
	return v.compareOp(cg, other, OP_ID_CMP_LE)
}

func (v Value) CompareGt(cg *CodeGen, other Value) Value {
	return other.compareOp(cg, v, OP_ID_CMP_LT)
}

func (v Value) CompareGte(cg *CodeGen, other Value) Value {
	return other.compareOp(cg, v, OP_ID_CMP_LE)
}

// CompareForSort yields a non-null signed Integer: <0, =0, >0. Unlike
// CompareEq it always decides: NULLs compare equal to each other and
// order before every non-null value, which keeps the order total and
// transitive for sorting.
func (v Value) CompareForSort(cg *CodeGen, other Value) Value {
	ts := v.typeSystem()
	util.AssertFunc(ts == other.typeSystem())
	ct := ts.CommonComparableType(v._typ.LType, other._typ.LType)
	lhs := v.castToLType(cg, ct)
	rhs := other.castToLType(cg, ct)

	emitLt := ts.GetCompare(OP_ID_CMP_LT, ct.Id)
	emitEq := ts.GetCompare(OP_ID_CMP_EQ, ct.Id)
	cmpTyp := MakeType(ct, false, ts)
	ltReg := emitLt(cg, cmpTyp, lhs.operand(), rhs.operand())
	eqReg := emitEq(cg, cmpTyp, lhs.operand(), rhs.operand())

	cNeg := cg.ConstInt(common.INT32, -1)
	cZero := cg.ConstInt(common.INT32, 0)
	cPos := cg.ConstInt(common.INT32, 1)
	res := cg.Select(ltReg, cNeg, cg.Select(eqReg, cZero, cPos))

	if v._typ.Nullable || other._typ.Nullable {
		ln := v.IsNull(cg)
		rn := other.IsNull(cg)
		// NULLs first: null < non-null, null == null
		res = cg.Select(ln,
			cg.Select(rn, cZero, cNeg),
			cg.Select(rn, cPos, res))
	}
	resTyp := MakeType(common.IntegerType(), false, ts)
	return NewValue(resTyp, res, InvalidReg, InvalidReg)
}

// TestEquality folds pairwise CompareEq over two equal-length tuples
// with three-valued AND. Zero-length tuples are vacuously equal.
func TestEquality(cg *CodeGen, ts *TypeSystem, lhs, rhs []Value) Value {
	util.AssertFunc(len(lhs) == len(rhs))
	if util.Empty(lhs) {
		typ := MakeType(common.BooleanType(), false, ts)
		return NewValue(typ, cg.ConstBool(true), InvalidReg, InvalidReg)
	}
	res := lhs[0].CompareEq(cg, rhs[0])
	for i := 1; i < len(lhs); i++ {
		res = res.LogicalAnd(cg, lhs[i].CompareEq(cg, rhs[i]))
	}
	return res
}

func (v Value) arithOp(cg *CodeGen, other Value, op OperatorId, onError []OnError) Value {
	policy := OnErrorException
	if !util.Empty(onError) {
		policy = onError[0]
	}
	ts := v.typeSystem()
	util.AssertFunc(ts == other.typeSystem())
	at := ts.CommonArithmeticType(v._typ.LType, other._typ.LType)
	lhs := v.castToLType(cg, at)
	rhs := other.castToLType(cg, at)

	emit := ts.GetArith(op, at.Id)
	resOp, fault := emit(cg, MakeType(at, false, ts), lhs.operand(), rhs.operand(), policy)

	null, nullable := orNull(cg, v, other)
	if fault.Valid() {
		if nullable {
			null = cg.Or(null, fault)
		} else {
			null = fault
			nullable = true
		}
	}
	resTyp := MakeType(at, nullable, ts)
	return fromOperand(resTyp, resOp, null)
}

func (v Value) Add(cg *CodeGen, other Value, onError ...OnError) Value {
	return v.arithOp(cg, other, OP_ID_ADD, onError)
}

func (v Value) Sub(cg *CodeGen, other Value, onError ...OnError) Value {
	return v.arithOp(cg, other, OP_ID_SUB, onError)
}

func (v Value) Mul(cg *CodeGen, other Value, onError ...OnError) Value {
	return v.arithOp(cg, other, OP_ID_MUL, onError)
}

func (v Value) Div(cg *CodeGen, other Value, onError ...OnError) Value {
	return v.arithOp(cg, other, OP_ID_DIV, onError)
}

func (v Value) Mod(cg *CodeGen, other Value, onError ...OnError) Value {
	return v.arithOp(cg, other, OP_ID_MOD, onError)
}

// minMax never faults: it only compares and selects. SQL MIN/MAX skip
// NULL, so the result is null only when both operands are.
func (v Value) minMax(cg *CodeGen, other Value, pickMin bool) Value {
	ts := v.typeSystem()
	util.AssertFunc(ts == other.typeSystem())
	ct := ts.CommonComparableType(v._typ.LType, other._typ.LType)
	lhs := v.castToLType(cg, ct)
	rhs := other.castToLType(cg, ct)

	emitLt := ts.GetCompare(OP_ID_CMP_LT, ct.Id)
	cond := emitLt(cg, MakeType(ct, false, ts), lhs.operand(), rhs.operand())

	var data, length Reg
	if pickMin {
		data = cg.Select(cond, lhs._data, rhs._data)
	} else {
		data = cg.Select(cond, rhs._data, lhs._data)
	}
	length = InvalidReg
	if ct.IsVariableLength() {
		if pickMin {
			length = cg.Select(cond, lhs._length, rhs._length)
		} else {
			length = cg.Select(cond, rhs._length, lhs._length)
		}
	}

	nullable := v._typ.Nullable && other._typ.Nullable
	null := InvalidReg
	if v._typ.Nullable || other._typ.Nullable {
		ln := v.IsNull(cg)
		rn := other.IsNull(cg)
		data = cg.Select(ln, rhs._data, cg.Select(rn, lhs._data, data))
		if length.Valid() {
			length = cg.Select(ln, rhs._length, cg.Select(rn, lhs._length, length))
		}
		if nullable {
			null = cg.And(ln, rn)
		}
	}
	resTyp := MakeType(ct, nullable, ts)
	return NewValue(resTyp, data, length, null)
}

func (v Value) Min(cg *CodeGen, other Value) Value {
	return v.minMax(cg, other, true)
}

func (v Value) Max(cg *CodeGen, other Value) Value {
	return v.minMax(cg, other, false)
}

/*
three-valued AND:

TRUE  AND TRUE   = TRUE

TRUE  AND FALSE  = FALSE
FALSE AND TRUE   = FALSE
FALSE AND FALSE  = FALSE

FALSE AND NULL   = FALSE
NULL  AND FALSE  = FALSE

TRUE  AND NULL   = NULL
NULL  AND TRUE   = NULL
NULL  AND NULL   = NULL
*/
func (v Value) LogicalAnd(cg *CodeGen, other Value) Value {
	util.AssertFunc(v._typ.Id == common.LTID_BOOLEAN)
	util.AssertFunc(other._typ.Id == common.LTID_BOOLEAN)
	ts := v.typeSystem()

	data := cg.And(v._data, other._data)
	if !v._typ.Nullable && !other._typ.Nullable {
		typ := MakeType(common.BooleanType(), false, ts)
		return NewValue(typ, data, InvalidReg, InvalidReg)
	}
	ln := v.IsNull(cg)
	rn := other.IsNull(cg)
	//null: both null, or one null and the other true
	null := cg.Or(
		cg.And(ln, rn),
		cg.Or(cg.And(ln, other._data), cg.And(rn, v._data)))
	typ := MakeType(common.BooleanType(), true, ts)
	return NewValue(typ, data, InvalidReg, null)
}

/*
three-valued OR:

TRUE  OR TRUE    = TRUE
TRUE  OR FALSE   = TRUE
FALSE OR TRUE    = TRUE
FALSE OR FALSE   = FALSE

TRUE  OR NULL    = TRUE
NULL  OR TRUE    = TRUE

FALSE OR NULL    = NULL
NULL  OR FALSE   = NULL
NULL  OR NULL    = NULL
*/
func (v Value) LogicalOr(cg *CodeGen, other Value) Value {
	util.AssertFunc(v._typ.Id == common.LTID_BOOLEAN)
	util.AssertFunc(other._typ.Id == common.LTID_BOOLEAN)
	ts := v.typeSystem()

	data := cg.Or(v._data, other._data)
	if !v._typ.Nullable && !other._typ.Nullable {
		typ := MakeType(common.BooleanType(), false, ts)
		return NewValue(typ, data, InvalidReg, InvalidReg)
	}
	ln := v.IsNull(cg)
	rn := other.IsNull(cg)
	//null: both null, or one null and the other false
	null := cg.Or(
		cg.And(ln, rn),
		cg.Or(cg.And(ln, cg.Not(other._data)), cg.And(rn, cg.Not(v._data))))
	typ := MakeType(common.BooleanType(), true, ts)
	return NewValue(typ, data, InvalidReg, null)
}

// CastTo converts to the target descriptor. The result's nullability
// follows the target; casting a nullable value into a non-nullable
// target is the translator's promise that the value is statically
// non-null here, no runtime assertion is inserted.
func (v Value) CastTo(cg *CodeGen, target Type) Value {
	ts := v.typeSystem()
	util.AssertFunc(ts == target.TypeSystem())

	var out Operand
	if v._typ.LType.Equal(target.LType) {
		out = v.operand()
	} else {
		emit := ts.GetCast(v._typ.Id, target.Id)
		out = emit(cg, v._typ, target, v.operand())
	}

	null := InvalidReg
	if target.Nullable {
		if v._typ.Nullable {
			null = v._null
		} else {
			null = cg.ConstBool(false)
		}
	}
	return NewValue(target, out.Data, out.Len, null)
}

// BuildPHI reconciles per-branch Values at a control-flow join. All
// inputs must share the same logical type identity; nullability may
// differ per branch and the merge is nullable when any input is.
func BuildPHI(cg *CodeGen, vals []util.Pair[Value, *Block]) Value {
	util.AssertFunc(!util.Empty(vals))
	first := vals[0].First
	ts := first.typeSystem()
	nullable := false
	for _, pair := range vals {
		val := pair.First
		if val._typ.Id != first._typ.Id {
			panic(fmt.Sprintf("phi type mismatch: %v vs %v",
				first._typ.LType, val._typ.LType))
		}
		util.AssertFunc(val.typeSystem() == ts)
		nullable = nullable || val._typ.Nullable
	}

	dataArgs := make([]util.Pair[Reg, *Block], 0, len(vals))
	for _, pair := range vals {
		dataArgs = append(dataArgs, util.Pair[Reg, *Block]{
			First:  pair.First._data,
			Second: pair.Second,
		})
	}
	data := cg.Phi(first._typ.PTyp, dataArgs)

	length := InvalidReg
	if first._typ.IsVariableLength() {
		lenArgs := make([]util.Pair[Reg, *Block], 0, len(vals))
		for _, pair := range vals {
			lenArgs = append(lenArgs, util.Pair[Reg, *Block]{
				First:  pair.First._length,
				Second: pair.Second,
			})
		}
		length = cg.Phi(common.UINT64, lenArgs)
	}

	null := InvalidReg
	if nullable {
		nullArgs := make([]util.Pair[Reg, *Block], 0, len(vals))
		for _, pair := range vals {
			nreg := pair.First._null
			if !nreg.Valid() {
				nreg = cg.ConstBool(false)
			}
			nullArgs = append(nullArgs, util.Pair[Reg, *Block]{
				First:  nreg,
				Second: pair.Second,
			})
		}
		null = cg.Phi(common.BOOL, nullArgs)
	}

	typ := MakeType(first._typ.LType, nullable, ts)
	return NewValue(typ, data, length, null)
}

// ValuesForMaterialization exposes the raw registers for writing into
// a fixed-layout storage cell. Absent registers come back invalid.
func (v Value) ValuesForMaterialization() (data, length, null Reg) {
	return v._data, v._length, v._null
}

// ValueFromMaterialization is the exact inverse: it rebuilds a Value
// from a type descriptor and previously stored raw registers.
func ValueFromMaterialization(typ Type, data, length, null Reg) Value {
	return NewValue(typ, data, length, null)
}

// valuesForHash exposes data and length only. The hashing collaborator
// special-cases NULL with a canonical sentinel instead of mixing
// indicator bits.
func (v Value) valuesForHash() (data, length Reg) {
	return v._data, v._length
}

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

	"github.com/huandu/go-clone"
	treemap "github.com/liyue201/gostl/ds/map"
	"github.com/tidwall/btree"

	"github.com/queryforge/jitgen/pkg/common"
	"github.com/queryforge/jitgen/pkg/util"
)

type OperatorId int

const (
	OP_ID_INVALID OperatorId = iota
	OP_ID_ADD
	OP_ID_SUB
	OP_ID_MUL
	OP_ID_DIV
	OP_ID_MOD
	OP_ID_CMP_EQ
	OP_ID_CMP_LT
	OP_ID_CMP_LE
)

var operatorIdToStr = map[OperatorId]string{
	OP_ID_ADD:    "add",
	OP_ID_SUB:    "sub",
	OP_ID_MUL:    "mul",
	OP_ID_DIV:    "div",
	OP_ID_MOD:    "mod",
	OP_ID_CMP_EQ: "cmp_eq",
	OP_ID_CMP_LT: "cmp_lt",
	OP_ID_CMP_LE: "cmp_le",
}

func (op OperatorId) String() string {
	if s, has := operatorIdToStr[op]; has {
		return s
	}
	panic(fmt.Sprintf("usp %d", int(op)))
}

// OnError selects what generated arithmetic does when it detects
// overflow or a zero divisor at run time.
type OnError uint32

const (
	OnErrorException OnError = iota
	OnErrorReturnNull
)

// Operand carries the raw registers of one already-cast input: the
// data register plus the length register for variable-length types.
type Operand struct {
	Data Reg
	Len  Reg
}

// ArithEmitFunc lowers one binary arithmetic operator on operands of
// the resolved common type. Under OnErrorException it emits the raise
// itself and returns an invalid fault register; under OnErrorReturnNull
// it returns the fault condition for the caller to fold into the
// result's null indicator.
type ArithEmitFunc func(cg *CodeGen, typ Type, left, right Operand, onError OnError) (Operand, Reg)

// CompareEmitFunc lowers one comparison into a boolean data register.
// Inputs are the non-null path representations of the resolved type.
type CompareEmitFunc func(cg *CodeGen, typ Type, left, right Operand) Reg

// CastEmitFunc lowers a (source type, target type) conversion.
type CastEmitFunc func(cg *CodeGen, src, dst Type, in Operand) Operand

type ArithEntry struct {
	_op   OperatorId
	_typ  common.LTypeId
	_emit ArithEmitFunc
}

func arithEntryLess(a, b *ArithEntry) bool {
	if a._op != b._op {
		return a._op < b._op
	}
	return a._typ < b._typ
}

type CompareEntry struct {
	_op   OperatorId
	_typ  common.LTypeId
	_emit CompareEmitFunc
}

func compareEntryLess(a, b *CompareEntry) bool {
	if a._op != b._op {
		return a._op < b._op
	}
	return a._typ < b._typ
}

type CastEntry struct {
	_src  common.LTypeId
	_dst  common.LTypeId
	_emit CastEmitFunc
}

func castKey(src, dst common.LTypeId) uint32 {
	return uint32(src)<<16 | uint32(dst)
}

// TypeSystem maps (operator, operand type) to lowering strategies. A
// plain data structure: registration mutates the tables, lookups are
// read-only afterwards. Compilations sharing one instance must not
// register concurrently.
type TypeSystem struct {
	_lock  *util.ReentryLock
	_arith *btree.BTreeG[*ArithEntry]
	_cmp   *btree.BTreeG[*CompareEntry]
	_casts *treemap.Map[uint32, *CastEntry]
}

func NewTypeSystem() *TypeSystem {
	return &TypeSystem{
		_lock:  util.NewReentryLock(),
		_arith: btree.NewBTreeG[*ArithEntry](arithEntryLess),
		_cmp:   btree.NewBTreeG[*CompareEntry](compareEntryLess),
		_casts: treemap.New[uint32, *CastEntry](func(a, b uint32) int {
			if a < b {
				return -1
			} else if a > b {
				return 1
			}
			return 0
		}),
	}
}

func (ts *TypeSystem) RegisterArith(op OperatorId, typ common.LTypeId, emit ArithEmitFunc) {
	util.AssertFunc(emit != nil)
	ts._lock.Lock()
	defer ts._lock.Unlock()
	ts._arith.Set(&ArithEntry{_op: op, _typ: typ, _emit: emit})
}

func (ts *TypeSystem) RegisterCompare(op OperatorId, typ common.LTypeId, emit CompareEmitFunc) {
	util.AssertFunc(emit != nil)
	ts._lock.Lock()
	defer ts._lock.Unlock()
	ts._cmp.Set(&CompareEntry{_op: op, _typ: typ, _emit: emit})
}

func (ts *TypeSystem) RegisterCast(src, dst common.LTypeId, emit CastEmitFunc) {
	util.AssertFunc(emit != nil)
	ts._lock.Lock()
	defer ts._lock.Unlock()
	ts._casts.Insert(castKey(src, dst), &CastEntry{_src: src, _dst: dst, _emit: emit})
}

// GetArith resolves the arithmetic strategy. Missing strategy is a
// compile-time failure.
func (ts *TypeSystem) GetArith(op OperatorId, typ common.LTypeId) ArithEmitFunc {
	ent, has := ts._arith.Get(&ArithEntry{_op: op, _typ: typ})
	if !has {
		panic(fmt.Sprintf("no %v strategy for %v", op, typ))
	}
	return ent._emit
}

func (ts *TypeSystem) GetCompare(op OperatorId, typ common.LTypeId) CompareEmitFunc {
	ent, has := ts._cmp.Get(&CompareEntry{_op: op, _typ: typ})
	if !has {
		panic(fmt.Sprintf("no %v strategy for %v", op, typ))
	}
	return ent._emit
}

func (ts *TypeSystem) GetCast(src, dst common.LTypeId) CastEmitFunc {
	ent, err := ts._casts.Get(castKey(src, dst))
	if err != nil {
		panic(fmt.Sprintf("no cast strategy %v -> %v", src, dst))
	}
	return ent._emit
}

func (ts *TypeSystem) HasCast(src, dst common.LTypeId) bool {
	_, err := ts._casts.Get(castKey(src, dst))
	return err == nil
}

// CommonComparableType resolves the type both operands implicitly cast
// to before comparing. No common type is a compile-time failure.
func (ts *TypeSystem) CommonComparableType(left, right common.LType) common.LType {
	return common.MaxLType(left, right)
}

// CommonArithmeticType additionally requires a numeric result.
func (ts *TypeSystem) CommonArithmeticType(left, right common.LType) common.LType {
	ct := common.MaxLType(left, right)
	if !ct.IsNumeric() {
		panic(fmt.Sprintf("no arithmetic type for %v %v", left, right))
	}
	return ct
}

// Clone deep-copies the tables so a concurrent compilation can hold an
// isolated instance.
func (ts *TypeSystem) Clone() *TypeSystem {
	ret := NewTypeSystem()
	ts._arith.Scan(func(ent *ArithEntry) bool {
		ret._arith.Set(clone.Clone(ent).(*ArithEntry))
		return true
	})
	ts._cmp.Scan(func(ent *CompareEntry) bool {
		ret._cmp.Set(clone.Clone(ent).(*CompareEntry))
		return true
	})
	ts._casts.Traversal(func(key uint32, ent *CastEntry) bool {
		ret._casts.Insert(key, clone.Clone(ent).(*CastEntry))
		return true
	})
	return ret
}

func constZero(cg *CodeGen, typ Type) Reg {
	pt := typ.PTyp
	switch {
	case pt.IsSigned():
		return cg.ConstInt(pt, 0)
	case pt.IsUnsigned():
		return cg.ConstUint(pt, 0)
	case pt.IsFloat():
		return cg.ConstFloat(pt, 0)
	case pt == common.DECIMAL:
		return cg.ConstDecimal(decZero)
	default:
		panic("usp")
	}
}

func arithOpCode(op OperatorId) (OpCode, OpCode) {
	switch op {
	case OP_ID_ADD:
		return OP_ADD, OP_ADD_OVF
	case OP_ID_SUB:
		return OP_SUB, OP_SUB_OVF
	case OP_ID_MUL:
		return OP_MUL, OP_MUL_OVF
	case OP_ID_DIV:
		return OP_DIV, OP_INVALID
	case OP_ID_MOD:
		return OP_MOD, OP_INVALID
	default:
		panic("usp")
	}
}

// numericArithEmit builds the standard strategy for one arithmetic
// operator: overflow probes on add/sub/mul for exact types, zero
// divisor guards on div/mod.
func numericArithEmit(op OperatorId) ArithEmitFunc {
	return func(cg *CodeGen, typ Type, left, right Operand, onError OnError) (Operand, Reg) {
		opCode, ovfCode := arithOpCode(op)
		pt := typ.PTyp
		fault := InvalidReg
		switch op {
		case OP_ID_DIV, OP_ID_MOD:
			zero := constZero(cg, typ)
			fault = cg.Cmp(OP_CMP_EQ, right.Data, zero)
			// MIN / -1 overflows the signed range; mod is defined (0)
			ovf := InvalidReg
			if op == OP_ID_DIV && pt.IsSigned() {
				lo, _ := signedBounds(pt)
				ovf = cg.And(
					cg.Cmp(OP_CMP_EQ, left.Data, cg.ConstInt(pt, lo)),
					cg.Cmp(OP_CMP_EQ, right.Data, cg.ConstInt(pt, -1)))
			}
			if onError == OnErrorException {
				if op == OP_ID_DIV {
					cg.RaiseIf(fault, ERR_DIV_BY_ZERO, "division by zero")
				} else {
					cg.RaiseIf(fault, ERR_MOD_BY_ZERO, "modulo by zero")
				}
				if ovf.Valid() {
					cg.RaiseIf(ovf, ERR_OVERFLOW,
						fmt.Sprintf("%v out of range", typ.LType))
				}
				fault = InvalidReg
			} else if ovf.Valid() {
				fault = cg.Or(fault, ovf)
			}
		default:
			// floats saturate to inf instead of faulting
			if !pt.IsFloat() {
				fault = cg.Binary(ovfCode, common.BOOL, left.Data, right.Data)
				if onError == OnErrorException {
					cg.RaiseIf(fault, ERR_OVERFLOW,
						fmt.Sprintf("%v out of range", typ.LType))
					fault = InvalidReg
				}
			}
		}
		data := cg.Binary(opCode, pt, left.Data, right.Data)
		return Operand{Data: data, Len: InvalidReg}, fault
	}
}

func directCompareEmit(op OpCode) CompareEmitFunc {
	return func(cg *CodeGen, typ Type, left, right Operand) Reg {
		return cg.Cmp(op, left.Data, right.Data)
	}
}

func numericCastEmit(cg *CodeGen, src, dst Type, in Operand) Operand {
	return Operand{Data: cg.Cast(dst.PTyp, in.Data), Len: InvalidReg}
}

func toVarcharCastEmit(cg *CodeGen, src, dst Type, in Operand) Operand {
	data := cg.Cast(common.VARCHAR, in.Data)
	return Operand{Data: data, Len: cg.StrLen(data)}
}

var arithIds = []common.LTypeId{
	common.LTID_TINYINT, common.LTID_SMALLINT, common.LTID_INTEGER,
	common.LTID_BIGINT, common.LTID_UTINYINT, common.LTID_USMALLINT,
	common.LTID_UINTEGER, common.LTID_UBIGINT, common.LTID_FLOAT,
	common.LTID_DOUBLE, common.LTID_DECIMAL,
}

var compareIds = []common.LTypeId{
	common.LTID_BOOLEAN, common.LTID_TINYINT, common.LTID_SMALLINT,
	common.LTID_INTEGER, common.LTID_BIGINT, common.LTID_UTINYINT,
	common.LTID_USMALLINT, common.LTID_UINTEGER, common.LTID_UBIGINT,
	common.LTID_FLOAT, common.LTID_DOUBLE, common.LTID_DECIMAL,
	common.LTID_VARCHAR,
}

func (ts *TypeSystem) registerDefaults() {
	ts._lock.Lock()
	defer ts._lock.Unlock()

	for _, id := range arithIds {
		for _, op := range []OperatorId{
			OP_ID_ADD, OP_ID_SUB, OP_ID_MUL, OP_ID_DIV, OP_ID_MOD,
		} {
			ts.RegisterArith(op, id, numericArithEmit(op))
		}
	}

	for _, id := range compareIds {
		ts.RegisterCompare(OP_ID_CMP_EQ, id, directCompareEmit(OP_CMP_EQ))
		ts.RegisterCompare(OP_ID_CMP_LT, id, directCompareEmit(OP_CMP_LT))
		ts.RegisterCompare(OP_ID_CMP_LE, id, directCompareEmit(OP_CMP_LE))
	}

	for _, src := range arithIds {
		for _, dst := range arithIds {
			if src == dst && src != common.LTID_DECIMAL {
				continue
			}
			ts.RegisterCast(src, dst, numericCastEmit)
		}
		ts.RegisterCast(src, common.LTID_VARCHAR, toVarcharCastEmit)
	}
}

// DefaultTypeSystem builds a TypeSystem covering the built-in numeric,
// boolean, varchar and decimal strategies.
func DefaultTypeSystem() *TypeSystem {
	ts := NewTypeSystem()
	ts.registerDefaults()
	return ts
}

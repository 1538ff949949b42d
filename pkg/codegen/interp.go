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
	"math"
	"strconv"
	"strings"

	dec "github.com/govalues/decimal"

	"github.com/queryforge/jitgen/pkg/common"
	"github.com/queryforge/jitgen/pkg/util"
)

type Decimal = dec.Decimal

var decZero = dec.MustNew(0, 0)

// RtValue is one runtime scalar flowing through a generated function.
// The field read is keyed by Phy.
type RtValue struct {
	Phy  common.PhyType
	Bool bool
	I64  int64
	U64  uint64
	F64  float64
	Str  string
	Dec  Decimal
}

func RtBool(b bool) RtValue {
	return RtValue{Phy: common.BOOL, Bool: b}
}

func RtInt(phy common.PhyType, v int64) RtValue {
	util.AssertFunc(phy.IsSigned())
	return RtValue{Phy: phy, I64: wrapSigned(phy, v)}
}

func RtUint(phy common.PhyType, v uint64) RtValue {
	util.AssertFunc(phy.IsUnsigned())
	return RtValue{Phy: phy, U64: wrapUnsigned(phy, v)}
}

func RtFloat(phy common.PhyType, v float64) RtValue {
	util.AssertFunc(phy.IsFloat())
	if phy == common.FLOAT {
		v = float64(float32(v))
	}
	return RtValue{Phy: phy, F64: v}
}

func RtString(s string) RtValue {
	return RtValue{Phy: common.VARCHAR, Str: s}
}

func RtDecimal(d Decimal) RtValue {
	return RtValue{Phy: common.DECIMAL, Dec: d}
}

func (val RtValue) String() string {
	switch val.Phy {
	case common.BOOL:
		return fmt.Sprintf("%v", val.Bool)
	case common.INT8, common.INT16, common.INT32, common.INT64:
		return fmt.Sprintf("%d", val.I64)
	case common.UINT8, common.UINT16, common.UINT32, common.UINT64:
		return fmt.Sprintf("%d", val.U64)
	case common.FLOAT, common.DOUBLE:
		return fmt.Sprintf("%v", val.F64)
	case common.VARCHAR:
		return val.Str
	case common.DECIMAL:
		return val.Dec.String()
	default:
		return fmt.Sprintf("rt(%v)", val.Phy)
	}
}

func (val RtValue) Equal(o RtValue) bool {
	if val.Phy != o.Phy {
		return false
	}
	switch val.Phy {
	case common.BOOL:
		return val.Bool == o.Bool
	case common.INT8, common.INT16, common.INT32, common.INT64:
		return val.I64 == o.I64
	case common.UINT8, common.UINT16, common.UINT32, common.UINT64:
		return val.U64 == o.U64
	case common.FLOAT, common.DOUBLE:
		return val.F64 == o.F64
	case common.VARCHAR:
		return val.Str == o.Str
	case common.DECIMAL:
		return val.Dec.Cmp(o.Dec) == 0
	default:
		panic("usp")
	}
}

func wrapSigned(phy common.PhyType, v int64) int64 {
	switch phy {
	case common.INT8:
		return int64(int8(v))
	case common.INT16:
		return int64(int16(v))
	case common.INT32:
		return int64(int32(v))
	case common.INT64:
		return v
	default:
		panic("usp")
	}
}

func wrapUnsigned(phy common.PhyType, v uint64) uint64 {
	switch phy {
	case common.UINT8:
		return uint64(uint8(v))
	case common.UINT16:
		return uint64(uint16(v))
	case common.UINT32:
		return uint64(uint32(v))
	case common.UINT64:
		return v
	default:
		panic("usp")
	}
}

func signedBounds(phy common.PhyType) (int64, int64) {
	switch phy {
	case common.INT8:
		return math.MinInt8, math.MaxInt8
	case common.INT16:
		return math.MinInt16, math.MaxInt16
	case common.INT32:
		return math.MinInt32, math.MaxInt32
	case common.INT64:
		return math.MinInt64, math.MaxInt64
	default:
		panic("usp")
	}
}

func unsignedBound(phy common.PhyType) uint64 {
	switch phy {
	case common.UINT8:
		return math.MaxUint8
	case common.UINT16:
		return math.MaxUint16
	case common.UINT32:
		return math.MaxUint32
	case common.UINT64:
		return math.MaxUint64
	default:
		panic("usp")
	}
}

func signedAddOvf(phy common.PhyType, l, r int64) bool {
	if phy != common.INT64 {
		lo, hi := signedBounds(phy)
		res := l + r
		return res < lo || res > hi
	}
	return (r > 0 && l > math.MaxInt64-r) ||
		(r < 0 && l < math.MinInt64-r)
}

func signedSubOvf(phy common.PhyType, l, r int64) bool {
	if phy != common.INT64 {
		lo, hi := signedBounds(phy)
		res := l - r
		return res < lo || res > hi
	}
	return (r < 0 && l > math.MaxInt64+r) ||
		(r > 0 && l < math.MinInt64+r)
}

func signedMulOvf(phy common.PhyType, l, r int64) bool {
	if phy != common.INT64 {
		lo, hi := signedBounds(phy)
		res := l * r
		return res < lo || res > hi
	}
	if l == 0 || r == 0 {
		return false
	}
	if l == -1 && r == math.MinInt64 || r == -1 && l == math.MinInt64 {
		return true
	}
	res := l * r
	return res/l != r
}

func unsignedAddOvf(phy common.PhyType, l, r uint64) bool {
	hi := unsignedBound(phy)
	if phy != common.UINT64 {
		return l+r > hi
	}
	return l > hi-r
}

func unsignedSubOvf(l, r uint64) bool {
	return r > l
}

func unsignedMulOvf(phy common.PhyType, l, r uint64) bool {
	if l == 0 || r == 0 {
		return false
	}
	if phy != common.UINT64 {
		return l*r > unsignedBound(phy)
	}
	res := l * r
	return res/l != r
}

type frameSlot struct {
	_set bool
	_val RtValue
}

// Run interprets the sealed function over one row. Parameters bind to
// args in declaration order. A RaiseIf firing aborts the row with a
// RuntimeError.
func (cg *CodeGen) Run(args ...RtValue) ([]RtValue, error) {
	util.AssertFunc(cg._sealed)
	if len(args) != cg._nparams {
		return nil, fmt.Errorf("expected %d args, got %d", cg._nparams, len(args))
	}
	frame := make([]frameSlot, len(cg._regs))
	for i, info := range cg._regs {
		switch info._kind {
		case REG_CONST:
			frame[i] = frameSlot{_set: true, _val: info._const}
		case REG_PARAM:
			arg := args[info._param]
			if arg.Phy != info._phy {
				return nil, fmt.Errorf("param %d: expected %v, got %v",
					info._param, info._phy, arg.Phy)
			}
			frame[i] = frameSlot{_set: true, _val: arg}
		}
	}

	get := func(r Reg) RtValue {
		util.AssertFunc(r.Valid())
		slot := frame[r]
		util.AssertFunc(slot._set)
		return slot._val
	}

	const maxSteps = 1 << 20
	steps := 0
	prev := InvalidBlockId
	cur := cg._blocks[0]
	for {
		for _, ins := range cur._instrs {
			steps++
			if steps > maxSteps {
				return nil, fmt.Errorf("fn %s: step limit", cg._name)
			}
			if ins._op == OP_RAISE_IF {
				if get(ins._args[0]).Bool {
					return nil, &RuntimeError{Code: ins._errCode, Msg: ins._errMsg}
				}
				continue
			}
			var res RtValue
			if ins._op == OP_PHI {
				found := false
				for i, pred := range ins._preds {
					if pred == prev {
						res = get(ins._args[i])
						found = true
						break
					}
				}
				if !found {
					return nil, fmt.Errorf("fn %s: phi without matching predecessor", cg._name)
				}
			} else {
				res = cg.evalInstr(ins, get)
			}
			frame[ins._res] = frameSlot{_set: true, _val: res}
		}
		switch cur._term._kind {
		case TERM_RET:
			rets := make([]RtValue, 0, len(cur._term._rets))
			for _, r := range cur._term._rets {
				rets = append(rets, get(r))
			}
			return rets, nil
		case TERM_BR:
			prev = cur._id
			cur = cg._blocks[cur._term._to]
		case TERM_COND_BR:
			prev = cur._id
			if get(cur._term._cond).Bool {
				cur = cg._blocks[cur._term._to]
			} else {
				cur = cg._blocks[cur._term._else]
			}
		default:
			return nil, fmt.Errorf("fn %s: fell off block %s", cg._name, cur._name)
		}
	}
}

func (cg *CodeGen) evalInstr(ins *Instr, get func(Reg) RtValue) RtValue {
	switch ins._op {
	case OP_ADD, OP_SUB, OP_MUL, OP_DIV, OP_MOD:
		return evalArith(ins._op, ins._phy, get(ins._args[0]), get(ins._args[1]))
	case OP_ADD_OVF, OP_SUB_OVF, OP_MUL_OVF:
		return RtBool(evalOvf(ins._op, get(ins._args[0]), get(ins._args[1])))
	case OP_CMP_EQ, OP_CMP_NE, OP_CMP_LT, OP_CMP_LE, OP_CMP_GT, OP_CMP_GE:
		return RtBool(evalCmp(ins._op, get(ins._args[0]), get(ins._args[1])))
	case OP_AND:
		return RtBool(get(ins._args[0]).Bool && get(ins._args[1]).Bool)
	case OP_OR:
		return RtBool(get(ins._args[0]).Bool || get(ins._args[1]).Bool)
	case OP_NOT:
		return RtBool(!get(ins._args[0]).Bool)
	case OP_XOR:
		l, r := get(ins._args[0]), get(ins._args[1])
		if ins._phy == common.BOOL {
			return RtBool(l.Bool != r.Bool)
		}
		return RtUint(ins._phy, l.U64^r.U64)
	case OP_SELECT:
		if get(ins._args[0]).Bool {
			return get(ins._args[1])
		}
		return get(ins._args[2])
	case OP_CAST:
		return convertRt(ins._phy, get(ins._args[0]))
	case OP_STRLEN:
		return RtUint(common.UINT64, uint64(len(get(ins._args[0]).Str)))
	case OP_HASH:
		return RtUint(common.UINT64, evalHash(get(ins._args[0])))
	default:
		panic("usp")
	}
}

func evalArith(op OpCode, phy common.PhyType, l, r RtValue) RtValue {
	switch {
	case phy.IsSigned():
		var res int64
		switch op {
		case OP_ADD:
			res = l.I64 + r.I64
		case OP_SUB:
			res = l.I64 - r.I64
		case OP_MUL:
			res = l.I64 * r.I64
		case OP_DIV:
			// unguarded zero divisor keeps the data register
			// defined; strategies guard it per policy
			if r.I64 == 0 {
				res = 0
			} else if l.I64 == math.MinInt64 && r.I64 == -1 {
				res = math.MinInt64
			} else {
				res = l.I64 / r.I64
			}
		case OP_MOD:
			if r.I64 == 0 {
				res = 0
			} else if l.I64 == math.MinInt64 && r.I64 == -1 {
				res = 0
			} else {
				res = l.I64 % r.I64
			}
		}
		return RtInt(phy, res)
	case phy.IsUnsigned():
		var res uint64
		switch op {
		case OP_ADD:
			res = l.U64 + r.U64
		case OP_SUB:
			res = l.U64 - r.U64
		case OP_MUL:
			res = l.U64 * r.U64
		case OP_DIV:
			if r.U64 == 0 {
				res = 0
			} else {
				res = l.U64 / r.U64
			}
		case OP_MOD:
			if r.U64 == 0 {
				res = 0
			} else {
				res = l.U64 % r.U64
			}
		}
		return RtUint(phy, res)
	case phy.IsFloat():
		var res float64
		switch op {
		case OP_ADD:
			res = l.F64 + r.F64
		case OP_SUB:
			res = l.F64 - r.F64
		case OP_MUL:
			res = l.F64 * r.F64
		case OP_DIV:
			if r.F64 == 0 {
				res = 0
			} else {
				res = l.F64 / r.F64
			}
		case OP_MOD:
			if r.F64 == 0 {
				res = 0
			} else {
				res = math.Mod(l.F64, r.F64)
			}
		}
		return RtFloat(phy, res)
	case phy == common.DECIMAL:
		var res Decimal
		var err error
		switch op {
		case OP_ADD:
			res, err = l.Dec.Add(r.Dec)
		case OP_SUB:
			res, err = l.Dec.Sub(r.Dec)
		case OP_MUL:
			res, err = l.Dec.Mul(r.Dec)
		case OP_DIV:
			if r.Dec.IsZero() {
				res = decZero
			} else {
				res, err = l.Dec.Quo(r.Dec)
			}
		case OP_MOD:
			if r.Dec.IsZero() {
				res = decZero
			} else {
				_, res, err = l.Dec.QuoRem(r.Dec)
			}
		}
		if err != nil {
			// unspecified but non-crashing result; probes report
			// the fault
			res = decZero
		}
		return RtDecimal(res)
	default:
		panic("usp")
	}
}

func evalOvf(op OpCode, l, r RtValue) bool {
	phy := l.Phy
	switch {
	case phy.IsSigned():
		switch op {
		case OP_ADD_OVF:
			return signedAddOvf(phy, l.I64, r.I64)
		case OP_SUB_OVF:
			return signedSubOvf(phy, l.I64, r.I64)
		case OP_MUL_OVF:
			return signedMulOvf(phy, l.I64, r.I64)
		}
	case phy.IsUnsigned():
		switch op {
		case OP_ADD_OVF:
			return unsignedAddOvf(phy, l.U64, r.U64)
		case OP_SUB_OVF:
			return unsignedSubOvf(l.U64, r.U64)
		case OP_MUL_OVF:
			return unsignedMulOvf(phy, l.U64, r.U64)
		}
	case phy == common.DECIMAL:
		var err error
		switch op {
		case OP_ADD_OVF:
			_, err = l.Dec.Add(r.Dec)
		case OP_SUB_OVF:
			_, err = l.Dec.Sub(r.Dec)
		case OP_MUL_OVF:
			_, err = l.Dec.Mul(r.Dec)
		}
		return err != nil
	}
	panic("usp")
}

func evalCmp(op OpCode, l, r RtValue) bool {
	c := cmpRt(l, r)
	switch op {
	case OP_CMP_EQ:
		return c == 0
	case OP_CMP_NE:
		return c != 0
	case OP_CMP_LT:
		return c < 0
	case OP_CMP_LE:
		return c <= 0
	case OP_CMP_GT:
		return c > 0
	case OP_CMP_GE:
		return c >= 0
	default:
		panic("usp")
	}
}

func cmpRt(l, r RtValue) int {
	util.AssertFunc(l.Phy == r.Phy)
	switch {
	case l.Phy == common.BOOL:
		lb, rb := 0, 0
		if l.Bool {
			lb = 1
		}
		if r.Bool {
			rb = 1
		}
		return lb - rb
	case l.Phy.IsSigned():
		switch {
		case l.I64 < r.I64:
			return -1
		case l.I64 > r.I64:
			return 1
		}
		return 0
	case l.Phy.IsUnsigned():
		switch {
		case l.U64 < r.U64:
			return -1
		case l.U64 > r.U64:
			return 1
		}
		return 0
	case l.Phy.IsFloat():
		switch {
		case l.F64 < r.F64:
			return -1
		case l.F64 > r.F64:
			return 1
		}
		return 0
	case l.Phy == common.VARCHAR:
		return strings.Compare(l.Str, r.Str)
	case l.Phy == common.DECIMAL:
		return l.Dec.Cmp(r.Dec)
	default:
		panic("usp")
	}
}

func convertRt(phy common.PhyType, v RtValue) RtValue {
	if phy == v.Phy {
		return v
	}
	switch {
	case phy.IsSigned():
		return RtInt(phy, rtToI64(v))
	case phy.IsUnsigned():
		return RtUint(phy, uint64(rtToI64(v)))
	case phy.IsFloat():
		return RtFloat(phy, rtToF64(v))
	case phy == common.DECIMAL:
		switch {
		case v.Phy.IsSigned():
			d, err := dec.New(v.I64, 0)
			if err != nil {
				panic(err)
			}
			return RtDecimal(d)
		case v.Phy.IsUnsigned():
			d, err := dec.New(int64(v.U64), 0)
			if err != nil {
				panic(err)
			}
			return RtDecimal(d)
		case v.Phy.IsFloat():
			d, err := dec.NewFromFloat64(v.F64)
			if err != nil {
				panic(err)
			}
			return RtDecimal(d)
		default:
			panic("usp")
		}
	case phy == common.VARCHAR:
		return RtString(rtToString(v))
	default:
		panic("usp")
	}
}

func rtToI64(v RtValue) int64 {
	switch {
	case v.Phy == common.BOOL:
		if v.Bool {
			return 1
		}
		return 0
	case v.Phy.IsSigned():
		return v.I64
	case v.Phy.IsUnsigned():
		return int64(v.U64)
	case v.Phy.IsFloat():
		return int64(v.F64)
	case v.Phy == common.DECIMAL:
		i, _, ok := v.Dec.Int64(0)
		if !ok {
			// out-of-range narrowing leaves an unspecified value
			return 0
		}
		return i
	default:
		panic("usp")
	}
}

func rtToF64(v RtValue) float64 {
	switch {
	case v.Phy.IsSigned():
		return float64(v.I64)
	case v.Phy.IsUnsigned():
		return float64(v.U64)
	case v.Phy.IsFloat():
		return v.F64
	case v.Phy == common.DECIMAL:
		f, ok := v.Dec.Float64()
		if !ok {
			return 0
		}
		return f
	default:
		panic("usp")
	}
}

func rtToString(v RtValue) string {
	switch {
	case v.Phy == common.BOOL:
		return strconv.FormatBool(v.Bool)
	case v.Phy.IsSigned():
		return strconv.FormatInt(v.I64, 10)
	case v.Phy.IsUnsigned():
		return strconv.FormatUint(v.U64, 10)
	case v.Phy.IsFloat():
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case v.Phy == common.DECIMAL:
		return v.Dec.String()
	case v.Phy == common.VARCHAR:
		return v.Str
	default:
		panic("usp")
	}
}

func evalHash(v RtValue) uint64 {
	switch {
	case v.Phy == common.BOOL:
		if v.Bool {
			return util.Murmurhash32(1)
		}
		return util.Murmurhash32(0)
	case v.Phy.IsSigned():
		return util.Murmurhash64(uint64(v.I64))
	case v.Phy.IsUnsigned():
		return util.Murmurhash64(v.U64)
	case v.Phy.IsFloat():
		return util.Murmurhash64(math.Float64bits(v.F64))
	case v.Phy == common.VARCHAR:
		return util.HashString(v.Str)
	case v.Phy == common.DECIMAL:
		return util.HashString(v.Dec.String())
	default:
		panic("usp")
	}
}

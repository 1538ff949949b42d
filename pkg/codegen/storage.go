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
	"unsafe"

	dec "github.com/govalues/decimal"

	"github.com/queryforge/jitgen/pkg/common"
	"github.com/queryforge/jitgen/pkg/util"
)

// RowLayout is the compact fixed layout of one tuple: per column an
// optional null byte followed by the fixed slot of the physical type.
// Variable-length data lives in a side heap; the fixed slot holds a
// (heap offset, length) pair of uint32.
type RowLayout struct {
	_types   []Type
	_nullOff []int
	_dataOff []int
	_size    int
}

func NewRowLayout(types []Type) *RowLayout {
	l := &RowLayout{
		_types:   types,
		_nullOff: make([]int, len(types)),
		_dataOff: make([]int, len(types)),
	}
	off := 0
	for i, typ := range types {
		if typ.Nullable {
			l._nullOff[i] = off
			off++
		} else {
			l._nullOff[i] = -1
		}
		l._dataOff[i] = off
		off += typ.PTyp.Size()
	}
	l._size = off
	return l
}

func (l *RowLayout) Size() int {
	return l._size
}

func (l *RowLayout) Types() []Type {
	return l._types
}

// Row is one materialized tuple. The fixed part is addressed through
// the layout; heap bytes are append-only, updating a varlen cell
// abandons the old bytes until the row is rebuilt.
type Row struct {
	_layout *RowLayout
	_fixed  []byte
	_heap   []byte
}

func NewRow(layout *RowLayout) *Row {
	return &Row{
		_layout: layout,
		_fixed:  make([]byte, layout._size),
	}
}

func (r *Row) base() unsafe.Pointer {
	return util.BytesSliceToPointer(r._fixed)
}

// WriteCell stores one value into column i. A null write zeroes the
// data slot so rows with equal content are byte-comparable.
func (r *Row) WriteCell(i int, val RtValue, isNull bool) {
	typ := r._layout._types[i]
	util.AssertFunc(!isNull || typ.Nullable)
	if typ.Nullable {
		r._fixed[r._layout._nullOff[i]] = boolByte(isNull)
	}
	ptr := util.PointerAdd(r.base(), r._layout._dataOff[i])
	if isNull {
		util.Memset(ptr, 0, typ.PTyp.Size())
		return
	}
	switch typ.PTyp {
	case common.BOOL:
		util.Store[byte](boolByte(val.Bool), ptr)
	case common.INT8:
		util.Store[int8](int8(val.I64), ptr)
	case common.INT16:
		util.Store[int16](int16(val.I64), ptr)
	case common.INT32:
		util.Store[int32](int32(val.I64), ptr)
	case common.INT64:
		util.Store[int64](val.I64, ptr)
	case common.UINT8:
		util.Store[uint8](uint8(val.U64), ptr)
	case common.UINT16:
		util.Store[uint16](uint16(val.U64), ptr)
	case common.UINT32:
		util.Store[uint32](uint32(val.U64), ptr)
	case common.UINT64:
		util.Store[uint64](val.U64, ptr)
	case common.FLOAT:
		util.Store[float32](float32(val.F64), ptr)
	case common.DOUBLE:
		util.Store[float64](val.F64, ptr)
	case common.VARCHAR:
		off := uint32(len(r._heap))
		r._heap = append(r._heap, val.Str...)
		util.Store[uint32](off, ptr)
		util.Store2[uint32](uint32(len(val.Str)), ptr, 4)
	case common.DECIMAL:
		whole, frac, ok := val.Dec.Int64(typ.Scale)
		util.AssertFunc(ok)
		util.Store[int64](whole, ptr)
		util.Store2[int64](frac, ptr, 8)
	default:
		panic("usp")
	}
}

// ReadCell loads column i back. The second result reports NULL.
func (r *Row) ReadCell(i int) (RtValue, bool) {
	typ := r._layout._types[i]
	if typ.Nullable && r._fixed[r._layout._nullOff[i]] != 0 {
		return zeroRt(typ), true
	}
	ptr := util.PointerAdd(r.base(), r._layout._dataOff[i])
	switch typ.PTyp {
	case common.BOOL:
		return RtBool(util.Load[byte](ptr) != 0), false
	case common.INT8:
		return RtInt(typ.PTyp, int64(util.Load[int8](ptr))), false
	case common.INT16:
		return RtInt(typ.PTyp, int64(util.Load[int16](ptr))), false
	case common.INT32:
		return RtInt(typ.PTyp, int64(util.Load[int32](ptr))), false
	case common.INT64:
		return RtInt(typ.PTyp, util.Load[int64](ptr)), false
	case common.UINT8:
		return RtUint(typ.PTyp, uint64(util.Load[uint8](ptr))), false
	case common.UINT16:
		return RtUint(typ.PTyp, uint64(util.Load[uint16](ptr))), false
	case common.UINT32:
		return RtUint(typ.PTyp, uint64(util.Load[uint32](ptr))), false
	case common.UINT64:
		return RtUint(typ.PTyp, util.Load[uint64](ptr)), false
	case common.FLOAT:
		return RtFloat(typ.PTyp, float64(util.Load[float32](ptr))), false
	case common.DOUBLE:
		return RtFloat(typ.PTyp, util.Load[float64](ptr)), false
	case common.VARCHAR:
		off := util.Load[uint32](ptr)
		cnt := util.Load2[uint32](ptr, 4)
		if cnt == 0 {
			return RtString(""), false
		}
		bytes := util.PointerToSlice[byte](
			util.PointerAdd(util.BytesSliceToPointer(r._heap), int(off)),
			int(cnt))
		return RtString(string(bytes)), false
	case common.DECIMAL:
		whole := util.Load[int64](ptr)
		frac := util.Load2[int64](ptr, 8)
		w, err := dec.New(whole, 0)
		util.AssertFunc(err == nil)
		f, err := dec.New(frac, typ.Scale)
		util.AssertFunc(err == nil)
		d, err := w.Add(f)
		util.AssertFunc(err == nil)
		return RtDecimal(d), false
	default:
		panic("usp")
	}
}

// UpdateCell overwrites column i in place. Fixed-width slots are
// rewritten; varlen slots append to the heap and repoint.
func (r *Row) UpdateCell(i int, val RtValue, isNull bool) {
	r.WriteCell(i, val, isNull)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func zeroRt(typ Type) RtValue {
	switch {
	case typ.PTyp == common.BOOL:
		return RtBool(false)
	case typ.PTyp.IsSigned():
		return RtInt(typ.PTyp, 0)
	case typ.PTyp.IsUnsigned():
		return RtUint(typ.PTyp, 0)
	case typ.PTyp.IsFloat():
		return RtFloat(typ.PTyp, 0)
	case typ.PTyp == common.VARCHAR:
		return RtString("")
	case typ.PTyp == common.DECIMAL:
		return RtDecimal(decZero)
	default:
		panic("usp")
	}
}

// MaterializeRegs flattens a tuple of Values into the register order
// the layout expects back: per column data, then length for varlen,
// then null for nullable.
func MaterializeRegs(cg *CodeGen, vals []Value) []Reg {
	regs := make([]Reg, 0, 3*len(vals))
	for _, val := range vals {
		data, length, null := val.ValuesForMaterialization()
		regs = append(regs, data)
		if val.GetType().IsVariableLength() {
			regs = append(regs, length)
		}
		if val.GetType().Nullable {
			regs = append(regs, null)
		}
	}
	return regs
}

// Materialize terminates the current block returning the flattened
// registers of the tuple.
func Materialize(cg *CodeGen, vals []Value) {
	cg.Ret(MaterializeRegs(cg, vals)...)
}

// Reconstruct declares positional parameters for a tuple of the given
// types and rebuilds the Values, mirroring MaterializeRegs exactly.
// Feeding one function's returned slots into another function's
// parameters is the storage round-trip.
func Reconstruct(cg *CodeGen, types []Type) []Value {
	vals := make([]Value, 0, len(types))
	for _, typ := range types {
		data := cg.Param(typ.PTyp)
		length := InvalidReg
		if typ.IsVariableLength() {
			length = cg.Param(common.UINT64)
		}
		null := InvalidReg
		if typ.Nullable {
			null = cg.Param(common.BOOL)
		}
		vals = append(vals, ValueFromMaterialization(typ, data, length, null))
	}
	return vals
}

// StoreResults interprets the flattened return slots of a generated
// function against the layout and writes them into a fresh Row.
func StoreResults(layout *RowLayout, rets []RtValue) *Row {
	row := NewRow(layout)
	pos := 0
	for i, typ := range layout._types {
		val := rets[pos]
		pos++
		var length RtValue
		if typ.IsVariableLength() {
			length = rets[pos]
			pos++
			util.AssertFunc(length.U64 == uint64(len(val.Str)))
		}
		isNull := false
		if typ.Nullable {
			isNull = rets[pos].Bool
			pos++
		}
		row.WriteCell(i, val, isNull)
	}
	util.AssertFunc(pos == len(rets))
	return row
}

// LoadArgs reads a Row back into the flattened argument order
// Reconstruct's parameters bind to.
func LoadArgs(row *Row) []RtValue {
	args := make([]RtValue, 0, 3*len(row._layout._types))
	for i, typ := range row._layout._types {
		val, isNull := row.ReadCell(i)
		args = append(args, val)
		if typ.IsVariableLength() {
			args = append(args, RtUint(common.UINT64, uint64(len(val.Str))))
		}
		if typ.Nullable {
			args = append(args, RtBool(isNull))
		}
	}
	return args
}

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

	"github.com/liyue201/gostl/ds/stack"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/queryforge/jitgen/pkg/common"
	"github.com/queryforge/jitgen/pkg/util"
)

// Reg is a symbolic register. It names a to-be-computed runtime value
// inside one generated function body.
type Reg int32

const InvalidReg Reg = -1

func (r Reg) Valid() bool {
	return r >= 0
}

type OpCode int

const (
	OP_INVALID OpCode = iota
	OP_ADD
	OP_SUB
	OP_MUL
	OP_DIV
	OP_MOD
	OP_ADD_OVF
	OP_SUB_OVF
	OP_MUL_OVF
	OP_CMP_EQ
	OP_CMP_NE
	OP_CMP_LT
	OP_CMP_LE
	OP_CMP_GT
	OP_CMP_GE
	OP_AND
	OP_OR
	OP_NOT
	OP_XOR
	OP_SELECT
	OP_PHI
	OP_CAST
	OP_STRLEN
	OP_HASH
	OP_RAISE_IF
)

var opCodeToStr = map[OpCode]string{
	OP_ADD:      "add",
	OP_SUB:      "sub",
	OP_MUL:      "mul",
	OP_DIV:      "div",
	OP_MOD:      "mod",
	OP_ADD_OVF:  "add.ovf",
	OP_SUB_OVF:  "sub.ovf",
	OP_MUL_OVF:  "mul.ovf",
	OP_CMP_EQ:   "cmp.eq",
	OP_CMP_NE:   "cmp.ne",
	OP_CMP_LT:   "cmp.lt",
	OP_CMP_LE:   "cmp.le",
	OP_CMP_GT:   "cmp.gt",
	OP_CMP_GE:   "cmp.ge",
	OP_AND:      "and",
	OP_OR:       "or",
	OP_NOT:      "not",
	OP_XOR:      "xor",
	OP_SELECT:   "select",
	OP_PHI:      "phi",
	OP_CAST:     "cast",
	OP_STRLEN:   "strlen",
	OP_HASH:     "hash",
	OP_RAISE_IF: "raise.if",
}

func (op OpCode) String() string {
	if s, has := opCodeToStr[op]; has {
		return s
	}
	panic(fmt.Sprintf("usp %d", int(op)))
}

// ErrCode tags runtime faults raised by generated code so the executor
// can distinguish them from ordinary engine errors.
type ErrCode int

const (
	ERR_NONE ErrCode = iota
	ERR_OVERFLOW
	ERR_DIV_BY_ZERO
	ERR_MOD_BY_ZERO
)

type RuntimeError struct {
	Code ErrCode
	Msg  string
}

func (e *RuntimeError) Error() string {
	return e.Msg
}

type regKind int

const (
	REG_CONST regKind = iota
	REG_PARAM
	REG_INSTR
)

type regInfo struct {
	_phy   common.PhyType
	_kind  regKind
	_const RtValue
	_param int
}

type BlockId int

const InvalidBlockId BlockId = -1

type Instr struct {
	_op      OpCode
	_res     Reg
	_phy     common.PhyType
	_args    []Reg
	_preds   []BlockId
	_errCode ErrCode
	_errMsg  string
}

type termKind int

const (
	TERM_NONE termKind = iota
	TERM_BR
	TERM_COND_BR
	TERM_RET
)

type terminator struct {
	_kind termKind
	_cond Reg
	_to   BlockId
	_else BlockId
	_rets []Reg
}

type Block struct {
	_id     BlockId
	_name   string
	_instrs []*Instr
	_term   terminator
}

func (b *Block) Id() BlockId {
	return b._id
}

func (b *Block) Name() string {
	return b._name
}

// CodeGen builds one generated function body. It is exclusively owned
// by the compiling goroutine for the duration of the build; run
// independent compilations on independent CodeGen instances.
type CodeGen struct {
	_name    string
	_regs    []regInfo
	_nparams int
	_blocks  []*Block
	_cur     *Block
	_ips     *stack.Stack[*Block]
	_sealed  bool
}

func NewCodeGen(name string) *CodeGen {
	cg := &CodeGen{
		_name: name,
		_ips:  stack.New[*Block](),
	}
	entry := cg.NewBlock("entry")
	cg._cur = entry
	return cg
}

func (cg *CodeGen) Name() string {
	return cg._name
}

func (cg *CodeGen) NewBlock(name string) *Block {
	b := &Block{
		_id:   BlockId(len(cg._blocks)),
		_name: name,
	}
	cg._blocks = append(cg._blocks, b)
	return b
}

func (cg *CodeGen) CurrentBlock() *Block {
	return cg._cur
}

func (cg *CodeGen) SetInsertPoint(b *Block) {
	util.AssertFunc(b != nil)
	cg._cur = b
}

func (cg *CodeGen) PushInsertPoint(b *Block) {
	cg._ips.Push(cg._cur)
	cg.SetInsertPoint(b)
}

func (cg *CodeGen) PopInsertPoint() {
	util.AssertFunc(cg._ips.Size() > 0)
	cg._cur = cg._ips.Pop()
}

func (cg *CodeGen) newReg(phy common.PhyType, kind regKind) Reg {
	r := Reg(len(cg._regs))
	cg._regs = append(cg._regs, regInfo{_phy: phy, _kind: kind, _param: -1})
	return r
}

func (cg *CodeGen) RegType(r Reg) common.PhyType {
	util.AssertFunc(r.Valid() && int(r) < len(cg._regs))
	return cg._regs[r]._phy
}

// Param declares the next positional parameter of the generated
// function. Arguments bind in declaration order at run time.
func (cg *CodeGen) Param(phy common.PhyType) Reg {
	r := cg.newReg(phy, REG_PARAM)
	cg._regs[r]._param = cg._nparams
	cg._nparams++
	return r
}

func (cg *CodeGen) newConst(val RtValue) Reg {
	r := cg.newReg(val.Phy, REG_CONST)
	cg._regs[r]._const = val
	return r
}

func (cg *CodeGen) ConstBool(b bool) Reg {
	return cg.newConst(RtBool(b))
}

func (cg *CodeGen) ConstInt(phy common.PhyType, v int64) Reg {
	util.AssertFunc(phy.IsSigned())
	return cg.newConst(RtInt(phy, v))
}

func (cg *CodeGen) ConstUint(phy common.PhyType, v uint64) Reg {
	util.AssertFunc(phy.IsUnsigned())
	return cg.newConst(RtUint(phy, v))
}

func (cg *CodeGen) ConstFloat(phy common.PhyType, v float64) Reg {
	util.AssertFunc(phy.IsFloat())
	return cg.newConst(RtFloat(phy, v))
}

func (cg *CodeGen) ConstString(s string) Reg {
	return cg.newConst(RtString(s))
}

func (cg *CodeGen) ConstDecimal(d Decimal) Reg {
	return cg.newConst(RtDecimal(d))
}

func (cg *CodeGen) emit(instr *Instr) Reg {
	util.AssertFunc(!cg._sealed)
	util.AssertFunc(cg._cur._term._kind == TERM_NONE)
	if instr._op != OP_RAISE_IF {
		instr._res = cg.newReg(instr._phy, REG_INSTR)
	} else {
		instr._res = InvalidReg
	}
	cg._cur._instrs = append(cg._cur._instrs, instr)
	return instr._res
}

func (cg *CodeGen) Binary(op OpCode, phy common.PhyType, left, right Reg) Reg {
	util.AssertFunc(left.Valid() && right.Valid())
	return cg.emit(&Instr{_op: op, _phy: phy, _args: []Reg{left, right}})
}

func (cg *CodeGen) Cmp(op OpCode, left, right Reg) Reg {
	util.AssertFunc(cg.RegType(left) == cg.RegType(right))
	return cg.emit(&Instr{_op: op, _phy: common.BOOL, _args: []Reg{left, right}})
}

func (cg *CodeGen) And(left, right Reg) Reg {
	return cg.Binary(OP_AND, common.BOOL, left, right)
}

func (cg *CodeGen) Or(left, right Reg) Reg {
	return cg.Binary(OP_OR, common.BOOL, left, right)
}

func (cg *CodeGen) Not(val Reg) Reg {
	return cg.emit(&Instr{_op: OP_NOT, _phy: common.BOOL, _args: []Reg{val}})
}

func (cg *CodeGen) Select(cond, then, els Reg) Reg {
	util.AssertFunc(cg.RegType(then) == cg.RegType(els))
	return cg.emit(&Instr{
		_op:   OP_SELECT,
		_phy:  cg.RegType(then),
		_args: []Reg{cond, then, els},
	})
}

func (cg *CodeGen) Cast(phy common.PhyType, val Reg) Reg {
	return cg.emit(&Instr{_op: OP_CAST, _phy: phy, _args: []Reg{val}})
}

func (cg *CodeGen) StrLen(val Reg) Reg {
	util.AssertFunc(cg.RegType(val) == common.VARCHAR)
	return cg.emit(&Instr{_op: OP_STRLEN, _phy: common.UINT64, _args: []Reg{val}})
}

func (cg *CodeGen) HashReg(val Reg) Reg {
	return cg.emit(&Instr{_op: OP_HASH, _phy: common.UINT64, _args: []Reg{val}})
}

func (cg *CodeGen) RaiseIf(cond Reg, code ErrCode, msg string) {
	util.AssertFunc(cg.RegType(cond) == common.BOOL)
	cg.emit(&Instr{
		_op:      OP_RAISE_IF,
		_args:    []Reg{cond},
		_errCode: code,
		_errMsg:  msg,
	})
}

// Phi selects among per-predecessor registers based on which block
// transferred control here. Must be the join block's decision point.
func (cg *CodeGen) Phi(phy common.PhyType, args []util.Pair[Reg, *Block]) Reg {
	util.AssertFunc(!util.Empty(args))
	instr := &Instr{_op: OP_PHI, _phy: phy}
	for _, arg := range args {
		util.AssertFunc(arg.First.Valid() && arg.Second != nil)
		instr._args = append(instr._args, arg.First)
		instr._preds = append(instr._preds, arg.Second._id)
	}
	return cg.emit(instr)
}

func (cg *CodeGen) terminate(t terminator) {
	util.AssertFunc(!cg._sealed)
	util.AssertFunc(cg._cur._term._kind == TERM_NONE)
	cg._cur._term = t
}

func (cg *CodeGen) Br(to *Block) {
	cg.terminate(terminator{_kind: TERM_BR, _to: to._id})
}

func (cg *CodeGen) CondBr(cond Reg, then, els *Block) {
	util.AssertFunc(cg.RegType(cond) == common.BOOL)
	cg.terminate(terminator{
		_kind: TERM_COND_BR,
		_cond: cond,
		_to:   then._id,
		_else: els._id,
	})
}

func (cg *CodeGen) Ret(vals ...Reg) {
	for _, v := range vals {
		util.AssertFunc(v.Valid())
	}
	cg.terminate(terminator{_kind: TERM_RET, _rets: vals})
}

// Finish seals the function. Every block reachable from entry must be
// terminated.
func (cg *CodeGen) Finish() {
	util.AssertFunc(!cg._sealed)
	util.AssertFunc(!util.Empty(cg._blocks))
	for _, b := range cg._blocks {
		if b._term._kind == TERM_NONE && !util.Empty(b._instrs) {
			panic(fmt.Sprintf("block %s not terminated", b._name))
		}
	}
	cg._sealed = true
	util.Debug("codegen finish",
		zap.String("fn", cg._name),
		zap.Int("blocks", len(cg._blocks)),
		zap.Int("regs", len(cg._regs)))
}

func (cg *CodeGen) regName(r Reg) string {
	if !r.Valid() {
		return "_"
	}
	info := cg._regs[r]
	switch info._kind {
	case REG_CONST:
		return fmt.Sprintf("c%d(%s)", int(r), info._const.String())
	case REG_PARAM:
		return fmt.Sprintf("p%d", info._param)
	default:
		return fmt.Sprintf("v%d", int(r))
	}
}

func (cg *CodeGen) Print(tree treeprint.Tree) {
	fn := tree.AddBranch(fmt.Sprintf("fn %s (params %d)", cg._name, cg._nparams))
	for _, b := range cg._blocks {
		br := fn.AddBranch(fmt.Sprintf("%s:", b._name))
		for _, ins := range b._instrs {
			line := ""
			if ins._res.Valid() {
				line = fmt.Sprintf("%s = %v %v", cg.regName(ins._res), ins._op, ins._phy)
			} else {
				line = fmt.Sprintf("%v", ins._op)
			}
			for i, arg := range ins._args {
				line += " " + cg.regName(arg)
				if ins._op == OP_PHI {
					line += fmt.Sprintf("@%s", cg._blocks[ins._preds[i]]._name)
				}
			}
			if ins._op == OP_RAISE_IF {
				line += fmt.Sprintf(" err=%d %q", ins._errCode, ins._errMsg)
			}
			br.AddNode(line)
		}
		switch b._term._kind {
		case TERM_BR:
			br.AddNode(fmt.Sprintf("br %s", cg._blocks[b._term._to]._name))
		case TERM_COND_BR:
			br.AddNode(fmt.Sprintf("condbr %s %s %s",
				cg.regName(b._term._cond),
				cg._blocks[b._term._to]._name,
				cg._blocks[b._term._else]._name))
		case TERM_RET:
			line := "ret"
			for _, r := range b._term._rets {
				line += " " + cg.regName(r)
			}
			br.AddNode(line)
		}
	}
}

func (cg *CodeGen) String() string {
	tree := treeprint.New()
	cg.Print(tree)
	return tree.String()
}

// Compile runs a compilation closure and converts compile-time
// failures (unsupported operator or cast, mismatched PHI inputs) into
// errors, so no partially built function escapes.
func Compile[T any](build func() T) (res T, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = util.ConvertPanicError(v)
		}
	}()
	res = build()
	return res, err
}

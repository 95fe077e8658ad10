// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tape flattens expression trees into operator tapes and runs them on a scratch stack.
//
// A tape is the post-order listing of an expression: leaves push a frame,
// operators pop their operands and push the result. Running a tape of a well formed
// expression therefore leaves exactly one frame holding the value, gradient and Hessian
// of the whole expression. The tape is built once and never changes afterward.
package tape

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/curioloop/madopt/adstack"
	"github.com/curioloop/madopt/expr"
)

// ErrCorrupt reports an instruction sequence whose operand counts do not balance.
var ErrCorrupt = errors.New("tape corruption")

// OpCode identifies a primitive operation.
type OpCode uint8

const (
	// OpVar pushes variable 𝐱[N].
	OpVar OpCode = iota
	// OpConst pushes the constant V.
	OpConst
	// OpParam pushes the current value of parameter slot N.
	OpParam
	// OpAdd pops N frames and pushes their sum.
	OpAdd
	// OpMul pops two frames and pushes their product.
	OpMul
	// OpSin replaces the top frame 𝒖 by sin(𝒖).
	OpSin
	// OpCos replaces the top frame 𝒖 by cos(𝒖).
	OpCos
	// OpTan replaces the top frame 𝒖 by tan(𝒖).
	OpTan
	// OpPow replaces the top frame 𝒖 by 𝒖ⱽ.
	OpPow
)

var opNames = [...]string{"VAR", "CONST", "PARAM", "ADD", "MUL", "SIN", "COS", "TAN", "POW"}

func (op OpCode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("OP(%d)", op)
}

// Instr is one tape instruction.
// N holds the variable index, parameter slot or operand count; V holds the constant or exponent.
type Instr struct {
	Op OpCode
	N  int
	V  float64
}

// Tape is an immutable sequence of instructions.
type Tape struct {
	code   []Instr
	params []*expr.Param
	depth  int
}

// Compile lowers an expression tree into a tape with a single post-order traversal.
func Compile(n expr.Node) *Tape {
	b := builder{slots: make(map[*expr.Param]int)}
	b.lower(n)
	t, err := New(b.code, b.params)
	if err != nil {
		// the builder only emits balanced sequences
		panic(err)
	}
	return t
}

// New validates a raw instruction sequence and wraps it into a tape.
// Parameter slots used by OpParam index into params.
func New(code []Instr, params []*expr.Param) (*Tape, error) {
	depth, err := check(code, len(params))
	if err != nil {
		return nil, err
	}
	return &Tape{
		code:   append([]Instr(nil), code...),
		params: append([]*expr.Param(nil), params...),
		depth:  depth,
	}, nil
}

func check(code []Instr, nparams int) (peak int, err error) {
	if len(code) == 0 {
		return 0, fmt.Errorf("%w: empty tape", ErrCorrupt)
	}
	need := func(pc, n int, d int) error {
		if d < n {
			return fmt.Errorf("%w: %v at %d needs %d operands, %d stacked", ErrCorrupt, code[pc].Op, pc, n, d)
		}
		return nil
	}
	d := 0
	for pc, in := range code {
		switch in.Op {
		case OpVar:
			if in.N < 0 {
				return 0, fmt.Errorf("%w: negative variable index at %d", ErrCorrupt, pc)
			}
			d++
		case OpConst:
			d++
		case OpParam:
			if in.N < 0 || in.N >= nparams {
				return 0, fmt.Errorf("%w: parameter slot %d out of range at %d", ErrCorrupt, in.N, pc)
			}
			d++
		case OpAdd:
			if in.N < 1 {
				return 0, fmt.Errorf("%w: ADD of %d operands at %d", ErrCorrupt, in.N, pc)
			}
			if err = need(pc, in.N, d); err != nil {
				return
			}
			d -= in.N - 1
		case OpMul:
			if err = need(pc, 2, d); err != nil {
				return
			}
			d--
		case OpSin, OpCos, OpTan, OpPow:
			if err = need(pc, 1, d); err != nil {
				return
			}
		default:
			return 0, fmt.Errorf("%w: unknown opcode %d at %d", ErrCorrupt, in.Op, pc)
		}
		peak = max(peak, d)
	}
	if d != 1 {
		return 0, fmt.Errorf("%w: %d frames left after execution", ErrCorrupt, d)
	}
	return
}

// Len returns the number of instructions.
func (t *Tape) Len() int {
	return len(t.code)
}

// Depth returns the peak number of frames the tape stacks.
func (t *Tape) Depth() int {
	return t.depth
}

// Code returns a copy of the instructions.
func (t *Tape) Code() []Instr {
	return append([]Instr(nil), t.code...)
}

// Params returns the parameters referenced by OpParam slots.
func (t *Tape) Params() []*expr.Param {
	return t.params[:len(t.params):len(t.params)]
}

// Exec runs the tape on s, pushing exactly one frame on top of whatever s holds.
// Variables are read from the x bound to s.
func (t *Tape) Exec(s *adstack.Stack) {
	base := s.Size()
	for _, in := range t.code {
		switch in.Op {
		case OpVar:
			s.PushVar(in.N)
		case OpConst:
			s.PushConst(in.V)
		case OpParam:
			s.PushConst(t.params[in.N].Value())
		case OpAdd:
			s.Add(in.N)
		case OpMul:
			s.Mul()
		case OpSin:
			u := s.Top()
			sin, cos := math.Sincos(u)
			s.Apply(sin, cos, -sin)
		case OpCos:
			u := s.Top()
			sin, cos := math.Sincos(u)
			s.Apply(cos, -sin, -cos)
		case OpTan:
			u := s.Top()
			tan := math.Tan(u)
			sec2 := 1 + tan*tan
			s.Apply(tan, sec2, 2*tan*sec2)
		case OpPow:
			u, p := s.Top(), in.V
			s.Apply(math.Pow(u, p), p*math.Pow(u, p-1), p*(p-1)*math.Pow(u, p-2))
		default:
			panic("tape: tape corruption, unknown opcode " + in.Op.String())
		}
	}
	if s.Size() != base+1 {
		panic("tape: tape corruption, execution did not produce exactly one frame")
	}
}

func (t *Tape) String() string {
	var sb strings.Builder
	for pc, in := range t.code {
		if pc > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(in.Op.String())
		switch in.Op {
		case OpVar, OpParam, OpAdd:
			fmt.Fprintf(&sb, "(%d)", in.N)
		case OpConst, OpPow:
			fmt.Fprintf(&sb, "(%v)", in.V)
		}
	}
	return sb.String()
}

type builder struct {
	code   []Instr
	params []*expr.Param
	slots  map[*expr.Param]int
}

func (b *builder) emit(op OpCode, n int, v float64) {
	b.code = append(b.code, Instr{Op: op, N: n, V: v})
}

func (b *builder) lower(n expr.Node) {
	switch n := n.(type) {
	case *expr.Var:
		b.emit(OpVar, n.Index, 0)
	case *expr.Const:
		b.emit(OpConst, 0, n.Value)
	case *expr.Param:
		slot, ok := b.slots[n]
		if !ok {
			slot = len(b.params)
			b.slots[n] = slot
			b.params = append(b.params, n)
		}
		b.emit(OpParam, slot, 0)
	case *expr.Sum:
		if len(n.Terms) == 0 {
			b.emit(OpConst, 0, 0)
			return
		}
		for _, t := range n.Terms {
			b.lower(t)
		}
		b.emit(OpAdd, len(n.Terms), 0)
	case *expr.Product:
		b.lower(n.L)
		b.lower(n.R)
		b.emit(OpMul, 0, 0)
	case *expr.Unary:
		b.lower(n.Arg)
		switch n.Func {
		case expr.SinFunc:
			b.emit(OpSin, 0, 0)
		case expr.CosFunc:
			b.emit(OpCos, 0, 0)
		case expr.TanFunc:
			b.emit(OpTan, 0, 0)
		default:
			panic("tape: unsupported function " + n.Func.String())
		}
	case *expr.Power:
		b.lower(n.Base)
		b.emit(OpPow, 0, n.Exp)
	case nil:
		panic("tape: nil expression node")
	default:
		panic(fmt.Sprintf("tape: unsupported expression node %T", n))
	}
}

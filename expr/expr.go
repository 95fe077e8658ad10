// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package expr provides the minimal expression tree lowered into operator tapes.
//
// The node set is closed: variables, constants, parameters, n-ary sums,
// binary products, sin, cos, tan and real powers. Constructors perform no
// simplification beyond flattening nested sums.
package expr

import (
	"fmt"
	"strings"
)

// Node is an expression tree node.
type Node interface {
	fmt.Stringer
	node()
}

// Var refers to decision variable 𝐱[Index].
type Var struct {
	Index int
}

// Const is a fixed real number.
type Const struct {
	Value float64
}

// Param is a named value that may change between evaluations without
// changing the structure of any expression using it.
type Param struct {
	Name  string
	value float64
}

// Sum is the n-ary sum of its terms.
type Sum struct {
	Terms []Node
}

// Product is the binary product L·R.
type Product struct {
	L, R Node
}

// Func identifies a unary elementary function.
type Func int

const (
	SinFunc Func = iota
	CosFunc
	TanFunc
)

func (f Func) String() string {
	switch f {
	case SinFunc:
		return "sin"
	case CosFunc:
		return "cos"
	case TanFunc:
		return "tan"
	}
	return fmt.Sprintf("func(%d)", int(f))
}

// Unary applies an elementary function to its argument.
type Unary struct {
	Func Func
	Arg  Node
}

// Power is Base raised to a fixed real exponent.
type Power struct {
	Base Node
	Exp  float64
}

func (*Var) node()     {}
func (*Const) node()   {}
func (*Param) node()   {}
func (*Sum) node()     {}
func (*Product) node() {}
func (*Unary) node()   {}
func (*Power) node()   {}

// X returns the node of variable 𝐱ᵢ.
func X(i int) *Var {
	if i < 0 {
		panic("expr: negative variable index")
	}
	return &Var{Index: i}
}

// C returns a constant node.
func C(v float64) *Const {
	return &Const{Value: v}
}

// NewParam returns a parameter holding v.
func NewParam(name string, v float64) *Param {
	return &Param{Name: name, value: v}
}

// Value returns the current value of the parameter.
func (p *Param) Value() float64 {
	return p.value
}

// SetValue changes the value seen by every later evaluation.
func (p *Param) SetValue(v float64) {
	p.value = v
}

// Add returns the sum of the given terms. Nested sums are flattened.
func Add(terms ...Node) Node {
	if len(terms) == 0 {
		return C(0)
	}
	if len(terms) == 1 {
		return terms[0]
	}
	flat := make([]Node, 0, len(terms))
	for _, t := range terms {
		if s, ok := t.(*Sum); ok {
			flat = append(flat, s.Terms...)
		} else {
			flat = append(flat, t)
		}
	}
	return &Sum{Terms: flat}
}

// Sub returns a − b.
func Sub(a, b Node) Node {
	return Add(a, Neg(b))
}

// Neg returns −a.
func Neg(a Node) Node {
	return Mul(C(-1), a)
}

// Mul returns the left-folded product of the given factors.
func Mul(factors ...Node) Node {
	if len(factors) == 0 {
		return C(1)
	}
	p := factors[0]
	for _, f := range factors[1:] {
		p = &Product{L: p, R: f}
	}
	return p
}

// Sin returns sin(a).
func Sin(a Node) Node {
	return &Unary{Func: SinFunc, Arg: a}
}

// Cos returns cos(a).
func Cos(a Node) Node {
	return &Unary{Func: CosFunc, Arg: a}
}

// Tan returns tan(a).
func Tan(a Node) Node {
	return &Unary{Func: TanFunc, Arg: a}
}

// Pow returns aᵖ.
func Pow(a Node, p float64) Node {
	return &Power{Base: a, Exp: p}
}

func (v *Var) String() string   { return fmt.Sprintf("x%d", v.Index) }
func (c *Const) String() string { return fmt.Sprint(c.Value) }

func (p *Param) String() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("param(%v)", p.value)
}

func (s *Sum) String() string {
	parts := make([]string, len(s.Terms))
	for i, t := range s.Terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, " + ") + ")"
}

func (p *Product) String() string { return p.L.String() + "*" + p.R.String() }
func (u *Unary) String() string   { return u.Func.String() + "(" + u.Arg.String() + ")" }
func (p *Power) String() string   { return fmt.Sprintf("pow(%s, %v)", p.Base, p.Exp) }

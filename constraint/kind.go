// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package constraint

import "fmt"

// Kind enumerates the evaluator variants.
type Kind int

const (
	// KindExpr is a generic expression executed from an operator tape.
	KindExpr Kind = iota
	// KindLinear is an affine form ∑aᵢ𝐱ᵢ + b.
	KindLinear
	// KindQuadCos is the hand-coded form (𝐱ᵢ₊₁² + 1.5𝐱ᵢ₊₁ - a)·cos(𝐱ᵢ₊₂) - 𝐱ᵢ.
	KindQuadCos
	// KindSquaredSum is the hand-coded form ∑(𝐱ₖ - c)² over a contiguous index range.
	KindSquaredSum
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindExpr:
		return "expr"
	case KindLinear:
		return "linear"
	case KindQuadCos:
		return "quadcos"
	case KindSquaredSum:
		return "squaredsum"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Capability is a set of operations an evaluator variant implements.
type Capability uint8

const (
	// CapJacobian provides gradient entries and values.
	CapJacobian Capability = 1 << iota
	// CapHessian provides Hessian entries and values.
	CapHessian
)

var capabilities = [numKinds]Capability{
	KindExpr:       CapJacobian | CapHessian,
	KindLinear:     CapJacobian,
	KindQuadCos:    CapJacobian | CapHessian,
	KindSquaredSum: CapJacobian | CapHessian,
}

// Has reports whether every capability in c is implemented by the variant.
func (k Kind) Has(c Capability) bool {
	if k < 0 || k >= numKinds {
		return false
	}
	return capabilities[k]&c == c
}

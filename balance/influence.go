package balance

import (
	"github.com/CK6170/Rotorbalance-go/matrix"
)

// EstimateInfluence derives the M×2 influence coefficient matrix
//
//	H[:,0] = (R1 - R0) / U1
//	H[:,1] = (R2 - R0) / U2
func EstimateInfluence(r0, r1, r2 *matrix.Vector, u1, u2 complex128) (*matrix.Matrix, error) {
	if r0 == nil || r1 == nil || r2 == nil {
		return nil, degenerate("missing measurement run")
	}
	if r0.Length == 0 {
		return nil, degenerate("runs have no sensors")
	}
	if r0.Length != r1.Length || r0.Length != r2.Length {
		return nil, degenerate("runs have different sensor counts (%d, %d, %d)", r0.Length, r1.Length, r2.Length)
	}
	if u1 == 0 {
		return nil, degenerate("trial unbalance on plane 1 is zero")
	}
	if u2 == 0 {
		return nil, degenerate("trial unbalance on plane 2 is zero")
	}

	h := matrix.NewMatrix(r0.Length, 2)
	h.SetColumn(0, r1.Sub(r0).Div(u1))
	h.SetColumn(1, r2.Sub(r0).Div(u2))
	return h, nil
}

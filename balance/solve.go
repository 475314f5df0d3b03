package balance

import (
	"math/cmplx"

	"github.com/CK6170/Rotorbalance-go/matrix"
)

// noEffect is the coefficient magnitude below which a trial run is treated
// as having changed nothing.
const noEffect = 1e-15

// Solution is the least-squares correction and its diagnostics.
type Solution struct {
	Correction      *matrix.Vector // bc, kg·m, one per plane
	Residual        *matrix.Vector // R0 + H·bc
	ResidualNorm    float64
	Rank            int
	Underdetermined bool // single sensor: bc is unconstrained along one direction
}

// Solve finds bc minimizing ||H·bc + R0||₂. With one sensor the system is
// underdetermined and the minimum-norm answer is returned without error.
func Solve(h *matrix.Matrix, r0 *matrix.Vector) (*Solution, error) {
	if h == nil || r0 == nil {
		return nil, degenerate("missing influence matrix or baseline")
	}
	if h.Cols != 2 {
		return nil, degenerate("influence matrix must have 2 columns, got %d", h.Cols)
	}
	if h.Rows == 0 {
		return nil, degenerate("influence matrix has no sensor rows")
	}
	if h.Rows != r0.Length {
		return nil, degenerate("influence matrix has %d rows but baseline has %d sensors", h.Rows, r0.Length)
	}
	if !h.IsFinite() || !r0.IsFinite() {
		return nil, singular("influence matrix or baseline contains NaN/Inf")
	}
	for j := 0; j < 2; j++ {
		if columnIsFlat(h, j) {
			return nil, singular("trial run on plane %d had no measurable effect; check R%d data", j+1, j+1)
		}
	}

	lsq, err := matrix.LeastSquares(h, r0.Scale(-1), 0)
	if err != nil {
		return nil, singular("%v", err)
	}
	if lsq.Deficient() {
		return nil, singular("influence matrix is rank deficient (rank %d of %d); the planes cannot be told apart", lsq.Rank, lsq.MaxRank)
	}
	if !lsq.X.IsFinite() {
		return nil, singular("solution is not finite")
	}

	residual := r0.Add(h.MulVector(lsq.X))
	out := &Solution{
		Correction:      lsq.X,
		Residual:        residual,
		ResidualNorm:    residual.Norm(),
		Rank:            lsq.Rank,
		Underdetermined: h.Rows < h.Cols,
	}
	if !residual.IsFinite() {
		return nil, singular("residual is not finite")
	}
	return out, nil
}

func columnIsFlat(h *matrix.Matrix, j int) bool {
	for i := 0; i < h.Rows; i++ {
		if cmplx.Abs(h.Values[i][j]) >= noEffect {
			return false
		}
	}
	return true
}

package matrix

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrFactorize is returned when the SVD does not converge.
var ErrFactorize = errors.New("SVD failed to converge")

// LSQ is the outcome of a complex least-squares solve.
type LSQ struct {
	X        *Vector   // minimum-norm solution
	Residual *Vector   // A*X - b
	Rank     int       // effective rank of the stacked real system
	MaxRank  int       // min(rows, cols) of the stacked real system
	Singular []float64 // singular values of the stacked real system, descending
}

// Deficient reports whether the system lost rank to machine precision.
func (r *LSQ) Deficient() bool { return r.Rank < r.MaxRank }

// Stack embeds a complex m×n matrix into the 2m×2n real matrix
// [[Re A, -Im A], [Im A, Re A]] so that a complex solve becomes a real one
// with the same 2-norms.
func Stack(a *Matrix) *mat.Dense {
	m, n := a.Rows, a.Cols
	d := mat.NewDense(2*m, 2*n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			z := a.Values[i][j]
			d.Set(i, j, real(z))
			d.Set(i, j+n, -imag(z))
			d.Set(i+m, j, imag(z))
			d.Set(i+m, j+n, real(z))
		}
	}
	return d
}

func stackVector(b *Vector) *mat.VecDense {
	n := b.Length
	v := mat.NewVecDense(2*n, nil)
	for i, z := range b.Values {
		v.SetVec(i, real(z))
		v.SetVec(i+n, imag(z))
	}
	return v
}

func unstackVector(x *mat.VecDense) *Vector {
	n := x.Len() / 2
	v := NewVector(n)
	for i := 0; i < n; i++ {
		v.Values[i] = complex(x.AtVec(i), x.AtVec(i+n))
	}
	return v
}

// LeastSquares finds the minimum-norm x minimizing ||A*x - b||₂ over the
// complex field. rcond <= 0 selects eps*max(rows, cols) of the stacked system.
// A zero matrix reports Rank 0 with a zero solution.
func LeastSquares(a *Matrix, b *Vector, rcond float64) (*LSQ, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("least squares: nil operand")
	}
	if a.Rows == 0 || a.Cols == 0 {
		return nil, fmt.Errorf("least squares: empty matrix")
	}
	if b.Length != a.Rows {
		return nil, fmt.Errorf("least squares: rhs length %d does not match %d rows", b.Length, a.Rows)
	}

	s := Stack(a)
	r, c := s.Dims()
	if rcond <= 0 {
		rcond = float64(max(r, c)) * eps
	}

	var svd mat.SVD
	if ok := svd.Factorize(s, mat.SVDThin); !ok {
		return nil, ErrFactorize
	}
	out := &LSQ{
		Rank:     svd.Rank(rcond),
		MaxRank:  min(r, c),
		Singular: svd.Values(nil),
	}
	if out.Rank == 0 {
		out.X = NewVector(a.Cols)
		out.Residual = b.Scale(-1)
		return out, nil
	}

	var x mat.VecDense
	svd.SolveVecTo(&x, stackVector(b), out.Rank)
	out.X = unstackVector(&x)
	out.Residual = a.MulVector(out.X).Sub(b)
	return out, nil
}

var eps = math.Nextafter(1, 2) - 1

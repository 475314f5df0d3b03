// Package matrix holds the small complex linear-algebra toolkit used by the
// balancing engine: phasor vectors, the M×2 influence matrix and a
// least-squares solver backed by gonum's SVD.
package matrix

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"
)

// Vector is a dense column of complex values (one per sensor or per plane).
type Vector struct {
	Values []complex128
	Length int
}

func NewVector(n int) *Vector {
	return &Vector{Values: make([]complex128, n), Length: n}
}

func NewVectorFrom(values []complex128) *Vector {
	v := NewVector(len(values))
	copy(v.Values, values)
	return v
}

// FromPolar builds a phasor vector amp[i]*exp(i*deg[i]).
func FromPolar(amps, phasesDeg []float64) (*Vector, error) {
	if len(amps) != len(phasesDeg) {
		return nil, fmt.Errorf("amplitude/phase length mismatch (%d vs %d)", len(amps), len(phasesDeg))
	}
	v := NewVector(len(amps))
	for i := range amps {
		v.Values[i] = Phasor(amps[i], phasesDeg[i])
	}
	return v, nil
}

// Phasor returns amp*exp(i*deg) with deg in degrees.
func Phasor(amp, deg float64) complex128 {
	return cmplx.Rect(amp, DegToRad(deg))
}

// Polar returns |z| and arg(z) in degrees normalized to [0, 360).
func Polar(z complex128) (float64, float64) {
	return cmplx.Abs(z), NormalizeDeg(RadToDeg(cmplx.Phase(z)))
}

func DegToRad(deg float64) float64 { return deg * math.Pi / 180.0 }

func RadToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }

// NormalizeDeg folds an angle into [0, 360).
func NormalizeDeg(deg float64) float64 {
	a := math.Mod(deg, 360.0)
	if a < 0 {
		a += 360.0
	}
	// math.Mod can hand back 360 after the shift for tiny negatives.
	if a >= 360.0 {
		a -= 360.0
	}
	return a
}

func (v *Vector) Copy() *Vector {
	return NewVectorFrom(v.Values)
}

func (v *Vector) Add(o *Vector) *Vector {
	if o == nil || v.Length != o.Length {
		return nil
	}
	out := NewVector(v.Length)
	for i := range v.Values {
		out.Values[i] = v.Values[i] + o.Values[i]
	}
	return out
}

func (v *Vector) Sub(o *Vector) *Vector {
	if o == nil || v.Length != o.Length {
		return nil
	}
	out := NewVector(v.Length)
	for i := range v.Values {
		out.Values[i] = v.Values[i] - o.Values[i]
	}
	return out
}

func (v *Vector) Scale(c complex128) *Vector {
	out := NewVector(v.Length)
	for i, z := range v.Values {
		out.Values[i] = z * c
	}
	return out
}

// Div divides every element by c.
func (v *Vector) Div(c complex128) *Vector {
	out := NewVector(v.Length)
	for i, z := range v.Values {
		out.Values[i] = z / c
	}
	return out
}

// Norm is the Euclidean norm over the complex field.
func (v *Vector) Norm() float64 {
	s := 0.0
	for _, z := range v.Values {
		s += real(z)*real(z) + imag(z)*imag(z)
	}
	return math.Sqrt(s)
}

// IsFinite reports whether no element carries NaN or Inf.
func (v *Vector) IsFinite() bool {
	for _, z := range v.Values {
		if cmplx.IsNaN(z) || cmplx.IsInf(z) {
			return false
		}
	}
	return true
}

func (v *Vector) String() string {
	parts := make([]string, v.Length)
	for i, z := range v.Values {
		parts[i] = FormatComplex(z)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// FormatComplex renders z as "a + bj" in %e notation.
func FormatComplex(z complex128) string {
	return fmt.Sprintf("%.6e + %.6ej", real(z), imag(z))
}

// Matrix is a dense row-major complex matrix.
type Matrix struct {
	Values [][]complex128
	Rows   int
	Cols   int
}

func NewMatrix(rows, cols int) *Matrix {
	vals := make([][]complex128, rows)
	for i := range vals {
		vals[i] = make([]complex128, cols)
	}
	return &Matrix{Values: vals, Rows: rows, Cols: cols}
}

func (m *Matrix) SetColumn(j int, v *Vector) {
	for i := 0; i < m.Rows; i++ {
		m.Values[i][j] = v.Values[i]
	}
}

func (m *Matrix) GetColumn(j int) *Vector {
	v := NewVector(m.Rows)
	for i := 0; i < m.Rows; i++ {
		v.Values[i] = m.Values[i][j]
	}
	return v
}

func (m *Matrix) GetRow(i int) *Vector {
	return NewVectorFrom(m.Values[i])
}

// MulVector returns m*v, or nil on a shape mismatch.
func (m *Matrix) MulVector(v *Vector) *Vector {
	if v == nil || v.Length != m.Cols {
		return nil
	}
	out := NewVector(m.Rows)
	for i := 0; i < m.Rows; i++ {
		var s complex128
		for j := 0; j < m.Cols; j++ {
			s += m.Values[i][j] * v.Values[j]
		}
		out.Values[i] = s
	}
	return out
}

func (m *Matrix) IsFinite() bool {
	for _, row := range m.Values {
		for _, z := range row {
			if cmplx.IsNaN(z) || cmplx.IsInf(z) {
				return false
			}
		}
	}
	return true
}

func (m *Matrix) String() string {
	var b strings.Builder
	for i, row := range m.Values {
		parts := make([]string, len(row))
		for j, z := range row {
			parts[j] = FormatComplex(z)
		}
		fmt.Fprintf(&b, "row %d: [ %s ]\n", i+1, strings.Join(parts, " , "))
	}
	return b.String()
}

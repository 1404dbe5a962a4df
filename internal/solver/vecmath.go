package solver

import "gonum.org/v1/gonum/mat"

func add3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func sub3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func scale3(a [3]float64, s float64) [3]float64 {
	return [3]float64{a[0] * s, a[1] * s, a[2] * s}
}

func neg3(a [3]float64) [3]float64 { return scale3(a, -1) }

func matVec(m mat.Matrix, v [3]float64) [3]float64 {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, v[:]))
	return [3]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

func matMul(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(a, b)
	return &out
}

func transpose(a mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.CloneFrom(a.T())
	return &out
}

// extractBlock pulls an r x c block starting at (row, col) out of a larger
// symmetric matrix, returned dense (and, when square, usable as a SymDense
// source via symFromDense).
func extractBlock(m *mat.SymDense, row, col, r, c int) *mat.Dense {
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(row+i, col+j))
		}
	}
	return out
}

func symFromDense(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2
			data[i*n+j] = v
			data[j*n+i] = v
		}
	}
	return mat.NewSymDense(n, data)
}

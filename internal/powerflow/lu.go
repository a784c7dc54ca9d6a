package powerflow

import "errors"

// luDecomp is a minimal LU factorization with partial pivoting, used to
// factor the slack-reduced susceptance matrix once at construction.
type luDecomp struct {
	n   int
	lu  [][]float64
	piv []int
}

// ErrSingular indicates a numerically singular reduced matrix, which only
// a disconnected or otherwise malformed topology produces.
var ErrSingular = errors.New("powerflow: singular reduced susceptance matrix")

func factorLU(a [][]float64) (*luDecomp, error) {
	n := len(a)
	if n == 0 {
		return nil, ErrSingular
	}
	lu := make([][]float64, n)
	for i := range lu {
		lu[i] = append([]float64(nil), a[i]...)
	}
	piv := make([]int, n)
	for i := range piv {
		piv[i] = i
	}

	const eps = 1e-12
	for k := 0; k < n; k++ {
		maxVal := 0.0
		maxRow := k
		for i := k; i < n; i++ {
			v := lu[i][k]
			if v < 0 {
				v = -v
			}
			if v > maxVal {
				maxVal = v
				maxRow = i
			}
		}
		if maxVal < eps {
			return nil, ErrSingular
		}
		if maxRow != k {
			lu[k], lu[maxRow] = lu[maxRow], lu[k]
			piv[k], piv[maxRow] = piv[maxRow], piv[k]
		}
		for i := k + 1; i < n; i++ {
			factor := lu[i][k] / lu[k][k]
			lu[i][k] = factor
			for j := k + 1; j < n; j++ {
				lu[i][j] -= factor * lu[k][j]
			}
		}
	}
	return &luDecomp{n: n, lu: lu, piv: piv}, nil
}

func (d *luDecomp) solve(b []float64) ([]float64, error) {
	n := d.n
	if len(b) != n {
		return nil, ErrSingular
	}
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b[d.piv[i]]
		for j := 0; j < i; j++ {
			sum -= d.lu[i][j] * y[j]
		}
		y[i] = sum
	}
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := y[i]
		for j := i + 1; j < n; j++ {
			sum -= d.lu[i][j] * x[j]
		}
		if d.lu[i][i] == 0 {
			return nil, ErrSingular
		}
		x[i] = sum / d.lu[i][i]
	}
	return x, nil
}

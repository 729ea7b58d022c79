package filter

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FiltFilt применяет фильтр вперед и назад (нулевая фаза).
// Края продолжаются нечетным отражением длиной 3*max(len(a), len(b)),
// начальные состояния берутся из установившегося режима (lfilter_zi).
// Длина результата равна длине входа.
func FiltFilt(c Coefficients, x []float64) ([]float64, error) {
	b, a, err := normalize(c)
	if err != nil {
		return nil, err
	}

	padlen := 3 * len(a)
	if len(x) <= padlen {
		return nil, fmt.Errorf("%w: need more than %d samples, got %d", ErrSignalTooShort, padlen, len(x))
	}

	zi, err := steadyState(b, a)
	if err != nil {
		return nil, err
	}

	ext := oddExtend(x, padlen)

	state := make([]float64, len(zi))
	for i := range zi {
		state[i] = zi[i] * ext[0]
	}
	y := lfilter(b, a, ext, state)

	reverse(y)
	for i := range zi {
		state[i] = zi[i] * y[0]
	}
	y = lfilter(b, a, y, state)
	reverse(y)

	out := make([]float64, len(x))
	copy(out, y[padlen:padlen+len(x)])
	return out, nil
}

// Zero - удобная обертка: проектирование + FiltFilt
func Zero(x []float64, order int, cutoff []float64, fs float64, kind Kind) ([]float64, error) {
	c, err := Butter(order, cutoff, fs, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to design %s filter: %w", kind, err)
	}
	return FiltFilt(c, x)
}

// normalize приводит b и a к одной длине и a[0] == 1
func normalize(c Coefficients) ([]float64, []float64, error) {
	if len(c.A) == 0 || c.A[0] == 0 {
		return nil, nil, fmt.Errorf("%w: leading denominator coefficient is zero", ErrInvalidCutoff)
	}
	n := len(c.A)
	if len(c.B) > n {
		n = len(c.B)
	}
	b := make([]float64, n)
	a := make([]float64, n)
	for i, v := range c.B {
		b[i] = v / c.A[0]
	}
	for i, v := range c.A {
		a[i] = v / c.A[0]
	}
	return b, a, nil
}

// steadyState решает (I - A^T) zi = b[1:] - a[1:]*b[0],
// где A - сопровождающая матрица знаменателя.
func steadyState(b, a []float64) ([]float64, error) {
	n := len(a) - 1
	if n == 0 {
		return nil, nil
	}

	m := mat.NewDense(n, n, nil)
	rhs := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, 0, a[i+1])
		if i+1 < n {
			m.Set(i, i+1, -1)
		}
		rhs.SetVec(i, b[i+1]-a[i+1]*b[0])
	}
	m.Set(0, 0, m.At(0, 0)+1)
	for i := 1; i < n; i++ {
		m.Set(i, i, m.At(i, i)+1)
	}

	var zi mat.VecDense
	if err := zi.SolveVec(m, rhs); err != nil {
		return nil, fmt.Errorf("failed to compute filter initial state: %w", err)
	}
	return zi.RawVector().Data, nil
}

// lfilter - прямая транспонированная форма II, state изменяется на месте
func lfilter(b, a, x, state []float64) []float64 {
	n := len(state)
	y := make([]float64, len(x))
	for i, xi := range x {
		yi := b[0]*xi + stateAt(state, 0)
		for k := 0; k < n-1; k++ {
			state[k] = b[k+1]*xi + state[k+1] - a[k+1]*yi
		}
		if n > 0 {
			state[n-1] = b[n]*xi - a[n]*yi
		}
		y[i] = yi
	}
	return y
}

func stateAt(state []float64, i int) float64 {
	if i < len(state) {
		return state[i]
	}
	return 0
}

func oddExtend(x []float64, padlen int) []float64 {
	n := len(x)
	ext := make([]float64, 0, n+2*padlen)
	for i := padlen; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-padlen; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}
	return ext
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

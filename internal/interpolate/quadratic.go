package interpolate

import "sort"

// localQuadratic evaluates, on each interval [x_i, x_i+1], the parabola
// through both interval ends and one outer neighbour. The neighbour is the
// one closer in time to the interval (left on ties), so the choice is fixed
// per interval and the result is continuous and exact at every node.
type localQuadratic struct {
	xs []float64
	ys []float64
}

// Fit implements interp.Fitter. xs must be strictly increasing with at least
// three points; the Engine guarantees both.
func (q *localQuadratic) Fit(xs, ys []float64) error {
	q.xs = append([]float64(nil), xs...)
	q.ys = append([]float64(nil), ys...)
	return nil
}

// Predict implements interp.Predictor. x outside the fitted range is clamped
// to the first or last interval's parabola.
func (q *localQuadratic) Predict(x float64) float64 {
	n := len(q.xs)
	i := sort.SearchFloat64s(q.xs, x)
	if i < n && q.xs[i] == x {
		return q.ys[i]
	}
	// q.xs[i-1] < x < q.xs[i]; work on interval i-1.
	i--
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}

	j := q.outer(i)
	a, b := i, i+1
	xa, xb, xj := q.xs[a], q.xs[b], q.xs[j]
	la := (x - xb) * (x - xj) / ((xa - xb) * (xa - xj))
	lb := (x - xa) * (x - xj) / ((xb - xa) * (xb - xj))
	lj := (x - xa) * (x - xb) / ((xj - xa) * (xj - xb))
	return q.ys[a]*la + q.ys[b]*lb + q.ys[j]*lj
}

func (q *localQuadratic) outer(i int) int {
	left, right := i-1, i+2
	switch {
	case left < 0:
		return right
	case right >= len(q.xs):
		return left
	case q.xs[i]-q.xs[left] <= q.xs[right]-q.xs[i+1]:
		return left
	default:
		return right
	}
}

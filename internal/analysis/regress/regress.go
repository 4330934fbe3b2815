// Package regress implements the ordinary least squares layer shared by the
// difference-in-differences and elasticity estimators, along with the
// classical test statistics built on top of it.
package regress

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrRankDeficient is returned when the design matrix does not have full
// column rank, e.g. perfectly collinear covariates.
var ErrRankDeficient = errors.New("design matrix is rank deficient")

// rankTol is the relative tolerance on the R diagonal of the QR
// decomposition below which a column counts as linearly dependent.
const rankTol = 1e-10

// Result holds a fitted OLS model. Coefficient order follows the column
// order of the design matrix passed to Fit.
type Result struct {
	Names       []string
	Coeffs      []float64
	StdErrs     []float64
	TValues     []float64
	PValues     []float64
	CILower     []float64 // 95% confidence bounds
	CIUpper     []float64
	Residuals   []float64
	Fitted      []float64
	RSquared    float64
	AdjRSquared float64
	NObs        int
	DF          int // residual degrees of freedom
}

// Coeff returns the coefficient for a named regressor.
func (r *Result) Coeff(name string) (float64, bool) {
	for i, n := range r.Names {
		if n == name {
			return r.Coeffs[i], true
		}
	}
	return 0, false
}

func (r *Result) index(name string) int {
	for i, n := range r.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// StdErr returns the standard error for a named regressor.
func (r *Result) StdErr(name string) (float64, bool) {
	if i := r.index(name); i >= 0 {
		return r.StdErrs[i], true
	}
	return 0, false
}

// PValue returns the two-sided p-value for a named regressor.
func (r *Result) PValue(name string) (float64, bool) {
	if i := r.index(name); i >= 0 {
		return r.PValues[i], true
	}
	return 0, false
}

// ConfInt returns the 95% confidence interval for a named regressor.
func (r *Result) ConfInt(name string) (lower, upper float64, ok bool) {
	if i := r.index(name); i >= 0 {
		return r.CILower[i], r.CIUpper[i], true
	}
	return 0, 0, false
}

// Params returns all coefficients keyed by regressor name.
func (r *Result) Params() map[string]float64 {
	out := make(map[string]float64, len(r.Names))
	for i, n := range r.Names {
		out[n] = r.Coeffs[i]
	}
	return out
}

// Fit runs ordinary least squares of y on the columns of X via QR
// decomposition. X must already contain the intercept column if one is
// wanted. names labels the columns of X.
func Fit(names []string, X *mat.Dense, y []float64) (*Result, error) {
	n, k := X.Dims()
	if len(names) != k {
		return nil, fmt.Errorf("have %d names for %d columns", len(names), k)
	}
	if n != len(y) {
		return nil, fmt.Errorf("X has %d rows, y has %d", n, len(y))
	}
	if n <= k {
		return nil, fmt.Errorf("need more than %d observations for %d regressors", k, k)
	}

	var qr mat.QR
	qr.Factorize(X)

	var r mat.Dense
	qr.RTo(&r)
	maxDiag := 0.0
	for j := 0; j < k; j++ {
		if v := math.Abs(r.At(j, j)); v > maxDiag {
			maxDiag = v
		}
	}
	for j := 0; j < k; j++ {
		if math.Abs(r.At(j, j)) <= rankTol*maxDiag {
			return nil, ErrRankDeficient
		}
	}

	yv := mat.NewVecDense(n, y)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, yv); err != nil {
		return nil, fmt.Errorf("qr solve: %w", err)
	}

	res := &Result{
		Names:  append([]string(nil), names...),
		Coeffs: make([]float64, k),
		NObs:   n,
		DF:     n - k,
	}
	for j := 0; j < k; j++ {
		res.Coeffs[j] = beta.AtVec(j)
	}

	// Residuals and fit statistics.
	res.Fitted = make([]float64, n)
	res.Residuals = make([]float64, n)
	rss := 0.0
	for i := 0; i < n; i++ {
		f := 0.0
		for j := 0; j < k; j++ {
			f += X.At(i, j) * res.Coeffs[j]
		}
		res.Fitted[i] = f
		res.Residuals[i] = y[i] - f
		rss += res.Residuals[i] * res.Residuals[i]
	}
	mean := stat.Mean(y, nil)
	tss := 0.0
	for i := 0; i < n; i++ {
		d := y[i] - mean
		tss += d * d
	}
	if tss > 0 {
		res.RSquared = 1 - rss/tss
	}
	res.AdjRSquared = 1 - (1-res.RSquared)*float64(n-1)/float64(res.DF)

	// Coefficient covariance: sigma^2 (X'X)^-1 with X'X = R'R.
	sigma2 := rss / float64(res.DF)
	rInv := mat.NewDense(k, k, nil)
	eye := mat.NewDense(k, k, nil)
	for j := 0; j < k; j++ {
		eye.Set(j, j, 1)
	}
	if err := rInv.Solve(r.Slice(0, k, 0, k), eye); err != nil {
		return nil, ErrRankDeficient
	}
	var xtxInv mat.Dense
	xtxInv.Mul(rInv, rInv.T())

	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(res.DF)}
	tcrit := tdist.Quantile(0.975)
	res.StdErrs = make([]float64, k)
	res.TValues = make([]float64, k)
	res.PValues = make([]float64, k)
	res.CILower = make([]float64, k)
	res.CIUpper = make([]float64, k)
	for j := 0; j < k; j++ {
		se := math.Sqrt(sigma2 * xtxInv.At(j, j))
		res.StdErrs[j] = se
		if se > 0 {
			res.TValues[j] = res.Coeffs[j] / se
		}
		res.PValues[j] = 2 * (1 - tdist.CDF(math.Abs(res.TValues[j])))
		res.CILower[j] = res.Coeffs[j] - tcrit*se
		res.CIUpper[j] = res.Coeffs[j] + tcrit*se
	}
	return res, nil
}

// BreuschPagan runs the Breusch-Pagan Lagrange-multiplier test for
// heteroskedasticity: squared residuals regressed on the original design
// matrix, LM = n*R² against chi-squared with k-1 degrees of freedom.
// Returns the p-value.
func BreuschPagan(X *mat.Dense, residuals []float64) (float64, error) {
	n, k := X.Dims()
	if k < 2 {
		return 0, fmt.Errorf("breusch-pagan needs at least one non-constant regressor")
	}
	sq := make([]float64, n)
	for i, r := range residuals {
		sq[i] = r * r
	}
	names := make([]string, k)
	for j := range names {
		names[j] = fmt.Sprintf("x%d", j)
	}
	aux, err := Fit(names, X, sq)
	if err != nil {
		return 0, fmt.Errorf("auxiliary regression: %w", err)
	}
	lm := float64(n) * aux.RSquared
	chi := distuv.ChiSquared{K: float64(k - 1)}
	return 1 - chi.CDF(lm), nil
}

// PearsonCorrelation returns the Pearson correlation of two equal-length
// series and the two-sided p-value of the t-test for zero correlation.
func PearsonCorrelation(a, b []float64) (r, p float64, err error) {
	if len(a) != len(b) {
		return 0, 0, fmt.Errorf("series lengths differ: %d vs %d", len(a), len(b))
	}
	n := len(a)
	if n < 3 {
		return 0, 0, fmt.Errorf("need at least 3 points, have %d", n)
	}
	r = stat.Correlation(a, b, nil)
	if math.IsNaN(r) {
		return 0, 0, errors.New("correlation undefined for constant series")
	}
	// Guard against |r| numerically reaching 1.
	if 1-r*r <= 0 {
		return r, 0, nil
	}
	t := r * math.Sqrt(float64(n-2)/(1-r*r))
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	p = 2 * (1 - tdist.CDF(math.Abs(t)))
	return r, p, nil
}

// Slope fits a degree-1 polynomial by least squares and returns its slope.
// xs is the index 0..n-1 when nil.
func Slope(xs, ys []float64) float64 {
	if xs == nil {
		xs = make([]float64, len(ys))
		for i := range xs {
			xs[i] = float64(i)
		}
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	return beta
}

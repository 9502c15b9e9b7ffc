package lme

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Options controls the fit.
type Options struct {
	REML    bool    // restricted maximum likelihood instead of ML
	MaxIter int     // optimizer iteration cap (0 = default 500)
	FuncTol float64 // deviance convergence tolerance (0 = default 1e-10)
}

const (
	defaultMaxIter = 500
	defaultFuncTol = 1e-10

	// singularTol is the threshold on the relative-covariance Cholesky
	// diagonal below which a variance component is reported as singular.
	// The diagonal is the ratio of a random-effect sd to the residual sd,
	// so 5e-3 flags components below half a percent of the residual scale.
	singularTol = 5e-3
)

// design holds the assembled matrices for one model on one dataset.
type design struct {
	y       []float64
	x       *mat.Dense // n x p fixed-effects design
	z       *mat.Dense // n x q random-effects design
	byGroup [][]int    // observation indices per group
	n, p, q int
	names   []string
}

func buildDesign(spec *Spec, data Data) (*design, error) {
	n := data.NumRows()
	if n == 0 {
		return nil, fmt.Errorf("empty dataset")
	}
	if spec.Random.Dim() == 0 {
		return nil, fmt.Errorf("spec has no random effects")
	}

	cols := make(map[string][]float64)
	column := func(name string) ([]float64, error) {
		if c, ok := cols[name]; ok {
			return c, nil
		}
		c, err := data.Column(name)
		if err != nil {
			return nil, err
		}
		if len(c) != n {
			return nil, fmt.Errorf("column %q has %d values, want %d", name, len(c), n)
		}
		cols[name] = c
		return c, nil
	}

	y, err := column(spec.Response)
	if err != nil {
		return nil, fmt.Errorf("response: %w", err)
	}

	p := 1 + len(spec.Fixed)
	x := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
	}
	for j, term := range spec.Fixed {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = 1
		}
		for _, f := range term.Factors {
			c, err := column(f)
			if err != nil {
				return nil, fmt.Errorf("term %q: %w", term.Name(), err)
			}
			for i := range vals {
				vals[i] *= c[i]
			}
		}
		x.SetCol(j+1, vals)
	}

	q := spec.Random.Dim()
	z := mat.NewDense(n, q, nil)
	zcol := 0
	if spec.Random.Intercept {
		for i := 0; i < n; i++ {
			z.Set(i, zcol, 1)
		}
		zcol++
	}
	if spec.Random.Slope != "" {
		c, err := column(spec.Random.Slope)
		if err != nil {
			return nil, fmt.Errorf("random slope: %w", err)
		}
		z.SetCol(zcol, c)
	}

	groups, err := data.Groups(spec.Group)
	if err != nil {
		return nil, fmt.Errorf("grouping: %w", err)
	}
	m := 0
	for _, g := range groups {
		if g < 0 {
			return nil, fmt.Errorf("negative group index %d", g)
		}
		if g+1 > m {
			m = g + 1
		}
	}
	byGroup := make([][]int, m)
	for i, g := range groups {
		byGroup[g] = append(byGroup[g], i)
	}
	for g, idx := range byGroup {
		if len(idx) == 0 {
			return nil, fmt.Errorf("group %d has no observations", g)
		}
	}

	return &design{
		y:       y,
		x:       x,
		z:       z,
		byGroup: byGroup,
		n:       n,
		p:       p,
		q:       q,
		names:   spec.FixedNames(),
	}, nil
}

// nTheta returns the number of free covariance parameters for q random
// effects under the Cholesky parameterization.
func nTheta(q int) int {
	return q * (q + 1) / 2
}

// lambda assembles the lower-triangular relative-covariance factor.
func lambda(theta []float64, q int) *mat.Dense {
	l := mat.NewDense(q, q, nil)
	k := 0
	for i := 0; i < q; i++ {
		for j := 0; j <= i; j++ {
			l.Set(i, j, theta[k])
			k++
		}
	}
	return l
}

// profile holds the closed-form quantities for one theta.
type profile struct {
	dev     float64
	sigma2  float64
	r2      float64
	logdetV float64
	beta    *mat.VecDense
	xtViX   *mat.SymDense
	sigmaRE *mat.SymDense // relative covariance Lambda Lambda'
}

// profiled evaluates the ML or REML deviance at theta, profiling out the
// fixed effects and the residual variance group by group.
func (d *design) profiled(theta []float64, reml bool) (*profile, error) {
	l := lambda(theta, d.q)
	var sigmaRE mat.SymDense
	sigmaRE.SymOuterK(1, l)

	xtViX := mat.NewDense(d.p, d.p, nil)
	xtViY := mat.NewVecDense(d.p, nil)
	yViY := 0.0
	logdetV := 0.0

	for _, idx := range d.byGroup {
		ni := len(idx)
		xi := mat.NewDense(ni, d.p, nil)
		zi := mat.NewDense(ni, d.q, nil)
		yi := mat.NewVecDense(ni, nil)
		for r, row := range idx {
			for c := 0; c < d.p; c++ {
				xi.Set(r, c, d.x.At(row, c))
			}
			for c := 0; c < d.q; c++ {
				zi.Set(r, c, d.z.At(row, c))
			}
			yi.SetVec(r, d.y[row])
		}

		// Vi = I + Zi Sigma Zi'
		var zs, viFull mat.Dense
		zs.Mul(zi, &sigmaRE)
		viFull.Mul(&zs, zi.T())
		vi := mat.NewSymDense(ni, nil)
		for r := 0; r < ni; r++ {
			for c := r; c < ni; c++ {
				v := 0.5 * (viFull.At(r, c) + viFull.At(c, r))
				if r == c {
					v += 1
				}
				vi.SetSym(r, c, v)
			}
		}

		var chol mat.Cholesky
		if !chol.Factorize(vi) {
			return nil, fmt.Errorf("marginal covariance not positive definite")
		}
		logdetV += chol.LogDet()

		var viX mat.Dense
		if err := chol.SolveTo(&viX, xi); err != nil {
			return nil, fmt.Errorf("solving V^-1 X: %w", err)
		}
		var viY mat.VecDense
		if err := chol.SolveVecTo(&viY, yi); err != nil {
			return nil, fmt.Errorf("solving V^-1 y: %w", err)
		}

		var xtvx mat.Dense
		xtvx.Mul(xi.T(), &viX)
		xtViX.Add(xtViX, &xtvx)

		var xtvy mat.VecDense
		xtvy.MulVec(xi.T(), &viY)
		xtViY.AddVec(xtViY, &xtvy)

		yViY += mat.Dot(yi, &viY)
	}

	xtViXSym := mat.NewSymDense(d.p, nil)
	for r := 0; r < d.p; r++ {
		for c := r; c < d.p; c++ {
			xtViXSym.SetSym(r, c, 0.5*(xtViX.At(r, c)+xtViX.At(c, r)))
		}
	}
	var cholX mat.Cholesky
	if !cholX.Factorize(xtViXSym) {
		return nil, fmt.Errorf("fixed-effects design is rank deficient")
	}
	beta := mat.NewVecDense(d.p, nil)
	if err := cholX.SolveVecTo(beta, xtViY); err != nil {
		return nil, fmt.Errorf("solving for fixed effects: %w", err)
	}

	r2 := yViY - mat.Dot(xtViY, beta)
	if r2 < 0 {
		r2 = 0
	}

	n := float64(d.n)
	var dev, sigma2 float64
	if reml {
		np := n - float64(d.p)
		if np <= 0 {
			return nil, fmt.Errorf("not enough observations for REML (%d rows, %d fixed effects)", d.n, d.p)
		}
		sigma2 = r2 / np
		if sigma2 <= 0 {
			return nil, fmt.Errorf("residual variance collapsed to zero")
		}
		dev = np*math.Log(2*math.Pi*sigma2) + logdetV + cholX.LogDet() + np
	} else {
		sigma2 = r2 / n
		if sigma2 <= 0 {
			return nil, fmt.Errorf("residual variance collapsed to zero")
		}
		dev = n*math.Log(2*math.Pi*sigma2) + logdetV + n
	}

	return &profile{
		dev:     dev,
		sigma2:  sigma2,
		r2:      r2,
		logdetV: logdetV,
		beta:    beta,
		xtViX:   xtViXSym,
		sigmaRE: &sigmaRE,
	}, nil
}

// Fit estimates the mixed model described by spec on data.
//
// The deviance is minimized over the relative-covariance parameters with
// Nelder-Mead; non-convergence and rank deficiency surface as
// *EstimationError. A singular fit (a variance component at the zero
// boundary) is NOT an error; it sets Model.Singular and a warning.
func Fit(spec *Spec, data Data, opt Options) (*Model, error) {
	if opt.MaxIter == 0 {
		opt.MaxIter = defaultMaxIter
	}
	if opt.FuncTol == 0 {
		opt.FuncTol = defaultFuncTol
	}

	d, err := buildDesign(spec, data)
	if err != nil {
		return nil, &EstimationError{Formula: spec.Formula, Reason: err.Error()}
	}

	// Starting values: identity relative-covariance factor.
	theta0 := make([]float64, nTheta(d.q))
	k := 0
	for i := 0; i < d.q; i++ {
		for j := 0; j <= i; j++ {
			if i == j {
				theta0[k] = 1
			}
			k++
		}
	}

	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			prof, err := d.profiled(theta, opt.REML)
			if err != nil {
				return math.Inf(1)
			}
			return prof.dev
		},
	}
	settings := &optimize.Settings{
		MajorIterations: opt.MaxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   opt.FuncTol,
			Iterations: 50,
		},
	}
	result, err := optimize.Minimize(problem, theta0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, &EstimationError{Formula: spec.Formula, Reason: fmt.Sprintf("optimizer: %v", err)}
	}
	if math.IsNaN(result.F) {
		return nil, &EstimationError{
			Formula:    spec.Formula,
			Reason:     "deviance is NaN at optimum",
			Iterations: result.Stats.MajorIterations,
		}
	}
	if math.IsInf(result.F, 1) {
		return nil, &EstimationError{
			Formula:    spec.Formula,
			Reason:     "deviance not finite anywhere visited",
			Iterations: result.Stats.MajorIterations,
		}
	}

	prof, err := d.profiled(result.X, opt.REML)
	if err != nil {
		return nil, &EstimationError{
			Formula:    spec.Formula,
			Reason:     err.Error(),
			Iterations: result.Stats.MajorIterations,
		}
	}

	model, err := assembleModel(spec, data, d, result.X, prof, opt)
	if err != nil {
		return nil, &EstimationError{
			Formula:    spec.Formula,
			Reason:     err.Error(),
			Iterations: result.Stats.MajorIterations,
		}
	}
	model.Iterations = result.Stats.MajorIterations

	if model.Singular {
		logrus.Warnf("singular fit for %q: a variance component is at the zero boundary", spec.Formula)
	}
	logrus.Debugf("fit %q: deviance=%.4f iterations=%d singular=%v",
		spec.Formula, model.Deviance, model.Iterations, model.Singular)
	return model, nil
}

// FitFormula parses formula and fits it in one step.
func FitFormula(formula string, data Data, opt Options) (*Model, error) {
	spec, err := ParseFormula(formula)
	if err != nil {
		return nil, err
	}
	return Fit(spec, data, opt)
}

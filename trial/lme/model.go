package lme

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Coefficient is one estimated fixed effect.
type Coefficient struct {
	Name     string
	Estimate float64
	StdErr   float64
	Z        float64
	P        float64
}

// VarComps holds the estimated random-effect variance components on the
// response scale.
type VarComps struct {
	HasIntercept bool
	HasSlope     bool
	Intercept    float64 // variance of the random intercept
	Slope        float64 // variance of the random slope
	Cov          float64 // intercept-slope covariance
	Corr         float64 // intercept-slope correlation
	Residual     float64 // residual variance
}

// RanefRow is one group's predicted random-effect deviations (BLUPs).
type RanefRow struct {
	Group     int
	Intercept float64
	Slope     float64
}

// Model is a fitted linear mixed-effects model.
type Model struct {
	Spec       *Spec
	REML       bool
	Coefs      []Coefficient
	VarComps   VarComps
	LogLik     float64
	Deviance   float64
	AIC        float64
	BIC        float64
	NObs       int
	NGroups    int
	NParams    int // fixed effects + covariance parameters + residual
	Fitted     []float64
	Residuals  []float64
	Ranef      []RanefRow
	Singular   bool
	Warnings   []string
	Iterations int

	theta       []float64
	fingerprint uint64
}

// DataFingerprint identifies the dataset the model was fit on.
func (m *Model) DataFingerprint() uint64 { return m.fingerprint }

// Coef returns the named fixed-effect estimate, or an error when the term
// is not in the model.
func (m *Model) Coef(name string) (Coefficient, error) {
	for _, c := range m.Coefs {
		if c.Name == name {
			return c, nil
		}
	}
	return Coefficient{}, fmt.Errorf("no fixed effect %q in model", name)
}

// assembleModel derives the reported quantities from the profiled solution
// at the optimum.
func assembleModel(spec *Spec, data Data, d *design, theta []float64, prof *profile, opt Options) (*Model, error) {
	// Fixed-effect covariance: sigma2 * (X' V^-1 X)^-1.
	var cholX mat.Cholesky
	if !cholX.Factorize(prof.xtViX) {
		return nil, fmt.Errorf("fixed-effects information matrix not positive definite")
	}
	var covBeta mat.SymDense
	if err := cholX.InverseTo(&covBeta); err != nil {
		return nil, fmt.Errorf("inverting information matrix: %w", err)
	}

	norm := distuv.UnitNormal
	coefs := make([]Coefficient, d.p)
	for j := 0; j < d.p; j++ {
		est := prof.beta.AtVec(j)
		se := math.Sqrt(prof.sigma2 * covBeta.At(j, j))
		z := 0.0
		if se > 0 {
			z = est / se
		}
		coefs[j] = Coefficient{
			Name:     d.names[j],
			Estimate: est,
			StdErr:   se,
			Z:        z,
			P:        2 * norm.Survival(math.Abs(z)),
		}
	}

	// BLUPs: b_g = Sigma Z_g' V_g^-1 (y_g - X_g beta).
	ranef := make([]RanefRow, len(d.byGroup))
	fitted := make([]float64, d.n)
	residuals := make([]float64, d.n)
	for g, idx := range d.byGroup {
		ni := len(idx)
		zi := mat.NewDense(ni, d.q, nil)
		resid := mat.NewVecDense(ni, nil)
		for r, row := range idx {
			for c := 0; c < d.q; c++ {
				zi.Set(r, c, d.z.At(row, c))
			}
			xb := 0.0
			for c := 0; c < d.p; c++ {
				xb += d.x.At(row, c) * prof.beta.AtVec(c)
			}
			fitted[row] = xb
			resid.SetVec(r, d.y[row]-xb)
		}

		var zs, viFull mat.Dense
		zs.Mul(zi, prof.sigmaRE)
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
			return nil, fmt.Errorf("group %d marginal covariance not positive definite", g)
		}
		var viR mat.VecDense
		if err := chol.SolveVecTo(&viR, resid); err != nil {
			return nil, fmt.Errorf("group %d BLUP solve: %w", g, err)
		}
		var ztvr, b mat.VecDense
		ztvr.MulVec(zi.T(), &viR)
		b.MulVec(prof.sigmaRE, &ztvr)

		row := RanefRow{Group: g}
		bcol := 0
		if spec.Random.Intercept {
			row.Intercept = b.AtVec(bcol)
			bcol++
		}
		if spec.Random.Slope != "" {
			row.Slope = b.AtVec(bcol)
		}
		ranef[g] = row

		// Conditional fitted values include the group deviation.
		for r, rowIdx := range idx {
			zb := 0.0
			for c := 0; c < d.q; c++ {
				zb += zi.At(r, c) * b.AtVec(c)
			}
			fitted[rowIdx] += zb
			residuals[rowIdx] = d.y[rowIdx] - fitted[rowIdx]
		}
	}

	vc := VarComps{
		HasIntercept: spec.Random.Intercept,
		HasSlope:     spec.Random.Slope != "",
		Residual:     prof.sigma2,
	}
	col := 0
	if vc.HasIntercept {
		vc.Intercept = prof.sigma2 * prof.sigmaRE.At(col, col)
		col++
	}
	if vc.HasSlope {
		vc.Slope = prof.sigma2 * prof.sigmaRE.At(col, col)
	}
	if vc.HasIntercept && vc.HasSlope {
		vc.Cov = prof.sigma2 * prof.sigmaRE.At(0, 1)
		if vc.Intercept > 0 && vc.Slope > 0 {
			vc.Corr = vc.Cov / math.Sqrt(vc.Intercept*vc.Slope)
		}
	}

	nVarParams := nTheta(d.q)
	nParams := d.p + nVarParams + 1

	m := &Model{
		Spec:        spec,
		REML:        opt.REML,
		Coefs:       coefs,
		VarComps:    vc,
		LogLik:      -0.5 * prof.dev,
		Deviance:    prof.dev,
		AIC:         prof.dev + 2*float64(nParams),
		BIC:         prof.dev + float64(nParams)*math.Log(float64(d.n)),
		NObs:        d.n,
		NGroups:     len(d.byGroup),
		NParams:     nParams,
		Fitted:      fitted,
		Residuals:   residuals,
		Ranef:       ranef,
		theta:       append([]float64(nil), theta...),
		fingerprint: data.Fingerprint(),
	}

	// Boundary check on the Cholesky diagonal of the relative covariance.
	k := 0
	for i := 0; i < d.q; i++ {
		for j := 0; j <= i; j++ {
			if i == j && math.Abs(theta[k]) < singularTol {
				m.Singular = true
			}
			k++
		}
	}
	if m.Singular {
		m.Warnings = append(m.Warnings,
			"singular fit: a random-effect variance is estimated at the zero boundary; consider simplifying the random-effects structure")
	}
	return m, nil
}

// Predict evaluates the model at the given covariate values. vals maps
// column names (e.g. "TimeScaled", "Drug") to values; group selects whose
// random-effect deviations to include, or a negative group for the
// population-level prediction.
func (m *Model) Predict(vals map[string]float64, group int) (float64, error) {
	pred := 0.0
	for _, c := range m.Coefs {
		if c.Name == "(Intercept)" {
			pred += c.Estimate
			continue
		}
		term := 1.0
		for _, f := range strings.Split(c.Name, ":") {
			v, ok := vals[f]
			if !ok {
				return 0, fmt.Errorf("predict: missing value for %q", f)
			}
			term *= v
		}
		pred += c.Estimate * term
	}

	if group >= 0 {
		if group >= len(m.Ranef) {
			return 0, fmt.Errorf("predict: group %d outside fitted range 0..%d", group, len(m.Ranef)-1)
		}
		re := m.Ranef[group]
		if m.Spec.Random.Intercept {
			pred += re.Intercept
		}
		if s := m.Spec.Random.Slope; s != "" {
			v, ok := vals[s]
			if !ok {
				return 0, fmt.Errorf("predict: missing value for random slope %q", s)
			}
			pred += re.Slope * v
		}
	}
	return pred, nil
}

// Criterion names the likelihood criterion the model was fit under.
func (m *Model) Criterion() string {
	if m.REML {
		return "REML"
	}
	return "ML"
}

// Summary renders an lme4-flavored text summary.
func (m *Model) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Linear mixed model fit by %s\n", m.Criterion())
	fmt.Fprintf(&b, "Formula: %s\n", m.Spec.Formula)
	fmt.Fprintf(&b, "Observations: %d  Groups (%s): %d\n", m.NObs, m.Spec.Group, m.NGroups)
	fmt.Fprintf(&b, "logLik %.2f  deviance %.2f  AIC %.2f  BIC %.2f\n",
		m.LogLik, m.Deviance, m.AIC, m.BIC)

	b.WriteString("Random effects:\n")
	if m.VarComps.HasIntercept {
		fmt.Fprintf(&b, "  %s (Intercept)  variance %.4f  sd %.4f\n",
			m.Spec.Group, m.VarComps.Intercept, math.Sqrt(m.VarComps.Intercept))
	}
	if m.VarComps.HasSlope {
		fmt.Fprintf(&b, "  %s %s  variance %.4f  sd %.4f\n",
			m.Spec.Group, m.Spec.Random.Slope, m.VarComps.Slope, math.Sqrt(m.VarComps.Slope))
	}
	if m.VarComps.HasIntercept && m.VarComps.HasSlope {
		fmt.Fprintf(&b, "  corr(Intercept, %s) %.3f\n", m.Spec.Random.Slope, m.VarComps.Corr)
	}
	fmt.Fprintf(&b, "  Residual  variance %.4f  sd %.4f\n",
		m.VarComps.Residual, math.Sqrt(m.VarComps.Residual))

	b.WriteString("Fixed effects:\n")
	fmt.Fprintf(&b, "  %-22s %10s %10s %8s %10s\n", "", "Estimate", "Std.Err", "z", "Pr(>|z|)")
	for _, c := range m.Coefs {
		fmt.Fprintf(&b, "  %-22s %10.4f %10.4f %8.3f %10.4g\n",
			c.Name, c.Estimate, c.StdErr, c.Z, c.P)
	}
	for _, w := range m.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	return b.String()
}

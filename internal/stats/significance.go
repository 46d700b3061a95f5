package stats

import "math"

// TwoProportionZ returns the z-statistic for the challenger's rate against
// the control's, using the pooled proportion under the null hypothesis.
// Positive z means the challenger converts better. ok is false when the
// test is undefined (no views on either side or zero pooled variance).
func TwoProportionZ(controlConv, controlViews, challengerConv, challengerViews int) (z float64, ok bool) {
	if controlViews == 0 || challengerViews == 0 {
		return 0, false
	}

	pControl := float64(controlConv) / float64(controlViews)
	pChallenger := float64(challengerConv) / float64(challengerViews)

	pooled := float64(controlConv+challengerConv) / float64(controlViews+challengerViews)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(controlViews) + 1/float64(challengerViews)))
	if se == 0 {
		return 0, false
	}

	return (pChallenger - pControl) / se, true
}

// Confidence converts z into a percentage: 100 * (1 - two-tailed p).
func Confidence(z float64) float64 {
	p := 2 * (1 - normalCDF(math.Abs(z)))
	if p < 0 {
		p = 0
	}
	return 100 * (1 - p)
}

// normalCDF approximates the cumulative distribution function
// of the standard normal distribution
func normalCDF(x float64) float64 {
	// Abramowitz and Stegun, formula 7.1.26
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}

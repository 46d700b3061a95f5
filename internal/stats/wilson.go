package stats

import "math"

// z95 is the two-sided 95% critical value of the standard normal.
const z95 = 1.959964

// WilsonInterval returns the Wilson score interval for successes out of
// trials at critical value z. It stays inside [0, 1] and behaves at small
// samples where the normal approximation does not.
func WilsonInterval(successes, trials int, z float64) (lower, upper float64) {
	if trials <= 0 {
		return 0, 0
	}

	p := float64(successes) / float64(trials)
	n := float64(trials)
	z2 := z * z

	denominator := 1 + z2/n
	center := (p + z2/(2*n)) / denominator
	spread := (z / denominator) * math.Sqrt(p*(1-p)/n+z2/(4*n*n))

	return math.Max(0, center-spread), math.Min(1, center+spread)
}

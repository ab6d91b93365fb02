package experiment

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// twoProportionPValue is the two-sided p-value of a pooled two-proportion
// z-test for success rates x1/n1 vs x2/n2. Returns 1.0 when the pooled
// variance degenerates (all successes or all failures), meaning no evidence
// of a difference.
func twoProportionPValue(x1, n1, x2, n2 int) float64 {
	if n1 == 0 || n2 == 0 {
		return 1.0
	}
	p1 := float64(x1) / float64(n1)
	p2 := float64(x2) / float64(n2)
	pooled := float64(x1+x2) / float64(n1+n2)

	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(n1) + 1/float64(n2)))
	if se == 0 {
		return 1.0
	}
	z := (p2 - p1) / se
	return 2 * stdNormal.CDF(-math.Abs(z))
}

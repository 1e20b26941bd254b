package assignment

// DualityGap accumulates the relative gap over the live PASs: the cost
// the PAS flows experience against the cost they would have on their
// cheaper sides.
type DualityGap struct {
	convexity float64
	measured  float64
}

// Reset clears the accumulated costs.
func (g *DualityGap) Reset() { *g = DualityGap{} }

// Add accumulates one PAS.
func (g *DualityGap) Add(c1, f1, c2, f2 float64) {
	g.convexity += c1 * (f1 + f2)
	g.measured += f1*c1 + f2*c2
}

// Value returns the relative gap, zero when nothing was measured.
func (g *DualityGap) Value() float64 {
	if g.measured <= 0 {
		return 0
	}
	return (g.measured - g.convexity) / g.measured
}

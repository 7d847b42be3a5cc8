package neighborhood

// WeightingFunction is a kernel of the normalized squared distance x² that
// vanishes for x² >= 1. Both methods accept dst aliasing x2.
type WeightingFunction interface {
	Weights(dst, x2 []float64)
	DerivativeWeights(dst, x2 []float64)
}

// Quartic is the compactly supported kernel (1-x²)^4.
type Quartic struct{}

func (Quartic) Weights(dst, x2 []float64) {
	for i, v := range x2 {
		if v >= 1 {
			dst[i] = 0
			continue
		}
		if v < 0 {
			v = 0
		}
		a := 1 - v
		a *= a
		dst[i] = a * a
	}
}

// DerivativeWeights stores the derivative with respect to x².
func (Quartic) DerivativeWeights(dst, x2 []float64) {
	for i, v := range x2 {
		if v <= 0 || v >= 1 {
			dst[i] = 0
			continue
		}
		a := 1 - v
		dst[i] = -4 * a * a * a
	}
}

package matchmaking

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"maps"
	"math/rand/v2"
	"slices"
	"strings"
)

// Weighting maps a win rate (of the home player against a candidate) to an unnormalized
// sampling priority for that candidate, in Prioritized Fictitious Self-Play (PFSP).
type Weighting func(winRate float64) float64

// Names of the PFSP weightings.
const (
	WeightingLinear       = "linear"
	WeightingLinearCapped = "linear_capped"
	WeightingVariance     = "variance"
	WeightingSquared      = "squared"
)

var weightings = map[string]Weighting{
	// Prefer opponents we currently lose to.
	WeightingLinear: func(x float64) float64 { return 1 - x },

	// Like linear, but an opponent we always lose to doesn't dominate.
	WeightingLinearCapped: func(x float64) float64 { return min(0.5, 1-x) },

	// Prefer opponents near 50%.
	WeightingVariance: func(x float64) float64 { return x * (1 - x) },

	// Stronger preference than linear for opponents we lose to.
	WeightingSquared: func(x float64) float64 { return (1 - x) * (1 - x) },
}

// WeightingByName returns one of the PFSP weightings: "linear", "linear_capped", "variance" or "squared".
func WeightingByName(name string) (Weighting, error) {
	w, found := weightings[name]
	if !found {
		known := slices.Sorted(maps.Keys(weightings))
		return nil, errors.Errorf("unknown PFSP weighting %q, valid values are: %s", name, strings.Join(known, ", "))
	}
	return w, nil
}

// MustWeighting is like WeightingByName, but panics if the name is unknown.
func MustWeighting(name string) Weighting {
	w, err := WeightingByName(name)
	if err != nil {
		exceptions.Panicf("%+v", err)
	}
	return w
}

// minProbabilityMass below which the weights are considered all zero.
const minProbabilityMass = 1e-10

// Probabilities maps the win rates through the weighting and normalizes the result to a
// probability distribution.
//
// If the total weight is (numerically) zero, for instance all win rates are 1.0 with the "squared"
// weighting, it returns the uniform distribution.
func Probabilities(winRates []float64, weighting Weighting) []float64 {
	probs := make([]float64, len(winRates))
	var sum float64
	for ii, winRate := range winRates {
		probs[ii] = max(weighting(winRate), 0)
		sum += probs[ii]
	}
	if sum < minProbabilityMass {
		for ii := range probs {
			probs[ii] = 1 / float64(len(probs))
		}
		return probs
	}
	for ii := range probs {
		probs[ii] /= sum
	}
	return probs
}

// SampleIndex samples an index with the given probabilities, which must sum to 1.
func SampleIndex(rng *rand.Rand, probs []float64) int {
	if len(probs) == 0 {
		exceptions.Panicf("matchmaking.SampleIndex: no probabilities to sample from")
	}
	chance := rng.Float64()
	last := -1
	for ii, p := range probs {
		if p <= 0 {
			continue
		}
		last = ii
		if chance < p {
			return ii
		}
		chance -= p
	}
	if last == -1 {
		exceptions.Panicf("matchmaking.SampleIndex: all probabilities are zero: %v", probs)
	}
	// Rounding errors: the remaining chance is tiny, so take the last possible candidate.
	return last
}

// SamplePFSP samples one of the candidates with PFSP, given the win rates against each of them.
// It returns the index of the candidate chosen.
func SamplePFSP(rng *rand.Rand, winRates []float64, weighting Weighting) int {
	return SampleIndex(rng, Probabilities(winRates, weighting))
}

// RemoveMonotonicSuffix removes from the end of the (oldest to newest) win rates the longest
// monotonically increasing run, along with the corresponding items.
//
// What is left goes up to the last point where the win rate decreased. E.g.: win rates
// [0.2, 0.5, 0.4, 0.6] become [0.2, 0.5]. If the win rates never decrease, everything is removed.
func RemoveMonotonicSuffix[T any](winRates []float64, items []T) ([]float64, []T) {
	if len(winRates) != len(items) {
		exceptions.Panicf("RemoveMonotonicSuffix: %d win rates for %d items", len(winRates), len(items))
	}
	for ii := len(winRates) - 1; ii > 0; ii-- {
		if winRates[ii-1] > winRates[ii] {
			return winRates[:ii], items[:ii]
		}
	}
	return []float64{}, []T{}
}

package matchmaking

import (
	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand/v2"
	"testing"
)

func TestWeightings(t *testing.T) {
	for _, test := range []struct {
		name string
		x    float64
		want float64
	}{
		{WeightingLinear, 0.25, 0.75},
		{WeightingLinearCapped, 0.25, 0.5},
		{WeightingLinearCapped, 0.75, 0.25},
		{WeightingVariance, 0.5, 0.25},
		{WeightingVariance, 1, 0},
		{WeightingSquared, 0.5, 0.25},
		{WeightingSquared, 0, 1},
	} {
		w, err := WeightingByName(test.name)
		require.NoError(t, err)
		assert.InDeltaf(t, test.want, w(test.x), 1e-12, "%s(%g)", test.name, test.x)
	}
	_, err := WeightingByName("cubic")
	require.Error(t, err)

	err = exceptions.TryCatch[error](func() { MustWeighting("cubic") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown PFSP weighting "cubic"`)
}

func TestProbabilitiesSumToOne(t *testing.T) {
	inputs := [][]float64{
		{0.1, 0.5, 0.9},
		{0.5},
		{0, 0, 0.3, 0.7, 1},
		{0.99, 0.01},
	}
	for _, name := range []string{WeightingLinear, WeightingLinearCapped, WeightingVariance, WeightingSquared} {
		for _, winRates := range inputs {
			probs := Probabilities(winRates, MustWeighting(name))
			var sum float64
			for _, p := range probs {
				assert.GreaterOrEqual(t, p, 0.0)
				sum += p
			}
			assert.InDeltaf(t, 1.0, sum, 1e-6, "%s(%v) -> %v", name, winRates, probs)
		}
	}

	// Relative weights are kept.
	probs := Probabilities([]float64{0, 0.5}, MustWeighting(WeightingSquared))
	assert.InDeltaSlice(t, []float64{0.8, 0.2}, probs, 1e-12)
}

func TestProbabilitiesUniformFallback(t *testing.T) {
	probs := Probabilities([]float64{1, 1, 1, 1}, MustWeighting(WeightingSquared))
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.25, 0.25}, probs, 1e-12)

	probs = Probabilities([]float64{0, 1}, MustWeighting(WeightingVariance))
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, probs, 1e-12)

	assert.Empty(t, Probabilities(nil, MustWeighting(WeightingLinear)))
}

func TestSampleIndex(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0)) // Ensure reproducibility
	probs := []float64{0.2, 0, 0.8}
	counts := make([]int, len(probs))
	const numSamples = 10_000
	for range numSamples {
		counts[SampleIndex(rng, probs)]++
	}
	assert.Equal(t, 0, counts[1], "zero probability candidates must never be sampled")
	assert.InDelta(t, 0.2, float64(counts[0])/numSamples, 0.03)
	assert.InDelta(t, 0.8, float64(counts[2])/numSamples, 0.03)

	assert.Panics(t, func() { SampleIndex(rng, nil) })
	assert.Panics(t, func() { SampleIndex(rng, []float64{0, 0}) })
}

func TestRemoveMonotonicSuffix(t *testing.T) {
	winRates, items := RemoveMonotonicSuffix([]float64{0.2, 0.5, 0.4, 0.6}, []string{"p0", "p1", "p2", "p3"})
	assert.Equal(t, []float64{0.2, 0.5}, winRates)
	assert.Equal(t, []string{"p0", "p1"}, items)

	winRates, items = RemoveMonotonicSuffix([]float64{}, []string{})
	assert.Empty(t, winRates)
	assert.Empty(t, items)

	// Monotonically increasing: everything is removed.
	winRates, items = RemoveMonotonicSuffix([]float64{0.1, 0.2, 0.3}, []int{1, 2, 3})
	assert.Empty(t, winRates)
	assert.Empty(t, items)

	// Decreasing at the very end: only the last one is removed.
	winRates, items = RemoveMonotonicSuffix([]float64{0.1, 0.6, 0.3}, []int{1, 2, 3})
	assert.Equal(t, []float64{0.1, 0.6}, winRates)
	assert.Equal(t, []int{1, 2}, items)

	assert.Panics(t, func() { RemoveMonotonicSuffix([]float64{0.1}, []int{}) })
}

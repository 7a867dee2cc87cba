package battle

import (
	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/leagueGo/internal/teams"
	"math/rand/v2"
)

const (
	// NumFeatures of the policy input: the fraction of the opponent's units of each attack type,
	// plus a constant bias.
	NumFeatures = teams.NumAttackTypes + 1

	// ParamsDim is the number of parameters of a Policy: one row of weights per attack type.
	ParamsDim = teams.NumAttackTypes * NumFeatures
)

// Mask of the attack types a team can use.
type Mask [teams.NumAttackTypes]bool

// AvailableAttacks returns the attack types the team has units for.
func AvailableAttacks(team *teams.Team) (mask Mask) {
	for _, unit := range team.Units {
		mask[unit.Attack] = true
	}
	return
}

// Features observed when fighting the opponent team.
func Features(opponent *teams.Team) []float32 {
	f := make([]float32, NumFeatures)
	for _, unit := range opponent.Units {
		f[unit.Attack]++
	}
	if len(opponent.Units) > 0 {
		for ii := range teams.NumAttackTypes {
			f[ii] /= float32(len(opponent.Units))
		}
	}
	f[NumFeatures-1] = 1
	return f
}

// Policy is a linear softmax policy over the attack types: logit[a] = W[a]·features.
//
// Its weights are the parameters of a league snapshot. A Policy doesn't own them, and never
// changes them, except through Update.
type Policy struct {
	weights []float32
}

// NewPolicy wraps the given weights, which must have ParamsDim values.
func NewPolicy(weights []float32) *Policy {
	if len(weights) != ParamsDim {
		exceptions.Panicf("battle.NewPolicy: expected %d weights, got %d", ParamsDim, len(weights))
	}
	return &Policy{weights: weights}
}

// UniformPolicy picks uniformly among the available attack types. It's used by scripted teams.
func UniformPolicy() *Policy {
	return &Policy{weights: make([]float32, ParamsDim)}
}

// Weights returns the policy weights. They must not be changed.
func (p *Policy) Weights() []float32 { return p.weights }

func (p *Policy) logit(action int, features []float32) float32 {
	row := p.weights[action*NumFeatures : (action+1)*NumFeatures]
	var sum float32
	for ii, x := range features {
		sum += row[ii] * x
	}
	return sum
}

// Probabilities of each attack type. Masked attack types have probability 0.
func (p *Policy) Probabilities(features []float32, mask Mask) (probs [teams.NumAttackTypes]float32) {
	maxLogit := math32.Inf(-1)
	var logits [teams.NumAttackTypes]float32
	for a := range teams.NumAttackTypes {
		if mask[a] {
			logits[a] = p.logit(a, features)
			maxLogit = math32.Max(maxLogit, logits[a])
		}
	}
	var sum float32
	for a := range teams.NumAttackTypes {
		if mask[a] {
			probs[a] = math32.Exp(logits[a] - maxLogit)
			sum += probs[a]
		}
	}
	if sum == 0 {
		exceptions.Panicf("battle.Policy: no attack type available")
	}
	for a := range probs {
		probs[a] /= sum
	}
	return
}

// Sample an attack type.
func (p *Policy) Sample(rng *rand.Rand, features []float32, mask Mask) teams.AttackType {
	probs := p.Probabilities(features, mask)
	chance := rng.Float32()
	last := -1
	for a, prob := range probs {
		if prob <= 0 {
			continue
		}
		last = a
		if chance < prob {
			return teams.AttackType(a)
		}
		chance -= prob
	}
	return teams.AttackType(last)
}

// accumulateGradient adds scale * d(log π(action|features))/dW to grad.
//
//	d(log π(a|x))/dW[k][j] = (1[k==a] - π(k|x)) * x_j
func (p *Policy) accumulateGradient(grad []float32, choice *Choice, scale float32) {
	probs := p.Probabilities(choice.Features, choice.Mask)
	for k := range teams.NumAttackTypes {
		if !choice.Mask[k] {
			continue
		}
		coef := -probs[k]
		if teams.AttackType(k) == choice.Action {
			coef += 1
		}
		coef *= scale
		row := grad[k*NumFeatures : (k+1)*NumFeatures]
		for j, x := range choice.Features {
			row[j] += coef * x
		}
	}
}

// Update the weights by gradient ascent with the given gradient and learning rate. The gradient is
// first clipped to maxL2 length, if maxL2 > 0.
func (p *Policy) Update(grad []float32, learningRate, maxL2 float32) {
	if maxL2 > 0 {
		clipL2(grad, maxL2)
	}
	for ii, g := range grad {
		p.weights[ii] += learningRate * g
	}
}

// clipL2 clips the L2 length of the vector.
func clipL2(vec []float32, maxLen float32) {
	var total float32
	for _, value := range vec {
		total += value * value
	}
	l2 := math32.Sqrt(total)
	if l2 > maxLen {
		ratio := maxLen / l2
		for ii := range vec {
			vec[ii] *= ratio
		}
	}
}

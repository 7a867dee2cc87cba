// Package battle implements a small battle environment and learner used to drive the league:
// teams fight a series of engagements, where each side picks the attack type to lead with, and the
// learner is a linear softmax policy trained with policy gradient.
//
// Attack types form a cycle: normal beats siege, siege beats pierce and pierce beats normal. When
// both units have the same attack type, roles break the tie: melee beats ranged, ranged beats
// support and support beats melee.
package battle

import (
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/leagueGo/internal/teams"
	"math/rand/v2"
)

// DefaultEngagements per battle.
const DefaultEngagements = 5

// Beats returns whether attack type a beats b.
func Beats(a, b teams.AttackType) bool {
	switch a {
	case teams.AttackNormal:
		return b == teams.AttackSiege
	case teams.AttackSiege:
		return b == teams.AttackPierce
	case teams.AttackPierce:
		return b == teams.AttackNormal
	}
	return false
}

func roleBeats(a, b teams.Role) bool {
	switch a {
	case teams.RoleMelee:
		return b == teams.RoleRanged
	case teams.RoleRanged:
		return b == teams.RoleSupport
	case teams.RoleSupport:
		return b == teams.RoleMelee
	}
	return false
}

// Engage two units: it returns 1 if a wins, -1 if b wins, 0 if neither.
func Engage(a, b teams.Unit) int {
	switch {
	case Beats(a.Attack, b.Attack):
		return 1
	case Beats(b.Attack, a.Attack):
		return -1
	case a.Attack != b.Attack:
		return 0
	case roleBeats(a.Role, b.Role):
		return 1
	case roleBeats(b.Role, a.Role):
		return -1
	}
	return 0
}

// Choice made by the home team in one engagement, kept for training.
type Choice struct {
	Features []float32
	Mask     Mask
	Action   teams.AttackType
}

// Result of a battle, from the point of view of the home team.
type Result struct {
	// Points scored by home and away.
	HomePoints, AwayPoints int

	// Choices made by home.
	Choices []Choice
}

// Won returns the "battle won" flags of home and away.
func (r *Result) Won() (homeWon, awayWon bool) {
	return r.HomePoints > r.AwayPoints, r.AwayPoints > r.HomePoints
}

// Fight a battle of the given number of engagements between home and away, each choosing its
// attack types with its policy.
func Fight(rng *rand.Rand, home, away *teams.Team, homePolicy, awayPolicy *Policy, engagements int) *Result {
	if len(home.Units) == 0 || len(away.Units) == 0 {
		exceptions.Panicf("battle between %s and %s: teams must have units", home, away)
	}
	homeFeatures, awayFeatures := Features(away), Features(home)
	homeMask, awayMask := AvailableAttacks(home), AvailableAttacks(away)
	result := &Result{Choices: make([]Choice, 0, engagements)}
	for range engagements {
		homeAttack := homePolicy.Sample(rng, homeFeatures, homeMask)
		awayAttack := awayPolicy.Sample(rng, awayFeatures, awayMask)
		result.Choices = append(result.Choices, Choice{Features: homeFeatures, Mask: homeMask, Action: homeAttack})
		switch Engage(pickUnit(rng, home, homeAttack), pickUnit(rng, away, awayAttack)) {
		case 1:
			result.HomePoints++
		case -1:
			result.AwayPoints++
		}
	}
	return result
}

// pickUnit returns a random unit of the team with the given attack type.
func pickUnit(rng *rand.Rand, team *teams.Team, attack teams.AttackType) teams.Unit {
	var count int
	var chosen teams.Unit
	for _, unit := range team.Units {
		if unit.Attack != attack {
			continue
		}
		// Reservoir sampling.
		count++
		if rng.IntN(count) == 0 {
			chosen = unit
		}
	}
	if count == 0 {
		exceptions.Panicf("team %s has no unit with attack %s", team, attack)
	}
	return chosen
}

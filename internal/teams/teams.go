// Package teams holds the immutable description of the league participants: their unit
// composition and a stable integer identity.
//
// Every other package references teams by their ID, and never copies or mutates them.
package teams

import (
	"fmt"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"slices"
	"strings"
)

// Role of a unit in a team.
type Role int

const (
	RoleMelee Role = iota
	RoleRanged
	RoleSupport
)

var roleNames = []string{"melee", "ranged", "support"}

func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleNames[r]
}

// AttackType of a unit. They form a cycle used by the battle environment: each type beats one
// other type and loses to the remaining one.
type AttackType int

const (
	AttackNormal AttackType = iota
	AttackPierce
	AttackSiege

	// NumAttackTypes is the number of valid AttackType values.
	NumAttackTypes = 3
)

var attackNames = []string{"normal", "pierce", "siege"}

func (a AttackType) String() string {
	if a < 0 || int(a) >= len(attackNames) {
		return fmt.Sprintf("AttackType(%d)", int(a))
	}
	return attackNames[a]
}

// Unit descriptor: a role tag and an attack-type tag.
type Unit struct {
	Role   Role
	Attack AttackType
}

func (u Unit) String() string {
	return u.Role.String() + "/" + u.Attack.String()
}

// Team is the immutable description of a participant.
type Team struct {
	ID    int
	Name  string
	Units []Unit

	// Scripted teams don't learn: their snapshot never changes.
	Scripted bool
}

func (t *Team) String() string {
	if t.Name != "" {
		return fmt.Sprintf("%s(#%d)", t.Name, t.ID)
	}
	return fmt.Sprintf("Team#%d", t.ID)
}

// Registry of teams indexed by ID. It's immutable after NewRegistry, and safe for concurrent use.
type Registry struct {
	byID map[int]*Team
	ids  []int
}

// NewRegistry creates a registry with the given teams. IDs must be unique and non-negative.
func NewRegistry(teams ...*Team) (*Registry, error) {
	r := &Registry{byID: make(map[int]*Team, len(teams))}
	for _, team := range teams {
		if team.ID < 0 {
			return nil, errors.Errorf("team %q has invalid negative id %d", team.Name, team.ID)
		}
		if previous, found := r.byID[team.ID]; found {
			return nil, errors.Errorf("teams %s and %q share the same id %d", previous, team.Name, team.ID)
		}
		r.byID[team.ID] = team
		r.ids = append(r.ids, team.ID)
	}
	slices.Sort(r.ids)
	return r, nil
}

// Get returns the team with the given id. It panics if the id is unknown: callers are expected
// to only use ids issued by the registry.
func (r *Registry) Get(id int) *Team {
	team, found := r.byID[id]
	if !found {
		exceptions.Panicf("teams.Registry: unknown team id %d", id)
	}
	return team
}

// Lookup returns the team with the given id, and whether it was found.
func (r *Registry) Lookup(id int) (*Team, bool) {
	team, found := r.byID[id]
	return team, found
}

// Len returns the number of registered teams.
func (r *Registry) Len() int { return len(r.ids) }

// IDs returns the team ids in ascending order. The returned slice must not be modified.
func (r *Registry) IDs() []int { return r.ids }

// Teams returns the teams ordered by id.
func (r *Registry) Teams() []*Team {
	teams := make([]*Team, len(r.ids))
	for ii, id := range r.ids {
		teams[ii] = r.byID[id]
	}
	return teams
}

// Parse a team from a configuration like "red:melee/normal,ranged/pierce". A "*" suffix in the name
// (e.g. "ai*:melee/siege") marks the team as scripted.
func Parse(id int, config string) (*Team, error) {
	name, unitsConfig, found := strings.Cut(strings.TrimSpace(config), ":")
	if !found || strings.TrimSpace(unitsConfig) == "" {
		return nil, errors.Errorf("invalid team %q: expected \"name:role/attack,...\"", config)
	}
	team := &Team{ID: id, Name: strings.TrimSpace(name)}
	if strings.HasSuffix(team.Name, "*") {
		team.Scripted = true
		team.Name = strings.TrimSuffix(team.Name, "*")
	}
	for _, unitConfig := range strings.Split(unitsConfig, ",") {
		roleName, attackName, found := strings.Cut(strings.TrimSpace(unitConfig), "/")
		if !found {
			return nil, errors.Errorf("invalid unit %q in team %q: expected \"role/attack\"", unitConfig, team.Name)
		}
		role := slices.Index(roleNames, strings.ToLower(roleName))
		if role < 0 {
			return nil, errors.Errorf("unknown role %q in team %q, valid values are %v", roleName, team.Name, roleNames)
		}
		attack := slices.Index(attackNames, strings.ToLower(attackName))
		if attack < 0 {
			return nil, errors.Errorf("unknown attack type %q in team %q, valid values are %v", attackName, team.Name, attackNames)
		}
		team.Units = append(team.Units, Unit{Role: Role(role), Attack: AttackType(attack)})
	}
	return team, nil
}

// ParseList parses a ";" separated list of team configurations (see Parse) and builds a Registry.
// Teams are given ids in order, starting from 0.
func ParseList(config string) (*Registry, error) {
	var teams []*Team
	for _, teamConfig := range strings.Split(config, ";") {
		if strings.TrimSpace(teamConfig) == "" {
			continue
		}
		team, err := Parse(len(teams), teamConfig)
		if err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	if len(teams) == 0 {
		return nil, errors.New("no teams configured")
	}
	return NewRegistry(teams...)
}

// Package devices wires the domain capabilities together and mounts them at
// their standard locations.
package devices

import (
	"context"

	"charfs/internal/bonus"
	"charfs/internal/capability"
	"charfs/internal/devices/ability"
	"charfs/internal/devices/character"
	"charfs/internal/devices/condition"
	"charfs/internal/devices/skill"
	"charfs/internal/kernel"
)

// Prefixes maps capability ids to their mount points.
var Prefixes = map[string]string{
	bonus.ID:     "/dev/bonus",
	ability.ID:   "/dev/ability",
	skill.ID:     "/dev/skill",
	condition.ID: "/dev/condition",
	character.ID: "/proc/character",
}

// Set holds one instance of every domain capability, each constructed with
// the capabilities it depends on.
type Set struct {
	Bonus     *bonus.Device
	Ability   *ability.Device
	Skill     *skill.Device
	Condition *condition.Device
	Character *character.Device
}

// New constructs an unmounted Set.
func New() *Set {
	s := &Set{Bonus: bonus.NewDevice()}
	s.Ability = ability.NewDevice(s.Bonus)
	s.Skill = skill.NewDevice(s.Ability, s.Bonus)
	s.Condition = condition.NewDevice(s.Bonus)
	s.Character = character.NewDevice(s.Ability, s.Skill, s.Condition, s.Bonus)
	return s
}

// Capabilities lists the members of s.
func (s *Set) Capabilities() []capability.Capability {
	return []capability.Capability{s.Bonus, s.Ability, s.Skill, s.Condition, s.Character}
}

// Mount validates the dependency graph and mounts every member in
// dependency order.
func (s *Set) Mount(ctx context.Context, k *kernel.Kernel) error {
	return k.MountAll(ctx, Prefixes, s.Capabilities()...)
}

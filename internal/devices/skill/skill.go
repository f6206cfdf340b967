// Package skill implements /dev/skill. A skill total combines ranks, the key
// ability modifier, the class skill bonus and every bonus on "skills" and
// "skill:<name>".
package skill

import (
	"context"
	"sort"

	"charfs/internal/bonus"
	"charfs/internal/capability"
	"charfs/internal/devices/ability"
	"charfs/internal/entity"
	"charfs/internal/errno"
	"charfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("skill")
)

const (
	// ID is the capability identifier.
	ID = "skill"

	// Property is the entity property holding ranks and class skill flags.
	Property = "skills"

	// AllTarget is the bonus target applying to every skill.
	AllTarget = "skills"

	// ClassSkillBonus is granted to a class skill with at least one rank.
	ClassSkillBonus = 3
)

// Ioctl request codes.
const (
	IoctlInitialize    uint32 = 0
	IoctlGetRanks      uint32 = 1
	IoctlSetRanks      uint32 = 2
	IoctlGetTotal      uint32 = 3
	IoctlGetBreakdown  uint32 = 4
	IoctlApplyBonus    uint32 = 5
	IoctlRemoveBonus   uint32 = 6
	IoctlSetClassSkill uint32 = 7
)

// KeyAbility maps every skill to the ability whose modifier it adds.
var KeyAbility = map[string]string{
	"acrobatics":       "dexterity",
	"appraise":         "intelligence",
	"bluff":            "charisma",
	"climb":            "strength",
	"diplomacy":        "charisma",
	"disable_device":   "dexterity",
	"escape_artist":    "dexterity",
	"heal":             "wisdom",
	"intimidate":       "charisma",
	"knowledge_arcana": "intelligence",
	"perception":       "wisdom",
	"sense_motive":     "wisdom",
	"sleight_of_hand":  "dexterity",
	"spellcraft":       "intelligence",
	"stealth":          "dexterity",
	"survival":         "wisdom",
	"swim":             "strength",
	"use_magic_device": "charisma",
}

// Names lists the skills alphabetically.
func Names() []string {
	out := make([]string, 0, len(KeyAbility))
	for n := range KeyAbility {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Target is the bonus target of one skill.
func Target(name string) string {
	return "skill:" + name
}

// Entry is the stored state of one skill.
type Entry struct {
	Ranks      int  `json:"ranks"`
	ClassSkill bool `json:"class_skill"`
}

// Args is the payload of every skill ioctl. Unused fields are ignored.
type Args struct {
	Entity     string         `json:"entity"`
	Skill      string         `json:"skill,omitempty"`
	Value      int            `json:"value,omitempty"`
	Type       string         `json:"type,omitempty"`
	Source     string         `json:"source,omitempty"`
	ClassSkill bool           `json:"class_skill,omitempty"`
	Ranks      map[string]int `json:"ranks,omitempty"`
	Class      []string       `json:"class_skills,omitempty"`
}

// Breakdown explains a skill total.
type Breakdown struct {
	Skill           string          `json:"skill"`
	Ability         string          `json:"ability"`
	Ranks           int             `json:"ranks"`
	AbilityModifier int             `json:"ability_modifier"`
	ClassSkill      bool            `json:"class_skill"`
	ClassBonus      int             `json:"class_bonus"`
	AllSkills       bonus.Breakdown `json:"all_skills"`
	Bonuses         bonus.Breakdown `json:"bonuses"`
	Total           int             `json:"total"`
}

// Device serves /dev/skill:
//
//	/dev/skill                    ioctl surface, reads the skill table
//	/dev/skill/{entity}           totals of every skill
//	/dev/skill/{entity}/{skill}   breakdown, writable ranks
type Device struct {
	capability.Routed

	abilities *ability.Device
	bonuses   *bonus.Device
	store     *entity.Store
	ioctls    capability.Ioctls
}

// NewDevice returns an unmounted skill device.
func NewDevice(abilities *ability.Device, bonuses *bonus.Device) *Device {
	return &Device{
		Routed:    capability.NewRouted(ID, abilities, bonuses),
		abilities: abilities,
		bonuses:   bonuses,
	}
}

func (d *Device) OnMount(ctx context.Context, sys capability.Syscalls) errno.Code {
	d.store = entity.NewStore(sys, nil)

	d.Serve(capability.NewRouter().
		Handle("/", d.readTable, nil).
		Handle("/{entity}", d.readTotals, nil).
		Handle("/{entity}/{skill}", d.readBreakdown, d.writeRanks))

	d.ioctls = capability.Ioctls{
		IoctlInitialize:    d.ioctlInitialize,
		IoctlGetRanks:      d.ioctlGetRanks,
		IoctlSetRanks:      d.ioctlSetRanks,
		IoctlGetTotal:      d.ioctlGetTotal,
		IoctlGetBreakdown:  d.ioctlGetBreakdown,
		IoctlApplyBonus:    d.ioctlApplyBonus,
		IoctlRemoveBonus:   d.ioctlRemoveBonus,
		IoctlSetClassSkill: d.ioctlSetClassSkill,
	}
	return d.Routed.OnMount(ctx, sys)
}

func (d *Device) Ioctl(ctx context.Context, f *capability.File, request uint32, arg any) errno.Result[any] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[any](code)
	}
	return d.ioctls.Dispatch(ctx, f, request, arg)
}

// Initialize replaces the ranks and class skills of entity id. Skills not
// named get zero ranks.
func (d *Device) Initialize(ctx context.Context, id string, ranks map[string]int, classSkills []string) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}

	entries := make(map[string]Entry, len(KeyAbility))
	for name, r := range ranks {
		if _, ok := KeyAbility[name]; !ok || r < 0 {
			return errno.EINVAL
		}
		entries[name] = Entry{Ranks: r}
	}
	for _, name := range classSkills {
		if _, ok := KeyAbility[name]; !ok {
			return errno.EINVAL
		}
		e := entries[name]
		e.ClassSkill = true
		entries[name] = e
	}

	return d.store.Update(ctx, id, func(e *entity.Entity) errno.Code {
		e.SetProperty(Property, entries)
		return errno.SUCCESS
	}).Code
}

// GetRanks returns the ranks invested in skill.
func (d *Device) GetRanks(ctx context.Context, id, skill string) errno.Result[int] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[int](code)
	}
	if _, ok := KeyAbility[skill]; !ok {
		return errno.Fail[int](errno.EINVAL)
	}
	e := d.store.Get(ctx, id)
	if !e.OK() {
		return errno.Fail[int](e.Code)
	}
	return errno.Ok(entries(e.Value)[skill].Ranks)
}

// SetRanks sets the ranks of skill. Negative ranks are EINVAL.
func (d *Device) SetRanks(ctx context.Context, id, skill string, ranks int) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	if _, ok := KeyAbility[skill]; !ok || ranks < 0 {
		return errno.EINVAL
	}
	return d.modify(ctx, id, skill, func(e *Entry) { e.Ranks = ranks })
}

// SetClassSkill marks or unmarks skill as a class skill.
func (d *Device) SetClassSkill(ctx context.Context, id, skill string, class bool) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	if _, ok := KeyAbility[skill]; !ok {
		return errno.EINVAL
	}
	return d.modify(ctx, id, skill, func(e *Entry) { e.ClassSkill = class })
}

func (d *Device) modify(ctx context.Context, id, skill string, fn func(*Entry)) errno.Code {
	return d.store.Update(ctx, id, func(e *entity.Entity) errno.Code {
		all := entries(*e)
		entry := all[skill]
		fn(&entry)
		all[skill] = entry
		e.SetProperty(Property, all)
		return errno.SUCCESS
	}).Code
}

// GetBreakdown resolves skill for entity id.
func (d *Device) GetBreakdown(ctx context.Context, id, skill string) errno.Result[Breakdown] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[Breakdown](code)
	}
	key, ok := KeyAbility[skill]
	if !ok {
		return errno.Fail[Breakdown](errno.EINVAL)
	}
	e := d.store.Get(ctx, id)
	if !e.OK() {
		return errno.Fail[Breakdown](e.Code)
	}
	return d.breakdown(ctx, id, skill, key, entries(e.Value)[skill])
}

func (d *Device) breakdown(ctx context.Context, id, skill, key string, entry Entry) errno.Result[Breakdown] {
	mod := d.abilities.GetModifier(ctx, id, key)
	if !mod.OK() {
		return errno.Fail[Breakdown](mod.Code)
	}
	all := d.bonuses.GetBreakdown(ctx, id, AllTarget)
	if !all.OK() {
		return errno.Fail[Breakdown](all.Code)
	}
	own := d.bonuses.GetBreakdown(ctx, id, Target(skill))
	if !own.OK() {
		return errno.Fail[Breakdown](own.Code)
	}

	bd := Breakdown{
		Skill:           skill,
		Ability:         key,
		Ranks:           entry.Ranks,
		AbilityModifier: mod.Value,
		ClassSkill:      entry.ClassSkill,
		AllSkills:       all.Value,
		Bonuses:         own.Value,
	}
	if entry.ClassSkill && entry.Ranks >= 1 {
		bd.ClassBonus = ClassSkillBonus
	}
	bd.Total = bd.Ranks + bd.AbilityModifier + bd.ClassBonus + all.Value.Total + own.Value.Total
	return errno.Ok(bd)
}

// GetTotal returns the skill total.
func (d *Device) GetTotal(ctx context.Context, id, skill string) errno.Result[int] {
	return errno.Map(d.GetBreakdown(ctx, id, skill), func(b Breakdown) int { return b.Total })
}

// Totals returns the total of every skill of entity id.
func (d *Device) Totals(ctx context.Context, id string) errno.Result[map[string]int] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[map[string]int](code)
	}
	e := d.store.Get(ctx, id)
	if !e.OK() {
		return errno.Fail[map[string]int](e.Code)
	}

	stored := entries(e.Value)
	out := make(map[string]int, len(KeyAbility))
	for name, key := range KeyAbility {
		bd := d.breakdown(ctx, id, name, key, stored[name])
		if !bd.OK() {
			return errno.Fail[map[string]int](bd.Code)
		}
		out[name] = bd.Value.Total
	}
	return errno.Ok(out)
}

// ApplyBonus adds a bonus on skill. The skill "skills" targets every skill.
func (d *Device) ApplyBonus(ctx context.Context, id, skill string, value int, typ, source string) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	target, ok := bonusTarget(skill)
	if !ok {
		return errno.EINVAL
	}
	return d.bonuses.AddBonus(ctx, id, target, value, typ, source)
}

// RemoveBonus removes the bonuses of source on skill.
func (d *Device) RemoveBonus(ctx context.Context, id, skill, source string) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	target, ok := bonusTarget(skill)
	if !ok {
		return errno.EINVAL
	}
	return d.bonuses.RemoveBonus(ctx, id, target, source)
}

func bonusTarget(skill string) (string, bool) {
	if skill == AllTarget {
		return AllTarget, true
	}
	if _, ok := KeyAbility[skill]; !ok {
		return "", false
	}
	return Target(skill), true
}

func entries(e entity.Entity) map[string]Entry {
	out, ok := entity.Property[map[string]Entry](e, Property)
	if !ok || out == nil {
		out = make(map[string]Entry)
	}
	return out
}

func (d *Device) readTable(context.Context, *capability.File, capability.Params) errno.Result[any] {
	return errno.Ok[any](KeyAbility)
}

func (d *Device) readTotals(ctx context.Context, _ *capability.File, p capability.Params) errno.Result[any] {
	return capability.AnyResult(d.Totals(ctx, p["entity"]))
}

func (d *Device) readBreakdown(ctx context.Context, _ *capability.File, p capability.Params) errno.Result[any] {
	return capability.AnyResult(d.GetBreakdown(ctx, p["entity"], p["skill"]))
}

func (d *Device) writeRanks(ctx context.Context, _ *capability.File, p capability.Params, value any) errno.Code {
	v := capability.DecodeArg[int](value)
	if !v.OK() {
		return v.Code
	}
	return d.SetRanks(ctx, p["entity"], p["skill"], v.Value)
}

func (d *Device) ioctlInitialize(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	code := d.Initialize(ctx, a.Value.Entity, a.Value.Ranks, a.Value.Class)
	if code == errno.SUCCESS {
		logger.Debug("Initialized skills of %s", a.Value.Entity)
	}
	return capability.CodeResult(code)
}

func (d *Device) ioctlGetRanks(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.AnyResult(d.GetRanks(ctx, a.Value.Entity, a.Value.Skill))
}

func (d *Device) ioctlSetRanks(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.CodeResult(d.SetRanks(ctx, a.Value.Entity, a.Value.Skill, a.Value.Value))
}

func (d *Device) ioctlGetTotal(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.AnyResult(d.GetTotal(ctx, a.Value.Entity, a.Value.Skill))
}

func (d *Device) ioctlGetBreakdown(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.AnyResult(d.GetBreakdown(ctx, a.Value.Entity, a.Value.Skill))
}

func (d *Device) ioctlApplyBonus(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	v := a.Value
	return capability.CodeResult(d.ApplyBonus(ctx, v.Entity, v.Skill, v.Value, v.Type, v.Source))
}

func (d *Device) ioctlRemoveBonus(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.CodeResult(d.RemoveBonus(ctx, a.Value.Entity, a.Value.Skill, a.Value.Source))
}

func (d *Device) ioctlSetClassSkill(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.CodeResult(d.SetClassSkill(ctx, a.Value.Entity, a.Value.Skill, a.Value.ClassSkill))
}

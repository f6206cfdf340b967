// Package ability implements /dev/ability: base ability scores stored on
// entities, combined with the bonuses the bonus device aggregates.
package ability

import (
	"context"

	"charfs/internal/bonus"
	"charfs/internal/capability"
	"charfs/internal/entity"
	"charfs/internal/errno"
	"charfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("ability")
)

// ID is the capability identifier.
const ID = "ability"

// Property is the entity property holding base scores.
const Property = "abilities"

// DefaultScore is the base score INITIALIZE assigns.
const DefaultScore = 10

// Names lists the abilities in sheet order.
var Names = []string{"strength", "dexterity", "constitution", "intelligence", "wisdom", "charisma"}

// Short maps the three letter abbreviations to ability names.
var Short = map[string]string{
	"str": "strength",
	"dex": "dexterity",
	"con": "constitution",
	"int": "intelligence",
	"wis": "wisdom",
	"cha": "charisma",
}

// Ioctl request codes.
const (
	IoctlInitialize   uint32 = 0
	IoctlGetScore     uint32 = 1
	IoctlSetScore     uint32 = 2
	IoctlGetModifier  uint32 = 3
	IoctlGetBreakdown uint32 = 4
	IoctlApplyBonus   uint32 = 5
	IoctlRemoveBonus  uint32 = 6
)

// Args is the payload of every ability ioctl. Unused fields are ignored.
type Args struct {
	Entity  string         `json:"entity"`
	Ability string         `json:"ability,omitempty"`
	Value   int            `json:"value,omitempty"`
	Type    string         `json:"type,omitempty"`
	Source  string         `json:"source,omitempty"`
	Scores  map[string]int `json:"scores,omitempty"`
}

// Score is the resolved state of one ability.
type Score struct {
	Ability  string          `json:"ability"`
	Base     int             `json:"base"`
	Score    int             `json:"score"`
	Modifier int             `json:"modifier"`
	Bonuses  bonus.Breakdown `json:"bonuses"`
}

// Modifier returns floor((score-10)/2).
func Modifier(score int) int {
	d := score - 10
	if d < 0 {
		return (d - 1) / 2
	}
	return d / 2
}

// Canonical resolves a full or abbreviated ability name.
func Canonical(name string) (string, bool) {
	if full, ok := Short[name]; ok {
		return full, true
	}
	for _, n := range Names {
		if n == name {
			return n, true
		}
	}
	return "", false
}

// Device serves /dev/ability:
//
//	/dev/ability                      ioctl surface
//	/dev/ability/{entity}             every ability
//	/dev/ability/{entity}/{ability}   one ability, writable base score
type Device struct {
	capability.Routed

	bonuses *bonus.Device
	store   *entity.Store
	ioctls  capability.Ioctls
}

// NewDevice returns an unmounted ability device using bonuses.
func NewDevice(bonuses *bonus.Device) *Device {
	return &Device{Routed: capability.NewRouted(ID, bonuses), bonuses: bonuses}
}

// OnMount builds the routing and ioctl tables.
func (d *Device) OnMount(ctx context.Context, sys capability.Syscalls) errno.Code {
	d.store = entity.NewStore(sys, nil)

	d.Serve(capability.NewRouter().
		Handle("/", nil, nil).
		Handle("/{entity}", d.readAll, nil).
		Handle("/{entity}/{ability}", d.readOne, d.writeBase))

	d.ioctls = capability.Ioctls{
		IoctlInitialize:   d.ioctlInitialize,
		IoctlGetScore:     d.ioctlGetScore,
		IoctlSetScore:     d.ioctlSetScore,
		IoctlGetModifier:  d.ioctlGetModifier,
		IoctlGetBreakdown: d.ioctlGetBreakdown,
		IoctlApplyBonus:   d.ioctlApplyBonus,
		IoctlRemoveBonus:  d.ioctlRemoveBonus,
	}
	return d.Routed.OnMount(ctx, sys)
}

func (d *Device) Ioctl(ctx context.Context, f *capability.File, request uint32, arg any) errno.Result[any] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[any](code)
	}
	return d.ioctls.Dispatch(ctx, f, request, arg)
}

// Initialize sets every base score, using DefaultScore for abilities scores
// does not name.
func (d *Device) Initialize(ctx context.Context, id string, scores map[string]int) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}

	base := make(map[string]int, len(Names))
	for _, n := range Names {
		base[n] = DefaultScore
	}
	for name, v := range scores {
		full, ok := Canonical(name)
		if !ok {
			return errno.EINVAL
		}
		base[full] = v
	}

	return d.store.Update(ctx, id, func(e *entity.Entity) errno.Code {
		e.SetProperty(Property, base)
		return errno.SUCCESS
	}).Code
}

// SetScore sets the base score of one ability.
func (d *Device) SetScore(ctx context.Context, id, ability string, value int) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	full, ok := Canonical(ability)
	if !ok {
		return errno.EINVAL
	}

	return d.store.Update(ctx, id, func(e *entity.Entity) errno.Code {
		base := baseScores(*e)
		base[full] = value
		e.SetProperty(Property, base)
		return errno.SUCCESS
	}).Code
}

// GetBreakdown resolves one ability of entity id.
func (d *Device) GetBreakdown(ctx context.Context, id, ability string) errno.Result[Score] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[Score](code)
	}
	full, ok := Canonical(ability)
	if !ok {
		return errno.Fail[Score](errno.EINVAL)
	}

	e := d.store.Get(ctx, id)
	if !e.OK() {
		return errno.Fail[Score](e.Code)
	}
	bd := d.bonuses.GetBreakdown(ctx, id, full)
	if !bd.OK() {
		return errno.Fail[Score](bd.Code)
	}
	return errno.Ok(resolve(full, baseScores(e.Value), bd.Value))
}

// GetScore returns base score plus bonuses.
func (d *Device) GetScore(ctx context.Context, id, ability string) errno.Result[int] {
	return errno.Map(d.GetBreakdown(ctx, id, ability), func(s Score) int { return s.Score })
}

// GetModifier returns the modifier of the resolved score.
func (d *Device) GetModifier(ctx context.Context, id, ability string) errno.Result[int] {
	return errno.Map(d.GetBreakdown(ctx, id, ability), func(s Score) int { return s.Modifier })
}

// All resolves every ability of entity id.
func (d *Device) All(ctx context.Context, id string) errno.Result[map[string]Score] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[map[string]Score](code)
	}
	e := d.store.Get(ctx, id)
	if !e.OK() {
		return errno.Fail[map[string]Score](e.Code)
	}

	base := baseScores(e.Value)
	out := make(map[string]Score, len(Names))
	for _, n := range Names {
		bd := d.bonuses.GetBreakdown(ctx, id, n)
		if !bd.OK() {
			return errno.Fail[map[string]Score](bd.Code)
		}
		out[n] = resolve(n, base, bd.Value)
	}
	return errno.Ok(out)
}

// ApplyBonus adds a bonus to one ability through the bonus device.
func (d *Device) ApplyBonus(ctx context.Context, id, ability string, value int, typ, source string) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	full, ok := Canonical(ability)
	if !ok {
		return errno.EINVAL
	}
	return d.bonuses.AddBonus(ctx, id, full, value, typ, source)
}

// RemoveBonus removes the bonuses of source from one ability.
func (d *Device) RemoveBonus(ctx context.Context, id, ability, source string) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	full, ok := Canonical(ability)
	if !ok {
		return errno.EINVAL
	}
	return d.bonuses.RemoveBonus(ctx, id, full, source)
}

func baseScores(e entity.Entity) map[string]int {
	base, ok := entity.Property[map[string]int](e, Property)
	if !ok || base == nil {
		base = make(map[string]int, len(Names))
	}
	for _, n := range Names {
		if _, ok := base[n]; !ok {
			base[n] = DefaultScore
		}
	}
	return base
}

func resolve(ability string, base map[string]int, bd bonus.Breakdown) Score {
	score := base[ability] + bd.Total
	return Score{
		Ability:  ability,
		Base:     base[ability],
		Score:    score,
		Modifier: Modifier(score),
		Bonuses:  bd,
	}
}

func (d *Device) readAll(ctx context.Context, _ *capability.File, p capability.Params) errno.Result[any] {
	return capability.AnyResult(d.All(ctx, p["entity"]))
}

func (d *Device) readOne(ctx context.Context, _ *capability.File, p capability.Params) errno.Result[any] {
	return capability.AnyResult(d.GetBreakdown(ctx, p["entity"], p["ability"]))
}

func (d *Device) writeBase(ctx context.Context, _ *capability.File, p capability.Params, value any) errno.Code {
	v := capability.DecodeArg[int](value)
	if !v.OK() {
		return v.Code
	}
	return d.SetScore(ctx, p["entity"], p["ability"], v.Value)
}

func (d *Device) ioctlInitialize(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	code := d.Initialize(ctx, a.Value.Entity, a.Value.Scores)
	if code == errno.SUCCESS {
		logger.Debug("Initialized abilities of %s", a.Value.Entity)
	}
	return capability.CodeResult(code)
}

func (d *Device) ioctlGetScore(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.AnyResult(d.GetScore(ctx, a.Value.Entity, a.Value.Ability))
}

func (d *Device) ioctlSetScore(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.CodeResult(d.SetScore(ctx, a.Value.Entity, a.Value.Ability, a.Value.Value))
}

func (d *Device) ioctlGetModifier(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.AnyResult(d.GetModifier(ctx, a.Value.Entity, a.Value.Ability))
}

func (d *Device) ioctlGetBreakdown(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.AnyResult(d.GetBreakdown(ctx, a.Value.Entity, a.Value.Ability))
}

func (d *Device) ioctlApplyBonus(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	v := a.Value
	return capability.CodeResult(d.ApplyBonus(ctx, v.Entity, v.Ability, v.Value, v.Type, v.Source))
}

func (d *Device) ioctlRemoveBonus(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.CodeResult(d.RemoveBonus(ctx, a.Value.Entity, a.Value.Ability, a.Value.Source))
}

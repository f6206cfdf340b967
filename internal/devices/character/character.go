// Package character implements /proc/character, the live view of a
// character assembled from the ability, skill, condition and bonus devices,
// plus the session state (hit points) those devices do not own.
package character

import (
	"context"

	"charfs/internal/bonus"
	"charfs/internal/capability"
	"charfs/internal/devices/ability"
	"charfs/internal/devices/condition"
	"charfs/internal/devices/skill"
	"charfs/internal/entity"
	"charfs/internal/errno"
	"charfs/internal/logging"
	"charfs/internal/vfs"
)

var (
	logger = logging.GetLogger().WithPrefix("character")
)

const (
	// ID is the capability identifier.
	ID = "character"

	// Type is the entity type of characters.
	Type = "character"

	// Property is the entity property holding hit points.
	Property = "hp"
)

// Ioctl request codes.
const (
	IoctlGetSheet uint32 = 0
	IoctlSetHP    uint32 = 1
	IoctlDamage   uint32 = 2
	IoctlHeal     uint32 = 3
)

// HP is the hit point state of a character. Current may drop below zero.
type HP struct {
	Current int `json:"current"`
	Max     int `json:"max"`
	Temp    int `json:"temp"`
}

// Sheet is the resolved state of one character.
type Sheet struct {
	ID         string                   `json:"id"`
	Name       string                   `json:"name"`
	HP         HP                       `json:"hp"`
	Abilities  map[string]ability.Score `json:"abilities"`
	Skills     map[string]int           `json:"skills"`
	Conditions []string                 `json:"conditions"`
	Bonuses    map[string]int           `json:"bonuses"`
	Version    int                      `json:"version"`
}

// Args is the payload of every character ioctl.
type Args struct {
	Entity  string `json:"entity"`
	Current int    `json:"current,omitempty"`
	Max     int    `json:"max,omitempty"`
	Temp    int    `json:"temp,omitempty"`
	Amount  int    `json:"amount,omitempty"`
}

// Device serves /proc/character:
//
//	/proc/character        ioctl surface, lists characters
//	/proc/character/{id}   live sheet
type Device struct {
	capability.Routed

	abilities  *ability.Device
	skills     *skill.Device
	conditions *condition.Device
	bonuses    *bonus.Device

	store  *entity.Store
	ioctls capability.Ioctls
}

// NewDevice returns an unmounted character device.
func NewDevice(abilities *ability.Device, skills *skill.Device, conditions *condition.Device, bonuses *bonus.Device) *Device {
	return &Device{
		Routed:     capability.NewRouted(ID, abilities, skills, conditions, bonuses),
		abilities:  abilities,
		skills:     skills,
		conditions: conditions,
		bonuses:    bonuses,
	}
}

func (d *Device) OnMount(ctx context.Context, sys capability.Syscalls) errno.Code {
	d.store = entity.NewStore(sys, nil)

	d.Serve(capability.NewRouter().
		Handle("/", d.readIDs, nil).
		Handle("/{id}", d.readSheet, nil))

	d.ioctls = capability.Ioctls{
		IoctlGetSheet: d.ioctlGetSheet,
		IoctlSetHP:    d.ioctlSetHP,
		IoctlDamage:   d.ioctlDamage,
		IoctlHeal:     d.ioctlHeal,
	}
	return d.Routed.OnMount(ctx, sys)
}

func (d *Device) Ioctl(ctx context.Context, f *capability.File, request uint32, arg any) errno.Result[any] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[any](code)
	}
	return d.ioctls.Dispatch(ctx, f, request, arg)
}

// Readdir lists one entry per character below the mount prefix.
func (d *Device) Readdir(ctx context.Context, subpath string) errno.Result[[]vfs.DirEntry] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[[]vfs.DirEntry](code)
	}
	if subpath != "" && subpath != vfs.Root {
		return errno.Fail[[]vfs.DirEntry](errno.EINVAL)
	}
	ids := d.IDs(ctx)
	if !ids.OK() {
		return errno.Fail[[]vfs.DirEntry](ids.Code)
	}
	out := make([]vfs.DirEntry, 0, len(ids.Value))
	for _, id := range ids.Value {
		out = append(out, vfs.DirEntry{Name: id, Kind: vfs.KindDevice})
	}
	return errno.Ok(out)
}

// IDs lists the stored characters in id order.
func (d *Device) IDs(ctx context.Context) errno.Result[[]string] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[[]string](code)
	}
	return errno.Map(d.store.List(ctx, Type), func(es []entity.Entity) []string {
		out := make([]string, 0, len(es))
		for _, e := range es {
			out = append(out, e.ID)
		}
		return out
	})
}

// GetSheet assembles the sheet of character id.
func (d *Device) GetSheet(ctx context.Context, id string) errno.Result[Sheet] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[Sheet](code)
	}
	e := d.load(ctx, id)
	if !e.OK() {
		return errno.Fail[Sheet](e.Code)
	}

	abilities := d.abilities.All(ctx, id)
	if !abilities.OK() {
		return errno.Fail[Sheet](abilities.Code)
	}
	skills := d.skills.Totals(ctx, id)
	if !skills.OK() {
		return errno.Fail[Sheet](skills.Code)
	}
	conditions := d.conditions.Active(ctx, id)
	if !conditions.OK() {
		return errno.Fail[Sheet](conditions.Code)
	}
	totals := d.bonuses.Totals(ctx, id)
	if !totals.OK() {
		return errno.Fail[Sheet](totals.Code)
	}

	return errno.Ok(Sheet{
		ID:         e.Value.ID,
		Name:       e.Value.Name,
		HP:         hpOf(e.Value),
		Abilities:  abilities.Value,
		Skills:     skills.Value,
		Conditions: conditions.Value,
		Bonuses:    totals.Value,
		Version:    e.Value.Metadata.Version,
	})
}

// SetHP replaces the hit point state. Negative max or temp is EINVAL.
func (d *Device) SetHP(ctx context.Context, id string, hp HP) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	if hp.Max < 0 || hp.Temp < 0 {
		return errno.EINVAL
	}
	return d.modify(ctx, id, func(cur *HP) errno.Code {
		*cur = hp
		return errno.SUCCESS
	})
}

// Damage subtracts amount, temporary hit points first.
func (d *Device) Damage(ctx context.Context, id string, amount int) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	if amount < 0 {
		return errno.EINVAL
	}
	return d.modify(ctx, id, func(hp *HP) errno.Code {
		absorbed := min(hp.Temp, amount)
		hp.Temp -= absorbed
		hp.Current -= amount - absorbed
		return errno.SUCCESS
	})
}

// Heal adds amount, never above max.
func (d *Device) Heal(ctx context.Context, id string, amount int) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	if amount < 0 {
		return errno.EINVAL
	}
	return d.modify(ctx, id, func(hp *HP) errno.Code {
		if hp.Current < hp.Max {
			hp.Current = min(hp.Max, hp.Current+amount)
		}
		return errno.SUCCESS
	})
}

func (d *Device) modify(ctx context.Context, id string, fn func(*HP) errno.Code) errno.Code {
	r := d.store.Update(ctx, id, func(e *entity.Entity) errno.Code {
		if e.Type != Type {
			return errno.ENOENT
		}
		hp := hpOf(*e)
		if code := fn(&hp); code != errno.SUCCESS {
			return code
		}
		e.SetProperty(Property, hp)
		return errno.SUCCESS
	})
	if r.OK() {
		hp := hpOf(r.Value)
		logger.Debug("HP of %s is now %d/%d (+%d)", id, hp.Current, hp.Max, hp.Temp)
	}
	return r.Code
}

func (d *Device) load(ctx context.Context, id string) errno.Result[entity.Entity] {
	e := d.store.Get(ctx, id)
	if !e.OK() {
		return e
	}
	if e.Value.Type != Type {
		return errno.Fail[entity.Entity](errno.ENOENT)
	}
	return e
}

func hpOf(e entity.Entity) HP {
	hp, _ := entity.Property[HP](e, Property)
	return hp
}

func (d *Device) readIDs(ctx context.Context, _ *capability.File, _ capability.Params) errno.Result[any] {
	return capability.AnyResult(d.IDs(ctx))
}

func (d *Device) readSheet(ctx context.Context, _ *capability.File, p capability.Params) errno.Result[any] {
	return capability.AnyResult(d.GetSheet(ctx, p["id"]))
}

func (d *Device) ioctlGetSheet(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.AnyResult(d.GetSheet(ctx, a.Value.Entity))
}

func (d *Device) ioctlSetHP(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	v := a.Value
	return capability.CodeResult(d.SetHP(ctx, v.Entity, HP{Current: v.Current, Max: v.Max, Temp: v.Temp}))
}

func (d *Device) ioctlDamage(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.CodeResult(d.Damage(ctx, a.Value.Entity, a.Value.Amount))
}

func (d *Device) ioctlHeal(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.CodeResult(d.Heal(ctx, a.Value.Entity, a.Value.Amount))
}

// Package condition implements /dev/condition. Applying a condition records
// it on the entity and adds condition-typed bonuses owned by the source
// "condition:<name>"; removing it drops those bonuses again.
package condition

import (
	"context"
	"sort"

	"charfs/internal/bonus"
	"charfs/internal/capability"
	"charfs/internal/entity"
	"charfs/internal/errno"
	"charfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("condition")
)

const (
	// ID is the capability identifier.
	ID = "condition"

	// Property is the entity property listing active conditions.
	Property = "conditions"

	// BonusType is the type of every bonus a condition applies.
	BonusType = "condition"
)

// Ioctl request codes.
const (
	IoctlApply  uint32 = 0
	IoctlRemove uint32 = 1
	IoctlList   uint32 = 2
	IoctlClear  uint32 = 3
)

// Effect is one bonus a condition applies.
type Effect struct {
	Target string `json:"target"`
	Value  int    `json:"value"`
}

// Effects lists what each known condition does.
var Effects = map[string][]Effect{
	"shaken": {
		{Target: "attack", Value: -2},
		{Target: "saves", Value: -2},
		{Target: "skills", Value: -2},
		{Target: "ability_checks", Value: -2},
	},
	"sickened": {
		{Target: "attack", Value: -2},
		{Target: "damage", Value: -2},
		{Target: "saves", Value: -2},
		{Target: "skills", Value: -2},
		{Target: "ability_checks", Value: -2},
	},
	"frightened": {
		{Target: "attack", Value: -2},
		{Target: "saves", Value: -2},
		{Target: "skills", Value: -2},
		{Target: "ability_checks", Value: -2},
	},
	"fatigued": {
		{Target: "strength", Value: -2},
		{Target: "dexterity", Value: -2},
	},
	"exhausted": {
		{Target: "strength", Value: -6},
		{Target: "dexterity", Value: -6},
	},
	"entangled": {
		{Target: "attack", Value: -2},
		{Target: "dexterity", Value: -4},
	},
	"dazzled": {
		{Target: "attack", Value: -1},
		{Target: "skill:perception", Value: -1},
	},
}

// Names lists the known conditions alphabetically.
func Names() []string {
	out := make([]string, 0, len(Effects))
	for n := range Effects {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Source is the bonus source owned by condition name.
func Source(name string) string {
	return "condition:" + name
}

// Args is the payload of every condition ioctl.
type Args struct {
	Entity    string `json:"entity"`
	Condition string `json:"condition,omitempty"`
}

// Device serves /dev/condition:
//
//	/dev/condition            ioctl surface, reads the known conditions
//	/dev/condition/{entity}   active conditions of an entity
type Device struct {
	capability.Routed

	bonuses *bonus.Device
	store   *entity.Store
	ioctls  capability.Ioctls
}

// NewDevice returns an unmounted condition device.
func NewDevice(bonuses *bonus.Device) *Device {
	return &Device{Routed: capability.NewRouted(ID, bonuses), bonuses: bonuses}
}

func (d *Device) OnMount(ctx context.Context, sys capability.Syscalls) errno.Code {
	d.store = entity.NewStore(sys, nil)

	d.Serve(capability.NewRouter().
		Handle("/", d.readKnown, nil).
		Handle("/{entity}", d.readActive, nil))

	d.ioctls = capability.Ioctls{
		IoctlApply:  d.ioctlApply,
		IoctlRemove: d.ioctlRemove,
		IoctlList:   d.ioctlList,
		IoctlClear:  d.ioctlClear,
	}
	return d.Routed.OnMount(ctx, sys)
}

func (d *Device) Ioctl(ctx context.Context, f *capability.File, request uint32, arg any) errno.Result[any] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[any](code)
	}
	return d.ioctls.Dispatch(ctx, f, request, arg)
}

// Apply activates condition name on entity id. Applying an active condition
// again changes nothing.
func (d *Device) Apply(ctx context.Context, id, name string) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	effects, ok := Effects[name]
	if !ok {
		return errno.EINVAL
	}

	active := d.Active(ctx, id)
	if !active.OK() {
		return active.Code
	}
	if contains(active.Value, name) {
		return errno.SUCCESS
	}

	for _, eff := range effects {
		if code := d.bonuses.AddBonus(ctx, id, eff.Target, eff.Value, BonusType, Source(name)); code != errno.SUCCESS {
			d.bonuses.RemoveBonusesWithSource(ctx, id, Source(name))
			return code
		}
	}

	code := d.setActive(ctx, id, func(names []string) []string {
		if contains(names, name) {
			return names
		}
		return append(names, name)
	})
	if code == errno.SUCCESS {
		logger.Debug("Applied %s to %s", name, id)
	}
	return code
}

// Remove deactivates condition name. ENOENT when it is not active.
func (d *Device) Remove(ctx context.Context, id, name string) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	if _, ok := Effects[name]; !ok {
		return errno.EINVAL
	}

	active := d.Active(ctx, id)
	if !active.OK() {
		return active.Code
	}
	if !contains(active.Value, name) {
		return errno.ENOENT
	}

	if code := d.bonuses.RemoveBonusesWithSource(ctx, id, Source(name)); code != errno.SUCCESS {
		return code
	}
	return d.setActive(ctx, id, func(names []string) []string {
		kept := names[:0]
		for _, n := range names {
			if n != name {
				kept = append(kept, n)
			}
		}
		return kept
	})
}

// Clear removes every active condition.
func (d *Device) Clear(ctx context.Context, id string) errno.Code {
	active := d.Active(ctx, id)
	if !active.OK() {
		return active.Code
	}
	for _, name := range active.Value {
		if code := d.Remove(ctx, id, name); code != errno.SUCCESS {
			return code
		}
	}
	return errno.SUCCESS
}

// Active lists the conditions on entity id, sorted.
func (d *Device) Active(ctx context.Context, id string) errno.Result[[]string] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[[]string](code)
	}
	e := d.store.Get(ctx, id)
	if !e.OK() {
		return errno.Fail[[]string](e.Code)
	}
	return errno.Ok(activeOf(e.Value))
}

func (d *Device) setActive(ctx context.Context, id string, fn func([]string) []string) errno.Code {
	return d.store.Update(ctx, id, func(e *entity.Entity) errno.Code {
		names := fn(activeOf(*e))
		sort.Strings(names)
		e.SetProperty(Property, names)
		return errno.SUCCESS
	}).Code
}

func activeOf(e entity.Entity) []string {
	names, ok := entity.Property[[]string](e, Property)
	if !ok || names == nil {
		return []string{}
	}
	return append([]string(nil), names...)
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (d *Device) readKnown(context.Context, *capability.File, capability.Params) errno.Result[any] {
	return errno.Ok[any](Names())
}

func (d *Device) readActive(ctx context.Context, _ *capability.File, p capability.Params) errno.Result[any] {
	return capability.AnyResult(d.Active(ctx, p["entity"]))
}

func (d *Device) ioctlApply(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.CodeResult(d.Apply(ctx, a.Value.Entity, a.Value.Condition))
}

func (d *Device) ioctlRemove(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.CodeResult(d.Remove(ctx, a.Value.Entity, a.Value.Condition))
}

func (d *Device) ioctlList(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.AnyResult(d.Active(ctx, a.Value.Entity))
}

func (d *Device) ioctlClear(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[Args](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.CodeResult(d.Clear(ctx, a.Value.Entity))
}

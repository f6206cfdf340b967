package bonus

import (
	"context"

	"charfs/internal/capability"
	"charfs/internal/entity"
	"charfs/internal/errno"
)

// ID is the capability identifier of the bonus device.
const ID = "bonus"

// Ioctl request codes.
const (
	IoctlAdd          uint32 = 0
	IoctlRemove       uint32 = 1
	IoctlRemoveSource uint32 = 2
	IoctlTotal        uint32 = 3
	IoctlBreakdown    uint32 = 4
)

// AddArgs is the payload of IoctlAdd.
type AddArgs struct {
	Entity string `json:"entity"`
	Target string `json:"target"`
	Value  int    `json:"value"`
	Type   string `json:"type"`
	Source string `json:"source"`
}

// RemoveArgs is the payload of IoctlRemove and IoctlRemoveSource. Target is
// ignored by IoctlRemoveSource.
type RemoveArgs struct {
	Entity string `json:"entity"`
	Target string `json:"target,omitempty"`
	Source string `json:"source"`
}

// TargetArgs is the payload of IoctlTotal and IoctlBreakdown.
type TargetArgs struct {
	Entity string `json:"entity"`
	Target string `json:"target"`
}

// Device serves /dev/bonus:
//
//	/dev/bonus                     ioctl surface
//	/dev/bonus/{entity}            totals per target
//	/dev/bonus/{entity}/{target}   breakdown of one target
type Device struct {
	capability.Routed

	engine *Engine
	ioctls capability.Ioctls
}

// NewDevice returns an unmounted bonus device.
func NewDevice() *Device {
	return &Device{Routed: capability.NewRouted(ID)}
}

// OnMount builds the routing and ioctl tables.
func (d *Device) OnMount(ctx context.Context, sys capability.Syscalls) errno.Code {
	d.engine = NewEngine(entity.NewStore(sys, nil))

	d.Serve(capability.NewRouter().
		Handle("/", d.readRequests, nil).
		Handle("/{entity}", d.readTotals, nil).
		Handle("/{entity}/{target}", d.readBreakdown, nil))

	d.ioctls = capability.Ioctls{
		IoctlAdd:          d.ioctlAdd,
		IoctlRemove:       d.ioctlRemove,
		IoctlRemoveSource: d.ioctlRemoveSource,
		IoctlTotal:        d.ioctlTotal,
		IoctlBreakdown:    d.ioctlBreakdown,
	}
	return d.Routed.OnMount(ctx, sys)
}

func (d *Device) Ioctl(ctx context.Context, f *capability.File, request uint32, arg any) errno.Result[any] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[any](code)
	}
	return d.ioctls.Dispatch(ctx, f, request, arg)
}

// AddBonus applies a bonus to target of entity id.
func (d *Device) AddBonus(ctx context.Context, id, target string, value int, typ, source string) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	return d.engine.AddBonus(ctx, id, target, value, typ, source)
}

// RemoveBonus removes the entries of source on target.
func (d *Device) RemoveBonus(ctx context.Context, id, target, source string) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	return d.engine.RemoveBonus(ctx, id, target, source)
}

// RemoveBonusesWithSource removes the entries of source on every target.
func (d *Device) RemoveBonusesWithSource(ctx context.Context, id, source string) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	return d.engine.RemoveBonusesWithSource(ctx, id, source)
}

// ClearBonuses drops every bonus of entity id.
func (d *Device) ClearBonuses(ctx context.Context, id string) errno.Code {
	if code := d.Guard(); code != errno.SUCCESS {
		return code
	}
	return d.engine.Clear(ctx, id)
}

// CalculateTotal returns the stacked total of target.
func (d *Device) CalculateTotal(ctx context.Context, id, target string) errno.Result[int] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[int](code)
	}
	return d.engine.CalculateTotal(ctx, id, target)
}

// GetBreakdown explains the total of target.
func (d *Device) GetBreakdown(ctx context.Context, id, target string) errno.Result[Breakdown] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[Breakdown](code)
	}
	return d.engine.GetBreakdown(ctx, id, target)
}

// Totals returns the total of every target of entity id.
func (d *Device) Totals(ctx context.Context, id string) errno.Result[map[string]int] {
	if code := d.Guard(); code != errno.SUCCESS {
		return errno.Fail[map[string]int](code)
	}
	return errno.Map(d.engine.Ledger(ctx, id), func(l Ledger) map[string]int { return l.Totals() })
}

func (d *Device) readRequests(context.Context, *capability.File, capability.Params) errno.Result[any] {
	return errno.Ok[any](map[string]uint32{
		"add":           IoctlAdd,
		"remove":        IoctlRemove,
		"remove_source": IoctlRemoveSource,
		"total":         IoctlTotal,
		"breakdown":     IoctlBreakdown,
	})
}

func (d *Device) readTotals(ctx context.Context, _ *capability.File, p capability.Params) errno.Result[any] {
	return capability.AnyResult(d.Totals(ctx, p["entity"]))
}

func (d *Device) readBreakdown(ctx context.Context, _ *capability.File, p capability.Params) errno.Result[any] {
	return capability.AnyResult(d.GetBreakdown(ctx, p["entity"], p["target"]))
}

func (d *Device) ioctlAdd(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[AddArgs](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	v := a.Value
	return capability.CodeResult(d.AddBonus(ctx, v.Entity, v.Target, v.Value, v.Type, v.Source))
}

func (d *Device) ioctlRemove(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[RemoveArgs](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.CodeResult(d.RemoveBonus(ctx, a.Value.Entity, a.Value.Target, a.Value.Source))
}

func (d *Device) ioctlRemoveSource(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[RemoveArgs](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.CodeResult(d.RemoveBonusesWithSource(ctx, a.Value.Entity, a.Value.Source))
}

func (d *Device) ioctlTotal(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[TargetArgs](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.AnyResult(d.CalculateTotal(ctx, a.Value.Entity, a.Value.Target))
}

func (d *Device) ioctlBreakdown(ctx context.Context, _ *capability.File, arg any) errno.Result[any] {
	a := capability.DecodeArg[TargetArgs](arg)
	if !a.OK() {
		return errno.Fail[any](a.Code)
	}
	return capability.AnyResult(d.GetBreakdown(ctx, a.Value.Entity, a.Value.Target))
}

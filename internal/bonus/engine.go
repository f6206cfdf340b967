package bonus

import (
	"context"

	"charfs/internal/entity"
	"charfs/internal/errno"
)

// Property is the entity property holding the ledger.
const Property = "bonuses"

// Engine reads and updates ledgers stored on entities.
type Engine struct {
	store *entity.Store
}

// NewEngine returns an engine over store.
func NewEngine(store *entity.Store) *Engine {
	return &Engine{store: store}
}

// LedgerOf decodes the ledger stored on e. A missing ledger is empty.
func LedgerOf(e entity.Entity) Ledger {
	l, ok := entity.Property[Ledger](e, Property)
	if !ok {
		return Ledger{}
	}
	return l
}

// Ledger loads the ledger of entity id.
func (g *Engine) Ledger(ctx context.Context, id string) errno.Result[Ledger] {
	e := g.store.Get(ctx, id)
	if !e.OK() {
		return errno.Fail[Ledger](e.Code)
	}
	return errno.Ok(LedgerOf(e.Value))
}

// Modify runs fn on the ledger of entity id inside the entity transaction.
func (g *Engine) Modify(ctx context.Context, id string, fn func(*Ledger) errno.Code) errno.Code {
	return g.store.Update(ctx, id, func(e *entity.Entity) errno.Code {
		l := LedgerOf(*e)
		if code := fn(&l); code != errno.SUCCESS {
			return code
		}
		e.SetProperty(Property, l)
		return errno.SUCCESS
	}).Code
}

// AddBonus applies a bonus of value and type from source to target.
func (g *Engine) AddBonus(ctx context.Context, id, target string, value int, typ, source string) errno.Code {
	if target == "" || source == "" {
		return errno.EINVAL
	}
	return g.Modify(ctx, id, func(l *Ledger) errno.Code {
		l.Add(target, value, typ, source)
		return errno.SUCCESS
	})
}

// RemoveBonus removes the entries of source on target.
func (g *Engine) RemoveBonus(ctx context.Context, id, target, source string) errno.Code {
	return g.Modify(ctx, id, func(l *Ledger) errno.Code {
		l.Remove(target, source)
		return errno.SUCCESS
	})
}

// RemoveBonusesWithSource removes the entries of source on every target.
func (g *Engine) RemoveBonusesWithSource(ctx context.Context, id, source string) errno.Code {
	return g.Modify(ctx, id, func(l *Ledger) errno.Code {
		l.RemoveSource(source)
		return errno.SUCCESS
	})
}

// Clear drops every entry on every target. The sequence counter is kept.
func (g *Engine) Clear(ctx context.Context, id string) errno.Code {
	return g.Modify(ctx, id, func(l *Ledger) errno.Code {
		l.Targets = nil
		return errno.SUCCESS
	})
}

// GetBreakdown explains the total of target.
func (g *Engine) GetBreakdown(ctx context.Context, id, target string) errno.Result[Breakdown] {
	l := g.Ledger(ctx, id)
	if !l.OK() {
		return errno.Fail[Breakdown](l.Code)
	}
	return errno.Ok(l.Value.Breakdown(target))
}

// CalculateTotal returns the stacked total of target.
func (g *Engine) CalculateTotal(ctx context.Context, id, target string) errno.Result[int] {
	return errno.Map(g.GetBreakdown(ctx, id, target), func(b Breakdown) int { return b.Total })
}

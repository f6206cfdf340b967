// Package bonus aggregates typed bonuses per entity and target. Bonuses of
// stacking types add up; for every other type only the strongest entry
// counts.
package bonus

import (
	"sort"
	"strings"
)

// Untyped is the type given to bonuses applied without one.
const Untyped = "untyped"

// stackingTypes add up regardless of how many apply.
var stackingTypes = map[string]bool{
	"dodge":        true,
	"circumstance": true,
	Untyped:        true,
	"condition":    true,
}

// NormalizeType lower-cases t and maps the empty type to Untyped.
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return Untyped
	}
	return t
}

// Stacks reports whether bonuses of type t add up.
func Stacks(t string) bool {
	return stackingTypes[NormalizeType(t)]
}

// Bonus is one applied modifier.
type Bonus struct {
	Source string `json:"source"`
	Type   string `json:"type"`
	Value  int    `json:"value"`
	Seq    int64  `json:"seq"`
}

// Ledger holds every bonus applied to one entity, keyed by target.
type Ledger struct {
	Seq     int64              `json:"seq"`
	Targets map[string][]Bonus `json:"targets"`
}

// Add applies a bonus. An entry with the same source and type on target is
// replaced; otherwise the bonus is appended.
func (l *Ledger) Add(target string, value int, typ, source string) {
	if l.Targets == nil {
		l.Targets = make(map[string][]Bonus)
	}
	l.Seq++
	b := Bonus{Source: source, Type: NormalizeType(typ), Value: value, Seq: l.Seq}

	entries := l.Targets[target]
	for i := range entries {
		if entries[i].Source == source && entries[i].Type == b.Type {
			entries[i] = b
			return
		}
	}
	l.Targets[target] = append(entries, b)
}

// Remove drops every entry of source on target and returns how many went.
func (l *Ledger) Remove(target, source string) int {
	entries, ok := l.Targets[target]
	if !ok {
		return 0
	}
	kept := entries[:0]
	for _, b := range entries {
		if b.Source != source {
			kept = append(kept, b)
		}
	}
	removed := len(entries) - len(kept)
	if len(kept) == 0 {
		delete(l.Targets, target)
	} else {
		l.Targets[target] = kept
	}
	return removed
}

// RemoveSource drops every entry of source on every target.
func (l *Ledger) RemoveSource(source string) int {
	removed := 0
	for _, target := range l.TargetNames() {
		removed += l.Remove(target, source)
	}
	return removed
}

// TargetNames lists targets with at least one entry, sorted.
func (l *Ledger) TargetNames() []string {
	out := make([]string, 0, len(l.Targets))
	for t := range l.Targets {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Component is one entry of a breakdown.
type Component struct {
	Source     string `json:"source"`
	Type       string `json:"type"`
	Value      int    `json:"value"`
	Seq        int64  `json:"seq"`
	Suppressed bool   `json:"suppressed"`
}

// Breakdown explains a target's total. Total is the sum of the components
// that are not suppressed.
type Breakdown struct {
	Target     string      `json:"target"`
	Total      int         `json:"total"`
	Components []Component `json:"components"`
}

// Breakdown applies the stacking rules to target.
func (l *Ledger) Breakdown(target string) Breakdown {
	entries := append([]Bonus(nil), l.Targets[target]...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	// For each non-stacking type, the winning entry has the largest absolute
	// value, the latest application breaking ties. Entries with equal seqs
	// keep ledger order, so the later one wins.
	best := make(map[string]int)
	for i, b := range entries {
		if Stacks(b.Type) {
			continue
		}
		w, ok := best[b.Type]
		if !ok || abs(b.Value) >= abs(entries[w].Value) {
			best[b.Type] = i
		}
	}

	bd := Breakdown{Target: target, Components: make([]Component, 0, len(entries))}
	for i, b := range entries {
		c := Component{Source: b.Source, Type: b.Type, Value: b.Value, Seq: b.Seq}
		if !Stacks(b.Type) && best[b.Type] != i {
			c.Suppressed = true
		}
		if !c.Suppressed {
			bd.Total += b.Value
		}
		bd.Components = append(bd.Components, c)
	}
	return bd
}

// Total is Breakdown(target).Total.
func (l *Ledger) Total(target string) int {
	return l.Breakdown(target).Total
}

// Totals returns the total of every target.
func (l *Ledger) Totals() map[string]int {
	out := make(map[string]int, len(l.Targets))
	for t := range l.Targets {
		out[t] = l.Total(t)
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

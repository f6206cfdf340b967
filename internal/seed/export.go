package seed

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"charfs/internal/bonus"
	"charfs/internal/devices/ability"
	"charfs/internal/devices/character"
	"charfs/internal/devices/condition"
	"charfs/internal/devices/skill"
	"charfs/internal/entity"
)

// Export renders every stored entity as a seed document. Characters are
// rebuilt from their device properties; the bonuses conditions own are left
// out because applying the condition recreates them. Loading the output
// reproduces the stored state apart from ids assigned at creation.
func Export(ctx context.Context, store *entity.Store) ([]byte, error) {
	all := store.List(ctx, "")
	if !all.OK() {
		return nil, fmt.Errorf("(seed) failed to list entities: %w", all.Code.Err("readdir", entity.Root))
	}

	out := make(map[string]any)
	var characters []Character
	for _, e := range all.Value {
		if e.Type == character.Type {
			characters = append(characters, exportCharacter(e))
			continue
		}
		typ := e.Type
		if typ == "" || skippedKeys[typ] || typ == CharactersKey {
			logger.Warn("Not exporting %s: type %q cannot be a top-level key", e.ID, e.Type)
			continue
		}
		rows, _ := out[typ].([]map[string]any)
		out[typ] = append(rows, exportRecord(e))
	}
	if len(characters) > 0 {
		out[CharactersKey] = characters
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("(seed) failed to encode document: %w", err)
	}
	logger.Debug("Exported %d entities", len(all.Value))
	return data, nil
}

func exportRecord(e entity.Entity) map[string]any {
	row := make(map[string]any, len(e.Properties)+2)
	for k, v := range e.Properties {
		row[k] = v
	}
	row["id"] = e.ID
	if e.Name != "" {
		row["name"] = e.Name
	}
	return row
}

func exportCharacter(e entity.Entity) Character {
	c := Character{ID: e.ID, Name: e.Name}

	if hp, ok := entity.Property[character.HP](e, character.Property); ok {
		c.CurrentHP, c.MaxHP, c.TempHP = hp.Current, hp.Max, hp.Temp
	}
	if scores, ok := entity.Property[map[string]int](e, ability.Property); ok {
		c.Abilities = scores
	}
	if skills, ok := entity.Property[map[string]skill.Entry](e, skill.Property); ok {
		names := make([]string, 0, len(skills))
		for name := range skills {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := skills[name]
			if s.Ranks > 0 {
				if c.SkillRanks == nil {
					c.SkillRanks = make(map[string]int)
				}
				c.SkillRanks[name] = s.Ranks
			}
			if s.ClassSkill {
				c.ClassSkills = append(c.ClassSkills, name)
			}
		}
	}
	if active, ok := entity.Property[[]string](e, condition.Property); ok {
		c.Conditions = active
	}

	ledger := bonus.LedgerOf(e)
	var bonuses []bonus.Bonus
	targets := make(map[int64]string)
	for _, target := range ledger.TargetNames() {
		for _, b := range ledger.Targets[target] {
			if strings.HasPrefix(b.Source, condition.Source("")) {
				continue
			}
			bonuses = append(bonuses, b)
			targets[b.Seq] = target
		}
	}
	// Application order decides ties between equal bonuses.
	sort.Slice(bonuses, func(i, j int) bool { return bonuses[i].Seq < bonuses[j].Seq })
	for _, b := range bonuses {
		c.Bonuses = append(c.Bonuses, Bonus{Target: targets[b.Seq], Value: b.Value, Type: b.Type, Source: b.Source})
	}
	return c
}

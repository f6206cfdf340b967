// Package seed loads YAML character data into the entity store and the
// domain devices, and exports stored entities back into the same format.
//
// A document holds a "characters" list plus any number of other top-level
// lists. Characters go through the typed device methods; every other list
// becomes generic entities typed by the list's key.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"charfs/internal/devices"
	"charfs/internal/devices/character"
	"charfs/internal/entity"
	"charfs/internal/errno"
	"charfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("seed")
)

// CharactersKey is the top-level list holding characters.
const CharactersKey = "characters"

// skippedKeys are top-level keys that never hold records.
var skippedKeys = map[string]bool{
	"metadata": true,
	"user_id":  true,
}

// Bonus is one bonus applied to a seeded character.
type Bonus struct {
	Target string `yaml:"target"`
	Value  int    `yaml:"value"`
	Type   string `yaml:"type,omitempty"`
	Source string `yaml:"source"`
}

// Character is the seed form of a character.
type Character struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	CurrentHP   int            `yaml:"current_hp"`
	MaxHP       int            `yaml:"max_hp"`
	TempHP      int            `yaml:"temp_hp,omitempty"`
	Abilities   map[string]int `yaml:"abilities,omitempty"`
	SkillRanks  map[string]int `yaml:"skill_ranks,omitempty"`
	ClassSkills []string       `yaml:"class_skills,omitempty"`
	Conditions  []string       `yaml:"conditions,omitempty"`
	Bonuses     []Bonus        `yaml:"bonuses,omitempty"`
}

// Document is a parsed seed file.
type Document struct {
	Characters []Character
	Records    map[string][]map[string]any
}

// Parse decodes a seed document. Top-level values that are not lists of
// mappings are skipped with a warning.
func Parse(data []byte) (Document, error) {
	var typed struct {
		Characters []Character `yaml:"characters"`
	}
	if err := yaml.Unmarshal(data, &typed); err != nil {
		return Document{}, fmt.Errorf("(seed) failed to parse characters: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("(seed) failed to parse document: %w", err)
	}

	doc := Document{Characters: typed.Characters, Records: make(map[string][]map[string]any)}
	for key, value := range raw {
		if key == CharactersKey {
			continue
		}
		if skippedKeys[key] {
			logger.Debug("Skipping %s", key)
			continue
		}
		rows, ok := value.([]any)
		if !ok {
			logger.Warn("Skipping non-list data in %s", key)
			continue
		}
		for i, row := range rows {
			m, ok := row.(map[string]any)
			if !ok {
				logger.Warn("Skipping non-mapping row %d in %s", i+1, key)
				continue
			}
			doc.Records[key] = append(doc.Records[key], m)
		}
	}
	return doc, nil
}

// ParseFile reads and decodes the seed document at path.
func ParseFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("(seed) failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Report summarises a load.
type Report struct {
	Characters int            `json:"characters"`
	Records    map[string]int `json:"records"`
	Existing   []string       `json:"existing,omitempty"`
	DryRun     bool           `json:"dry_run"`
}

// Loader writes documents through the entity store and the devices.
type Loader struct {
	store *entity.Store
	set   *devices.Set
}

// NewLoader returns a Loader using store and the mounted devices of set.
func NewLoader(store *entity.Store, set *devices.Set) *Loader {
	return &Loader{store: store, set: set}
}

// Load applies doc. Records that already exist are updated in place, so
// loading the same document twice converges. With dryRun nothing is written.
func (l *Loader) Load(ctx context.Context, doc Document, dryRun bool) (Report, error) {
	report := Report{Records: make(map[string]int), DryRun: dryRun}
	logger.Info("Loading %d characters and %d record lists (dry run: %t)", len(doc.Characters), len(doc.Records), dryRun)

	for _, c := range doc.Characters {
		if dryRun {
			logger.Info("Would load character %s (%s)", c.ID, c.Name)
			report.Characters++
			continue
		}
		existed, err := l.loadCharacter(ctx, c)
		if err != nil {
			return report, err
		}
		if existed {
			report.Existing = append(report.Existing, c.ID)
		}
		report.Characters++
	}

	types := make([]string, 0, len(doc.Records))
	for typ := range doc.Records {
		types = append(types, typ)
	}
	sort.Strings(types)

	for _, typ := range types {
		rows := doc.Records[typ]
		logger.Info("Processing %s with %d rows", typ, len(rows))
		for idx, row := range rows {
			e := recordEntity(typ, row)
			if dryRun {
				logger.Debug("Would load %s row %d (%s)", typ, idx+1, e.ID)
				report.Records[typ]++
				continue
			}
			existed, err := l.upsert(ctx, e)
			if err != nil {
				return report, fmt.Errorf("(seed) %s row %d: %w", typ, idx+1, err)
			}
			if existed {
				report.Existing = append(report.Existing, e.ID)
			}
			report.Records[typ]++
		}
	}

	logger.Info("Loaded %d characters", report.Characters)
	return report, nil
}

type step struct {
	op  string
	run func() errno.Code
}

func (l *Loader) loadCharacter(ctx context.Context, c Character) (bool, error) {
	if c.ID == "" {
		return false, fmt.Errorf("(seed) character %q has no id", c.Name)
	}
	existed, err := l.upsert(ctx, entity.Entity{ID: c.ID, Type: character.Type, Name: c.Name})
	if err != nil {
		return false, fmt.Errorf("(seed) character %s: %w", c.ID, err)
	}

	path := entity.Path(c.ID)
	var steps []step
	if existed {
		// The document replaces what an earlier load applied.
		steps = append(steps,
			step{"condition", func() errno.Code { return l.set.Condition.Clear(ctx, c.ID) }},
			step{"bonus", func() errno.Code { return l.set.Bonus.ClearBonuses(ctx, c.ID) }},
		)
	}
	steps = append(steps,
		step{"abilities", func() errno.Code { return l.set.Ability.Initialize(ctx, c.ID, c.Abilities) }},
		step{"skills", func() errno.Code { return l.set.Skill.Initialize(ctx, c.ID, c.SkillRanks, c.ClassSkills) }},
		step{"hp", func() errno.Code {
			return l.set.Character.SetHP(ctx, c.ID, character.HP{Current: c.CurrentHP, Max: c.MaxHP, Temp: c.TempHP})
		}},
	)
	for _, b := range c.Bonuses {
		b := b
		steps = append(steps, step{"bonus", func() errno.Code {
			return l.set.Bonus.AddBonus(ctx, c.ID, b.Target, b.Value, b.Type, b.Source)
		}})
	}
	for _, name := range c.Conditions {
		name := name
		steps = append(steps, step{"condition", func() errno.Code { return l.set.Condition.Apply(ctx, c.ID, name) }})
	}

	for _, s := range steps {
		if code := s.run(); code != errno.SUCCESS {
			return existed, fmt.Errorf("(seed) character %s %s: %w", c.ID, s.op, code.Err(s.op, path))
		}
	}
	logger.Debug("Loaded character %s", c.ID)
	return existed, nil
}

// upsert creates e, or replaces the name and properties of an existing
// entity with the same id.
func (l *Loader) upsert(ctx context.Context, e entity.Entity) (bool, error) {
	r := l.store.Create(ctx, e, "")
	if r.OK() {
		return false, nil
	}
	if r.Code != errno.EEXIST {
		return false, r.Code.Err("create", entity.Path(e.ID))
	}

	u := l.store.Update(ctx, e.ID, func(cur *entity.Entity) errno.Code {
		cur.Name = e.Name
		cur.Type = e.Type
		for k, v := range e.Properties {
			cur.SetProperty(k, v)
		}
		return errno.SUCCESS
	})
	if !u.OK() {
		return true, u.Code.Err("update", entity.Path(e.ID))
	}
	logger.Debug("Updated existing entity %s", e.ID)
	return true, nil
}

// recordEntity maps a generic row to an entity of type typ. "id" and "name"
// become entity fields; every other column becomes a property. A row without
// an id is keyed by its type and content.
func recordEntity(typ string, row map[string]any) entity.Entity {
	e := entity.Entity{Type: typ, Properties: make(map[string]any, len(row))}
	for k, v := range row {
		switch k {
		case "id":
			if v != nil {
				e.ID = fmt.Sprint(v)
			}
		case "name":
			if v != nil {
				e.Name = fmt.Sprint(v)
			}
		default:
			e.Properties[k] = v
		}
	}
	if e.ID == "" {
		e.ID = contentID(typ, row)
	}
	return e
}

// contentID derives a stable id from typ and row. fmt prints maps with
// sorted keys, so equal rows give equal ids.
func contentID(typ string, row map[string]any) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(typ+"\x00"+fmt.Sprint(row))).String()
}

// IsInvalid reports whether err was caused by invalid seed content rather than
// a storage failure.
func IsInvalid(err error) bool {
	return errors.Is(err, errno.ErrInvalid)
}

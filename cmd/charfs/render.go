package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"charfs/internal/bonus"
	"charfs/internal/devices/ability"
	"charfs/internal/devices/character"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	suppressedStyle = lipgloss.NewStyle().
			Strikethrough(true).
			Foreground(lipgloss.Color("#626262"))

	warnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF5F87"))

	columnStyle = lipgloss.NewStyle().PaddingRight(3)
)

// renderSheet lays a character sheet out as bordered columns.
func renderSheet(s character.Sheet) string {
	title := titleStyle.Render(fmt.Sprintf("%s (%s)", s.Name, s.ID))

	hp := fmt.Sprintf("%s %d/%d", labelStyle.Render("HP"), s.HP.Current, s.HP.Max)
	if s.HP.Temp > 0 {
		hp += fmt.Sprintf(" +%d temp", s.HP.Temp)
	}

	var abilities strings.Builder
	abilities.WriteString(headerStyle.Render("Abilities"))
	for _, name := range ability.Names {
		score, ok := s.Abilities[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&abilities, "\n%-13s %2d (%+d)", name, score.Score, score.Modifier)
	}

	var skills strings.Builder
	skills.WriteString(headerStyle.Render("Skills"))
	for _, name := range sortedKeys(s.Skills) {
		if s.Skills[name] == 0 {
			continue
		}
		fmt.Fprintf(&skills, "\n%-22s %+d", name, s.Skills[name])
	}

	columns := lipgloss.JoinHorizontal(lipgloss.Top,
		columnStyle.Render(abilities.String()),
		columnStyle.Render(skills.String()),
	)

	sections := []string{title, hp, "", columns}
	if len(s.Conditions) > 0 {
		sections = append(sections, "", fmt.Sprintf("%s %s",
			headerStyle.Render("Conditions"), warnStyle.Render(strings.Join(s.Conditions, ", "))))
	}
	if len(s.Bonuses) > 0 {
		var b strings.Builder
		b.WriteString(headerStyle.Render("Bonuses"))
		for _, target := range sortedKeys(s.Bonuses) {
			fmt.Fprintf(&b, "\n%-22s %+d", target, s.Bonuses[target])
		}
		sections = append(sections, "", b.String())
	}

	return borderStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

// renderBreakdown lists the components of a bonus total. Suppressed
// components are struck through.
func renderBreakdown(bd bonus.Breakdown) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %+d\n", headerStyle.Render(bd.Target), bd.Total)
	for _, c := range bd.Components {
		line := fmt.Sprintf("  %+3d %-14s %s", c.Value, c.Type, c.Source)
		if c.Suppressed {
			line = suppressedStyle.Render(line) + labelStyle.Render(" (suppressed)")
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

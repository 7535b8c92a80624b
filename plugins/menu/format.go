package menu

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	lunchCall   = ":fork_and_knife: Hey Y'@/all, it's lunch time! :clock12:\n"
	badDay      = "Please specify a correct day ('today', 'tomorrow' or 'monday' to 'friday')."
	unavailable = "Menu not available."
)

var emoji = map[string]string{
	"Vegetarian": ":herb:",
	"Pasta":      ":spaghetti:",
	"Grill":      ":meat_on_bone:",
	"Pizza":      ":pizza:",
	"Speciality": ":ok_hand:",
	"La Saison":  ":fish: / :pig: / :cow:",
	"Le Marché":  ":man_with_gua_pi_mao:",
}

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
}

// resolveDay maps a day word to a calendar date relative to now. Weekday
// names mean the next such day, today included.
func resolveDay(word string, now time.Time) (time.Time, bool) {
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch word {
	case "today":
		return d, true
	case "tomorrow":
		return d.AddDate(0, 0, 1), true
	}
	wd, ok := weekdays[word]
	if !ok {
		return time.Time{}, false
	}
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, 1)
	}
	return d, true
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// formatMenu renders items sorted and grouped by type.
func formatMenu(items []Item, day, restaurant string) string {
	if len(items) == 0 {
		return unavailable
	}
	sorted := append([]Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Type < sorted[j].Type })

	var lines []string
	prev := ""
	for i, it := range sorted {
		if i == 0 || it.Type != prev {
			lines = append(lines, fmt.Sprintf("* %s %s", it.Type, emoji[it.Type]))
			prev = it.Type
		}
		if it.Price != nil {
			lines = append(lines, fmt.Sprintf("  * %s (%.2f CHF)", it.Name, *it.Price))
		} else {
			lines = append(lines, "  * "+it.Name)
		}
	}
	header := ""
	if day != "" {
		header = fmt.Sprintf("%s's %s selection:\n", titleCase(day), restaurant)
	}
	return header + strings.Join(lines, "\n")
}

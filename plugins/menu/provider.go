package menu

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
)

type Item struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Price *float64 `json:"price,omitempty"`
}

// Provider returns the menu served on the given calendar day.
type Provider interface {
	Menu(ctx context.Context, day time.Time) ([]Item, error)
}

// ConfigProvider serves menus from plugin config: a weekly rotation keyed by
// lowercase weekday, with per-date overrides ("2006-01-02").
type ConfigProvider struct {
	mu    sync.RWMutex
	week  map[string][]Item
	dates map[string][]Item
}

func (c *ConfigProvider) set(week, dates map[string][]Item) {
	c.mu.Lock()
	c.week, c.dates = week, dates
	c.mu.Unlock()
}

func (c *ConfigProvider) Menu(_ context.Context, day time.Time) ([]Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if items, ok := c.dates[day.Format(time.DateOnly)]; ok {
		return washAll(items), nil
	}
	return washAll(c.week[strings.ToLower(day.Weekday().String())]), nil
}

var spaces = regexp.MustCompile(`\s\s+`)

func washAll(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		out = append(out, wash(it))
	}
	return out
}

// wash collapses whitespace and folds the restaurant's type labels into
// the short names used for grouping.
func wash(it Item) Item {
	it.Name = spaces.ReplaceAllString(strings.TrimSpace(it.Name), " ")
	t := strings.TrimSpace(it.Type)
	lt := strings.ToLower(t)
	switch {
	case strings.HasPrefix(lt, "le grill"):
		t = "Grill"
	case strings.HasPrefix(lt, "végétarien"):
		t = "Vegetarian"
	case strings.HasPrefix(lt, "pâte du jour"):
		t = "Pasta"
	case strings.HasPrefix(lt, "la spécialité"):
		t = "Speciality"
	case strings.HasPrefix(lt, "pizza"):
		t = "Pizza"
	}
	it.Type = t
	if it.Price != nil && *it.Price == 0 {
		it.Price = nil
	}
	return it
}

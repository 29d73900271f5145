// Package candidates turns heterogeneous result rows into canonical wine
// references that later turns can point at by position.
package candidates

import (
	"context"
	"strings"

	"github.com/kalambet/vinochat/internal/catalog"
)

const (
	// MaxItems caps a candidate list.
	MaxItems = 30
	// MaxScan caps how many rows Extract looks at.
	MaxScan = 200
)

// Item is a canonical reference to one catalog card. ID is its identity.
type Item struct {
	ID       string `json:"wine_id"`
	Name     string `json:"wine_name,omitempty"`
	Producer string `json:"producer,omitempty"`
	Year     string `json:"harvest_year,omitempty"`
	Region   string `json:"region,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Lookup is the part of the catalog the normalizer needs.
type Lookup interface {
	ResolveIDByName(ctx context.Context, name, producer, year string) (string, error)
	Brief(ctx context.Context, id string) (catalog.Brief, error)
}

// Row renders the item back into a result row.
func (it Item) Row() catalog.Row {
	row := catalog.Row{"wine_id": it.ID}
	for k, v := range map[string]string{
		"wine_name":    it.Name,
		"producer":     it.Producer,
		"harvest_year": it.Year,
		"region":       it.Region,
		"url":          it.URL,
	} {
		if v != "" {
			row[k] = v
		}
	}
	return row
}

func field(row catalog.Row, keys ...string) string {
	for _, k := range keys {
		if v := catalog.Text(row[k]); v != "" {
			return v
		}
	}
	return ""
}

// Normalize reduces row to an Item. The id comes from wine_id or card_key,
// then from url, then from a lookup by name, producer and year. Rows
// without an id are dropped. A brief record, when found, supplies the
// canonical id and fills missing display fields.
func Normalize(ctx context.Context, row catalog.Row, lookup Lookup) (Item, bool) {
	it := Item{
		ID:       field(row, "wine_id", "card_key"),
		Name:     field(row, "wine_name", "title"),
		Producer: field(row, "producer"),
		Year:     field(row, "harvest_year"),
		Region:   field(row, "region"),
		URL:      field(row, "url"),
	}
	if it.ID == "" {
		it.ID = it.URL
	}
	if it.ID == "" && it.Name != "" && lookup != nil {
		if id, err := lookup.ResolveIDByName(ctx, it.Name, it.Producer, it.Year); err == nil {
			it.ID = strings.TrimSpace(id)
		}
	}
	if it.ID == "" {
		return Item{}, false
	}
	if lookup == nil {
		return it, true
	}

	b, err := lookup.Brief(ctx, it.ID)
	if err != nil {
		return it, true
	}
	if b.CardKey != "" {
		it.ID = b.CardKey
	}
	fill(&it.Name, b.Name)
	fill(&it.Producer, b.Producer)
	fill(&it.Year, b.Year)
	fill(&it.Region, b.Region)
	fill(&it.URL, b.URL)
	return it, true
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// Extract normalizes up to MaxScan rows and returns at most MaxItems items
// in input order, keeping the first occurrence of each id.
func Extract(ctx context.Context, rows []catalog.Row, lookup Lookup) []Item {
	if len(rows) > MaxScan {
		rows = rows[:MaxScan]
	}
	var out []Item
	seen := make(map[string]bool)
	for _, row := range rows {
		it, ok := Normalize(ctx, row, lookup)
		if !ok || seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
		if len(out) >= MaxItems {
			break
		}
	}
	return out
}

// Label renders "name, producer, year" or a placeholder when all are empty.
func Label(it Item) string {
	var parts []string
	for _, p := range []string{it.Name, it.Producer, it.Year} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "Без названия"
	}
	return strings.Join(parts, ", ")
}

// Cap trims items to MaxItems.
func Cap(items []Item) []Item {
	if len(items) > MaxItems {
		return items[:MaxItems]
	}
	return items
}

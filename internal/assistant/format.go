package assistant

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/vinochat/internal/candidates"
	"github.com/kalambet/vinochat/internal/catalog"
	"github.com/kalambet/vinochat/internal/pending"
	"github.com/kalambet/vinochat/internal/storage"
)

var prettyKeys = map[string]string{
	"wine_name":     "Вино",
	"producer":      "Производитель",
	"harvest_year":  "Урожай",
	"rating_points": "Рейтинг",
	"rating_year":   "Год оценки",
	"region":        "Регион",
	"url":           "Ссылка",
	"wine_color":    "Цвет",
	"sugar_style":   "Сахарность",
	"alcohol_pct":   "Алкоголь (%)",
	"price_quality": "Цена/качество",
}

// Result rows are maps, so listing columns follow this order first and
// then the remaining keys alphabetically.
var columnOrder = []string{
	"card_key", "wine_id", "wine_name", "title", "producer", "harvest_year", "region",
	"wine_color", "sugar_style", "alcohol_pct", "rating_points", "rating_year",
	"rating_status", "price_quality",
}

func prettyKey(name string) string {
	if label, ok := prettyKeys[name]; ok {
		return label
	}
	return name
}

func orderedKeys(row catalog.Row) []string {
	rank := make(map[string]int, len(columnOrder))
	for i, k := range columnOrder {
		rank[k] = i
	}
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := rank[keys[i]]
		rj, jok := rank[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return keys[i] < keys[j]
	})
	return keys
}

// FormatFullList enumerates every row without abbreviation. URLs are left out.
func FormatFullList(rows []catalog.Row) string {
	if len(rows) == 0 {
		return "Ничего не найдено."
	}
	lines := []string{fmt.Sprintf("Найдено записей: %d. Полный список:", len(rows))}
	for i, row := range rows {
		var parts []string
		for _, k := range orderedKeys(row) {
			if strings.EqualFold(k, "url") {
				continue
			}
			if text := catalog.Text(row[k]); text != "" {
				parts = append(parts, prettyKey(k)+": "+text)
			}
		}
		if len(parts) == 0 {
			parts = []string{"(пустая строка)"}
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, strings.Join(parts, " | ")))
	}
	return strings.Join(lines, "\n")
}

func candidatesPrompt(items []candidates.Item, kind pending.Kind, content string) string {
	action := "лайка"
	if kind == pending.Note {
		action = "заметки"
	}
	lines := []string{fmt.Sprintf("Найдено несколько вариантов для %s. Выберите номер позиции:", action)}
	for i, it := range items {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, candidates.Label(it)))
	}
	if kind == pending.Note && content != "" {
		lines = append(lines, "Текст заметки уже сохранен в контексте и будет применен после выбора позиции.")
	}
	lines = append(lines, "Ответьте числом, например: 1")
	return strings.Join(lines, "\n")
}

func noteContentPrompt(selected []candidates.Item) string {
	var label string
	if len(selected) == 1 {
		label = candidates.Label(selected[0])
	} else {
		var labels []string
		for _, it := range selected[:min(3, len(selected))] {
			labels = append(labels, candidates.Label(it))
		}
		label = strings.Join(labels, ", ")
		if len(selected) > 3 {
			label += fmt.Sprintf(" и ещё %d", len(selected)-3)
		}
	}
	return fmt.Sprintf("Определены вина: %s. Теперь укажите текст заметки в формате:\n"+
		"заметка для выбранного вина: <текст>", label)
}

func savedAnswer(kind pending.Kind, selected []candidates.Item, saved int, content string, errs []string) string {
	if saved == 1 {
		label := candidates.Label(selected[0])
		if kind == pending.Like {
			return fmt.Sprintf("Лайк сохранен для вина: %s.", label)
		}
		return fmt.Sprintf("Заметка сохранена для вина: %s.\nТекст заметки: %s", label, content)
	}

	action := "Заметка сохранена"
	if kind == pending.Like {
		action = "Лайк сохранён"
	}
	lines := []string{fmt.Sprintf("%s для %d вин:", action, saved)}
	for i, it := range selected[:min(5, len(selected))] {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, candidates.Label(it)))
	}
	if len(selected) > 5 {
		lines = append(lines, fmt.Sprintf("... и ещё %d", len(selected)-5))
	}
	if kind == pending.Note {
		lines = append(lines, "Текст заметки: "+content)
	}
	if len(errs) > 0 {
		lines = append(lines, "Часть записей не сохранена: "+strings.Join(errs[:min(2, len(errs))], "; "))
	}
	return strings.Join(lines, "\n")
}

const myRecordsLimit = 30

func (a *Assistant) formatMyRecords(ctx context.Context, records []storage.Record, user, recordType string) string {
	if len(records) == 0 {
		switch recordType {
		case storage.TypeLike:
			return "У вас пока нет лайков."
		case storage.TypeNote:
			return "У вас пока нет заметок."
		}
		return "У вас пока нет публичных записей (лайков/заметок)."
	}

	typeLabel := "записей"
	switch recordType {
	case storage.TypeLike:
		typeLabel = "лайков"
	case storage.TypeNote:
		typeLabel = "заметок"
	}
	lines := []string{fmt.Sprintf("Найдено %d ваших %s (пользователь: %s).", len(records), typeLabel, user)}

	briefs := make(map[string]catalog.Brief)
	for i, rec := range records[:min(myRecordsLimit, len(records))] {
		b, seen := briefs[rec.WineID]
		if !seen {
			b, _ = a.catalog.Brief(ctx, rec.WineID)
			briefs[rec.WineID] = b
		}
		it := candidates.Item{Name: b.Name, Producer: b.Producer, Year: b.Year}
		if it.Name == "" {
			it.Name = "wine_id=" + rec.WineID
		}
		kind := "заметка"
		if rec.RecordType == storage.TypeLike {
			kind = "лайк"
		}
		line := fmt.Sprintf("%d. [%s] %s", i+1, kind, candidates.Label(it))
		if !rec.CreatedAt.IsZero() {
			line += " | " + rec.CreatedAt.UTC().Format("2006-01-02 15:04:05")
		}
		if rec.RecordType == storage.TypeNote && strings.TrimSpace(rec.Content) != "" {
			line += " | " + strings.TrimSpace(rec.Content)
		}
		lines = append(lines, line)
	}
	if len(records) > myRecordsLimit {
		lines = append(lines, fmt.Sprintf("... и еще %d", len(records)-myRecordsLimit))
	}
	return strings.Join(lines, "\n")
}

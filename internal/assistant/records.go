package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kalambet/vinochat/internal/candidates"
	"github.com/kalambet/vinochat/internal/pending"
	"github.com/kalambet/vinochat/internal/reference"
	"github.com/kalambet/vinochat/internal/storage"
)

const (
	// searchLimit bounds the name lookup offered for disambiguation.
	searchLimit = 7
	// probeSize is a list bound large enough to read positions the user
	// typed when no list or a shorter one is in context.
	probeSize = 100
)

const (
	msgNoListContext = "Не найден контекст списка вин. Сначала запросите список вин, затем укажите номер позиции."
	msgNoPositions   = "Не удалось определить позиции из запроса. Укажите номера явно, например: 1,2 или с 3 по 5."
	msgNameNotFound  = "Не удалось однозначно найти вино по названию. Уточните название или сначала получите список вин."
	msgDuplicates    = "\nПримечание: среди выбранных позиций были дубликаты одной и той же карточки, " +
		"сохранены только уникальные записи."
)

func outOfRange(bad []int, size int) string {
	nums := make([]string, len(bad))
	for i, n := range bad {
		nums[i] = strconv.Itoa(n)
	}
	return fmt.Sprintf("Позиции %s вне диапазона 1..%d. Укажите корректные номера.", strings.Join(nums, ", "), size)
}

// handleContextualRecord resolves a like or note request against the last
// shown candidates, a wine name, or the pending action of the session.
// It declines when no target can be established, so the model gets the turn.
func (a *Assistant) handleContextualRecord(ctx context.Context, t Turn, model string) (string, Meta, bool) {
	meta := newMeta(model)
	p := t.Context.Pending
	hasPending := p.Active()

	said := RecordIntent(t.Text)
	if said == "" && !hasPending {
		return "", meta, false
	}
	if said != "" && !hasPending && !IsExplicitRecordAction(t.Text) {
		return "", meta, false
	}
	kind := said
	if kind == "" {
		kind = p.Kind
	}

	source := t.Context.Candidates
	if hasPending && p.State == pending.AwaitingTarget && len(p.Candidates) > 0 {
		source = p.Candidates
	}

	content := NoteContent(t.Text)
	posText := t.Text
	if kind == pending.Note && content != "" {
		// Digits inside the note text are not positions.
		posText, _, _ = strings.Cut(t.Text, ":")
	}
	if content == "" && hasPending && kind == pending.Note {
		content = p.Content
	}

	q := reference.Normalize(posText)
	isAll := reference.IsAllPhrase(q)
	listRef := reference.HasListReference(q)
	wineRef := WineReference(t.Text)
	positions := reference.Resolve(posText, len(source))
	if len(positions) == 0 && !isAll && wineRef == "" {
		positions = reference.Resolve(posText, probeSize)
	}

	var selected []candidates.Item
	if len(positions) > 0 || listRef || isAll {
		if len(source) == 0 {
			return msgNoListContext, meta, true
		}
		if len(positions) == 0 {
			return msgNoPositions, meta, true
		}
		var bad []int
		for _, n := range positions {
			if n < 1 || n > len(source) {
				bad = append(bad, n)
			}
		}
		if len(bad) > 0 {
			return outOfRange(bad, len(source)), meta, true
		}
		for _, n := range positions {
			if it, ok := candidates.Normalize(ctx, source[n-1].Row(), a.catalog); ok {
				selected = append(selected, it)
			}
		}
	} else {
		if wineRef == "" && said != "" && hasPending {
			wineRef = p.Reference
		}
		if wineRef != "" {
			found := a.searchCandidates(ctx, wineRef)
			switch len(found) {
			case 0:
				return msgNameNotFound, meta, true
			case 1:
				selected = found
			default:
				next := pending.AwaitTarget(kind, content, wineRef, found)
				meta.SetPending = &next
				return candidatesPrompt(next.Candidates, kind, content), meta, true
			}
		}
	}

	if len(selected) == 0 && hasPending {
		selected = p.Selected
	}
	if len(selected) == 0 {
		return "", meta, false
	}

	unique, dups := dedupeItems(selected)
	if kind == pending.Note && content == "" {
		next := pending.AwaitContent(unique)
		meta.SetPending = &next
		return noteContentPrompt(unique), meta, true
	}

	var saved []storage.Record
	var errs []string
	for _, it := range unique {
		text := ""
		if kind == pending.Note {
			text = content
		}
		rec, err := a.records.AddRecord(ctx, t.User, string(kind), text, it.ID)
		if err != nil {
			var rerr *storage.RecordError
			if !errors.As(err, &rerr) {
				slog.Warn("assistant: saving record failed", "wine_id", it.ID, "error", err)
			}
			errs = append(errs, candidates.Label(it)+": "+err.Error())
			continue
		}
		saved = append(saved, rec)
	}

	if len(saved) == 0 {
		return "Не удалось сохранить отметки. " + strings.Join(errs[:min(3, len(errs))], "; "), meta, true
	}

	answer := savedAnswer(kind, unique, len(saved), content, errs)
	if dups > 0 {
		answer += msgDuplicates
	}
	meta.PublicRecordOps = append(meta.PublicRecordOps, RecordOp{
		Op:      "contextual_add_public_record",
		OK:      true,
		Records: saved,
		Errors:  errs,
	})
	meta.ClearPending = true
	return answer, meta, true
}

func dedupeItems(items []candidates.Item) ([]candidates.Item, int) {
	seen := make(map[string]bool, len(items))
	var out []candidates.Item
	dups := 0
	for _, it := range items {
		if seen[it.ID] {
			dups++
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out, dups
}

// searchCandidates finds catalog cards matching a free-text wine name.
func (a *Assistant) searchCandidates(ctx context.Context, ref string) []candidates.Item {
	rows, err := a.catalog.SearchByText(ctx, ref, searchLimit)
	if err != nil {
		slog.Warn("assistant: wine name search failed", "reference", ref, "error", err)
		return nil
	}
	var out []candidates.Item
	seen := make(map[string]bool)
	for _, row := range rows {
		it, ok := candidates.Normalize(ctx, row, a.catalog)
		if !ok || seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out
}

// handleMyRecords lists the caller's own likes and notes.
func (a *Assistant) handleMyRecords(ctx context.Context, t Turn, model string) (string, Meta, bool) {
	meta := newMeta(model)
	user := storage.NormalizeUser(t.User)
	recordType := RecordsFilterType(t.Text)
	records, err := a.records.ListRecords(ctx, storage.Filter{User: user, RecordType: recordType})
	if err != nil {
		slog.Warn("assistant: listing records failed", "user", user, "error", err)
		meta.PublicRecordOps = append(meta.PublicRecordOps, RecordOp{
			Op:    "direct_list_my_records",
			Error: err.Error(),
			User:  user,
		})
		return "Не удалось прочитать ваши записи: " + err.Error(), meta, true
	}
	meta.PublicRecordOps = append(meta.PublicRecordOps, RecordOp{
		Op:         "direct_list_my_records",
		OK:         true,
		Count:      len(records),
		User:       user,
		RecordType: recordType,
	})
	return a.formatMyRecords(ctx, records, user, recordType), meta, true
}

func (a *Assistant) handleCapabilities(_ context.Context, _ Turn, model string) (string, Meta, bool) {
	meta := newMeta(model)
	meta.InfoSource = a.capabilitiesSource
	return a.capabilities, meta, true
}

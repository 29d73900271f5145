// Package catalog is the read-only view over the wine cards table. Every
// free-form query goes through sqlguard before it reaches the database.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"github.com/kalambet/vinochat/internal/sqlguard"
)

// DefaultTable is the catalog table queried when none is configured.
const DefaultTable = "wine_cards_wide"

// ErrNotFound is returned when no catalog card matches.
var ErrNotFound = errors.New("not found")

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var referenceColumns = []string{"wine_color", "sugar_style", "rating_status", "region", "price_quality"}

// Row is one result row keyed by column name. Values are nil, int64,
// float64 or string.
type Row map[string]any

// Brief is the canonical short record of one card.
type Brief struct {
	CardKey  string
	Name     string
	Producer string
	Year     string
	Region   string
	URL      string
}

// Catalog wraps the catalog database opened in read-only mode.
type Catalog struct {
	db    *sql.DB
	path  string
	table string
}

// Open opens the sqlite file at path read-only. The file must exist.
func Open(path, table string) (*Catalog, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("invalid catalog table name %q", table)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving catalog path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("SQLite файл не найден: %s: %w", abs, err)
	}

	dsn := (&url.URL{Scheme: "file", Path: abs, RawQuery: "mode=ro&_pragma=busy_timeout(5000)"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging catalog: %w", err)
	}
	return &Catalog{db: db, path: abs, table: table}, nil
}

// Close closes the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Path returns the absolute path of the catalog file.
func (c *Catalog) Path() string { return c.path }

// Table returns the catalog table name.
func (c *Catalog) Table() string { return c.table }

// Ping checks that the catalog answers a trivial query.
func (c *Catalog) Ping(ctx context.Context) error {
	var one int
	return c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// ExecuteReadOnly validates raw, wraps it with a row cap and runs it.
// The returned string is the statement that was actually executed.
func (c *Catalog) ExecuteReadOnly(ctx context.Context, raw string, maxRows int) (string, []Row, error) {
	safe, err := sqlguard.Build(raw, maxRows)
	if err != nil {
		return "", nil, err
	}
	rows, err := c.query(ctx, safe)
	if err != nil {
		return safe, nil, err
	}
	return safe, rows, nil
}

func (c *Catalog) query(ctx context.Context, q string, args ...any) ([]Row, error) {
	var out []Row
	err := c.each(ctx, q, args, func(r Row) bool {
		out = append(out, r)
		return true
	})
	return out, err
}

// each streams rows to fn until fn returns false.
func (c *Catalog) each(ctx context.Context, q string, args []any, fn func(Row) bool) error {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		if !fn(row) {
			break
		}
	}
	return rows.Err()
}

// Columns lists the catalog table columns in declaration order.
func (c *Catalog) Columns(ctx context.Context) ([]string, error) {
	rows, err := c.query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", c.table))
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	cols := make([]string, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, Text(r["name"]))
	}
	return cols, nil
}

// SchemaString renders the table and its columns for the system prompt.
func (c *Catalog) SchemaString(ctx context.Context) (string, error) {
	cols, err := c.Columns(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Table: %s\nColumns: %s", c.table, strings.Join(cols, ", ")), nil
}

func (c *Catalog) distinct(ctx context.Context, column string) ([]string, error) {
	q := fmt.Sprintf(`SELECT DISTINCT %[1]s FROM %[2]s
		WHERE %[1]s IS NOT NULL AND TRIM(%[1]s) <> ''
		ORDER BY %[1]s`, column, c.table)
	rows, err := c.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("reading distinct %s: %w", column, err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, Text(r[column]))
	}
	return out, nil
}

// ReferenceValues returns the allowed values of the categorical columns and
// the recommendation terms. Recommendations are read from the raw row_json
// and split on ";" because the wide column joins terms that contain commas.
func (c *Catalog) ReferenceValues(ctx context.Context) (map[string][]string, error) {
	refs := make(map[string][]string, len(referenceColumns)+1)
	for _, col := range referenceColumns {
		values, err := c.distinct(ctx, col)
		if err != nil {
			return nil, err
		}
		refs[col] = values
	}

	rows, err := c.query(ctx, fmt.Sprintf("SELECT row_json, recommendations FROM %s", c.table))
	if err != nil {
		return nil, fmt.Errorf("reading recommendations: %w", err)
	}
	terms := make(map[string]struct{})
	for _, r := range rows {
		var raw struct {
			Recommendations any `json:"recommendations"`
		}
		if err := json.Unmarshal([]byte(Text(r["row_json"])), &raw); err == nil {
			if rec := Text(raw.Recommendations); rec != "" {
				for _, item := range strings.Split(rec, ";") {
					if v := strings.TrimSpace(item); v != "" {
						terms[v] = struct{}{}
					}
				}
				continue
			}
		}
		if rec := Text(r["recommendations"]); rec != "" {
			terms[rec] = struct{}{}
		}
	}
	list := make([]string, 0, len(terms))
	for t := range terms {
		list = append(list, t)
	}
	sort.Strings(list)
	refs["recommendations"] = list
	return refs, nil
}

// Exists reports whether a card with the given card_key or url exists.
func (c *Catalog) Exists(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	var one int
	err := c.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s
		WHERE CAST(card_key AS TEXT) = ? OR url = ? LIMIT 1`, c.table), id, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking wine %q: %w", id, err)
	}
	return true, nil
}

const briefColumns = "card_key, wine_name, producer, harvest_year, region, rating_year, rating_points, url"

// Brief returns the best-rated card whose card_key or url equals id.
func (c *Catalog) Brief(ctx context.Context, id string) (Brief, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Brief{}, ErrNotFound
	}
	rows, err := c.query(ctx, fmt.Sprintf(`SELECT %s FROM %s
		WHERE CAST(card_key AS TEXT) = ? OR url = ?
		ORDER BY rating_year DESC, rating_points DESC, harvest_year DESC
		LIMIT 1`, briefColumns, c.table), id, id)
	if err != nil {
		return Brief{}, fmt.Errorf("reading brief %q: %w", id, err)
	}
	if len(rows) == 0 {
		return Brief{}, ErrNotFound
	}
	r := rows[0]
	return Brief{
		CardKey:  Text(r["card_key"]),
		Name:     Text(r["wine_name"]),
		Producer: Text(r["producer"]),
		Year:     Text(r["harvest_year"]),
		Region:   Text(r["region"]),
		URL:      Text(r["url"]),
	}, nil
}

// ResolveIDByName finds the card_key of the best-rated card with exactly this
// name, optionally narrowed by producer and a numeric year. Names compare
// case-insensitively in Go since sqlite's LOWER only folds ASCII.
func (c *Catalog) ResolveIDByName(ctx context.Context, name, producer, year string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNotFound
	}
	producer = strings.TrimSpace(producer)
	year = strings.TrimSpace(year)
	if _, err := strconv.Atoi(year); err != nil {
		year = ""
	}

	q := fmt.Sprintf(`SELECT card_key, wine_name, producer, harvest_year FROM %s
		WHERE wine_name IS NOT NULL
		ORDER BY rating_year DESC, rating_points DESC`, c.table)
	var id string
	err := c.each(ctx, q, nil, func(r Row) bool {
		if !strings.EqualFold(Text(r["wine_name"]), name) {
			return true
		}
		if producer != "" && !strings.EqualFold(Text(r["producer"]), producer) {
			return true
		}
		if year != "" && Text(r["harvest_year"]) != year {
			return true
		}
		id = Text(r["card_key"])
		return false
	})
	if err != nil {
		return "", fmt.Errorf("resolving wine %q: %w", name, err)
	}
	if id == "" {
		return "", ErrNotFound
	}
	return id, nil
}

var referenceToken = regexp.MustCompile(`[0-9a-zа-яё]+`)

func tokenize(ref string) []string {
	var out []string
	for _, t := range referenceToken.FindAllString(strings.ToLower(ref), -1) {
		if utf8.RuneCountInString(t) >= 2 {
			out = append(out, t)
		}
	}
	return out
}

// SearchByText finds cards whose name, producer or title contain every token
// of ref (at most 8 tokens), best rated first. limit is clamped to 1..50.
func (c *Catalog) SearchByText(ctx context.Context, ref string, limit int) ([]Row, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	tokens := tokenize(ref)
	if len(tokens) == 0 {
		tokens = []string{strings.ToLower(ref)}
	}
	if len(tokens) > 8 {
		tokens = tokens[:8]
	}
	limit = max(1, min(limit, 50))

	q := fmt.Sprintf(`SELECT %s, title FROM %s
		ORDER BY rating_year DESC, rating_points DESC, harvest_year DESC`, briefColumns, c.table)
	var out []Row
	err := c.each(ctx, q, nil, func(r Row) bool {
		hay := strings.ToLower(Text(r["wine_name"]) + " " + Text(r["producer"]) + " " + Text(r["title"]))
		for _, t := range tokens {
			if !strings.Contains(hay, t) {
				return true
			}
		}
		delete(r, "title")
		out = append(out, r)
		return len(out) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("searching wines: %w", err)
	}
	return out, nil
}

// Text renders a scanned column value as trimmed text. Whole floats lose
// their fractional part so that 2019.0 and 2019 compare equal.
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case []byte:
		return strings.TrimSpace(string(x))
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store keeps public likes and notes in SQLite.
type Store struct {
	db      *sql.DB
	checker Checker
	path    string
	now     func() time.Time
}

// Open opens (or creates) the records database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
// checker validates wine ids on write.
func Open(dataDir string, checker Checker) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "public_records.sqlite")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection keeps writes serialized and makes ":memory:" one database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, checker: checker, path: dsn, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path, or ":memory:".
func (s *Store) Path() string { return s.path }

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Public records ---

// NormalizeType lower-cases and checks a record type.
func NormalizeType(recordType string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(recordType))
	if t != TypeLike && t != TypeNote {
		return "", &RecordError{Message: "record_type должен быть 'like' или 'note'."}
	}
	return t, nil
}

// NormalizeUser falls back to DefaultUser for blank identities.
func NormalizeUser(user string) string {
	if u := strings.TrimSpace(user); u != "" {
		return u
	}
	return DefaultUser
}

func (s *Store) checkWine(ctx context.Context, wineID string) (string, error) {
	id := strings.TrimSpace(wineID)
	if id == "" {
		return "", &RecordError{Message: "wine_id обязателен."}
	}
	if s.checker == nil {
		return id, nil
	}
	ok, err := s.checker.Exists(ctx, id)
	if err != nil {
		return "", fmt.Errorf("checking wine %q: %w", id, err)
	}
	if !ok {
		return "", &RecordError{Message: fmt.Sprintf("wine_id не найден в каталоге %s.", catalogTable(s.checker))}
	}
	return id, nil
}

// AddRecord stores a like or a note for wineID. Likes without content get LikeContent.
func (s *Store) AddRecord(ctx context.Context, user, recordType, content, wineID string) (Record, error) {
	u := NormalizeUser(user)
	t, err := NormalizeType(recordType)
	if err != nil {
		return Record{}, err
	}
	text := strings.TrimSpace(content)
	id, err := s.checkWine(ctx, wineID)
	if err != nil {
		return Record{}, err
	}
	if t == TypeNote && text == "" {
		return Record{}, &RecordError{Message: "Для record_type='note' поле content обязательно."}
	}
	if t == TypeLike && text == "" {
		text = LikeContent
	}

	created := s.now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO public_records (user, record_type, content, wine_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u, t, text, id, created.Format(time.RFC3339),
	)
	if err != nil {
		return Record{}, fmt.Errorf("inserting record: %w", err)
	}
	recID, err := res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("reading record id: %w", err)
	}
	return s.GetRecord(ctx, recID)
}

// GetRecord returns a record by id.
func (s *Store) GetRecord(ctx context.Context, id int64) (Record, error) {
	rows, err := s.list(ctx, "WHERE id = ?", []any{id})
	if err != nil {
		return Record{}, err
	}
	if len(rows) == 0 {
		return Record{}, ErrNotFound
	}
	return rows[0], nil
}

// ListRecords returns records matching f, newest first.
func (s *Store) ListRecords(ctx context.Context, f Filter) ([]Record, error) {
	var clauses []string
	var args []any
	if v := strings.TrimSpace(f.WineID); v != "" {
		clauses = append(clauses, "wine_id = ?")
		args = append(args, v)
	}
	if strings.TrimSpace(f.RecordType) != "" {
		t, err := NormalizeType(f.RecordType)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, "record_type = ?")
		args = append(args, t)
	}
	if v := strings.TrimSpace(f.User); v != "" {
		clauses = append(clauses, "user = ?")
		args = append(args, v)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	return s.list(ctx, where, args)
}

func (s *Store) list(ctx context.Context, where string, args []any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user, record_type, content, wine_id, created_at
		FROM public_records `+where+`
		ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var createdAt string
		if err := rows.Scan(&r.ID, &r.User, &r.RecordType, &r.Content, &r.WineID, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary counts likes and notes of a catalog wine.
func (s *Store) Summary(ctx context.Context, wineID string) (Summary, error) {
	id, err := s.checkWine(ctx, wineID)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{WineID: id}
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN record_type = 'like' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN record_type = 'note' THEN 1 ELSE 0 END), 0)
		FROM public_records WHERE wine_id = ?`, id,
	).Scan(&sum.LikeCount, &sum.NoteCount)
	if err != nil {
		return Summary{}, fmt.Errorf("counting records: %w", err)
	}
	return sum, nil
}

// Package store persists style profiles, response rules and indexed
// documents in SQLite. It implements the profile and rule providers of the
// generation engine.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ChuLiYu/replydraft/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// GlobalUser owns rules that apply to every user.
const GlobalUser = "*"

// ErrProfileNotFound is returned by GetProfile for users without a profile.
var ErrProfileNotFound = fmt.Errorf("style profile %w", types.ErrNotFound)

// Store wraps a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database in dataDir and applies pending
// migrations. ":memory:" opens a private in-memory database.
func Open(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "replydraft.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: an in-memory database is per connection and SQLite
	// serialises writers anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

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
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
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

// AppliedMigrations lists applied migration versions in ascending order.
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

// --- Style profiles ---

// SaveProfile inserts or replaces the profile of p.UserID.
func (s *Store) SaveProfile(ctx context.Context, p types.StyleProfile) error {
	if p.UserID == "" {
		return types.NewValidationError("user_id", "is required")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO style_profiles (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		p.UserID, string(data), p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving profile %s: %w", p.UserID, err)
	}
	return nil
}

// GetProfile returns the stored profile or ErrProfileNotFound.
func (s *Store) GetProfile(ctx context.Context, userID string) (types.StyleProfile, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM style_profiles WHERE user_id = ?", userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.StyleProfile{}, ErrProfileNotFound
	}
	if err != nil {
		return types.StyleProfile{}, fmt.Errorf("loading profile %s: %w", userID, err)
	}
	var p types.StyleProfile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return types.StyleProfile{}, fmt.Errorf("decoding profile %s: %w", userID, err)
	}
	return p, nil
}

// --- Response rules ---

// ReplaceRules atomically swaps the rule set of userID. GlobalUser holds
// rules shared by everyone.
func (s *Store) ReplaceRules(ctx context.Context, userID string, rules []types.ResponseRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rule update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM response_rules WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing rules of %s: %w", userID, err)
	}
	for i, r := range rules {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding rule %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO response_rules (user_id, rule_id, priority, position, data) VALUES (?, ?, ?, ?, ?)",
			userID, r.ID, r.Priority, i, string(data)); err != nil {
			return fmt.Errorf("saving rule %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// GetRules returns the user's own rules followed by the global rules, each
// group ordered by descending priority.
func (s *Store) GetRules(ctx context.Context, userID string) ([]types.ResponseRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM response_rules WHERE user_id IN (?, ?)
		ORDER BY CASE WHEN user_id = ? THEN 0 ELSE 1 END, priority DESC, position ASC`,
		userID, GlobalUser, userID)
	if err != nil {
		return nil, fmt.Errorf("loading rules of %s: %w", userID, err)
	}
	defer rows.Close()

	var rules []types.ResponseRule
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r types.ResponseRule
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("decoding rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// RuleOwners lists every user id that has rules, GlobalUser included.
func (s *Store) RuleOwners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT user_id FROM response_rules ORDER BY user_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

// --- Documents ---

// SaveDocuments upserts indexed documents so the retrieval index can be
// rebuilt after a restart.
func (s *Store) SaveDocuments(ctx context.Context, userID string, docs []types.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning document save: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(time.RFC3339Nano)
	for _, d := range docs {
		tags, err := json.Marshal(d.Tags)
		if err != nil {
			return fmt.Errorf("encoding tags of %s: %w", d.SourceID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (user_id, source_id, sender, thread_id, text, tags, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, source_id) DO UPDATE SET
				sender = excluded.sender, thread_id = excluded.thread_id, text = excluded.text,
				tags = excluded.tags, indexed_at = excluded.indexed_at`,
			userID, d.SourceID, d.Sender, d.ThreadID, d.Text, string(tags), now); err != nil {
			return fmt.Errorf("saving document %s: %w", d.SourceID, err)
		}
	}
	return tx.Commit()
}

// AllDocuments returns every stored document grouped by user.
func (s *Store) AllDocuments(ctx context.Context) (map[string][]types.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, source_id, sender, thread_id, text, tags FROM documents ORDER BY user_id, source_id")
	if err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]types.Document)
	for rows.Next() {
		var (
			userID, tags string
			d            types.Document
		)
		if err := rows.Scan(&userID, &d.SourceID, &d.Sender, &d.ThreadID, &d.Text, &tags); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags of %s: %w", d.SourceID, err)
		}
		out[userID] = append(out[userID], d)
	}
	return out, rows.Err()
}

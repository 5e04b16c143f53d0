package store

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/tally/internal/roster"
	"github.com/MikeSquared-Agency/tally/internal/settings"
)

// SQLite implements Store on a local database file.
type SQLite struct {
	db *sql.DB
}

// sqlitePragmas run on every pooled connection.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// NewSQLite opens the database at dsn in WAL mode.
func NewSQLite(dsn string) (*SQLite, error) {
	dsn, err := sqliteDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: connect")
	}
	return &SQLite{db: db}, nil
}

// sqliteDSN adds the connection pragmas as _pragma query parameters, keeping
// any the caller already set.
func sqliteDSN(dsn string) (string, error) {
	path, query, _ := strings.Cut(dsn, "?")
	q, err := url.ParseQuery(query)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: parse dsn query %q", query)
	}

	set := make(map[string]bool)
	for _, p := range q["_pragma"] {
		name, _, _ := strings.Cut(p, "(")
		set[strings.ToLower(strings.TrimSpace(name))] = true
	}
	params := []string{}
	if query != "" {
		params = append(params, query)
	}
	for _, p := range sqlitePragmas {
		name, _, _ := strings.Cut(p, "(")
		if !set[name] {
			params = append(params, "_pragma="+p)
		}
	}
	return path + "?" + strings.Join(params, "&"), nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS participants (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS activity_records (
	id             TEXT PRIMARY KEY,
	participant_id TEXT NOT NULL UNIQUE REFERENCES participants(id) ON DELETE CASCADE,
	is_active      BOOLEAN,
	hours          REAL,
	studies        REAL,
	comment        TEXT NOT NULL DEFAULT '',
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Participants() roster.Store { return sqliteParticipants{s.db} }

func (s *SQLite) Activity() roster.ActivityStore { return sqliteActivity{s.db} }

func (s *SQLite) Settings() settings.Store { return sqliteSettings{s.db} }

type sqliteParticipants struct{ db *sql.DB }

func (p sqliteParticipants) LoadAll(ctx context.Context) ([]roster.Participant, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, created_at FROM participants ORDER BY created_at, rowid`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query participants")
	}
	defer rows.Close()

	var out []roster.Participant
	for rows.Next() {
		var (
			pt roster.Participant
			id string
		)
		if err := rows.Scan(&id, &pt.Name, &pt.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan participant")
		}
		if pt.ID, err = uuid.Parse(id); err != nil {
			return nil, eris.Wrapf(err, "sqlite: participant id %q", id)
		}
		out = append(out, pt)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate participants")
}

func (p sqliteParticipants) Upsert(ctx context.Context, participants []roster.Participant) error {
	if len(participants) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, pt := range participants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO participants (id, name, created_at) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
			pt.ID.String(), pt.Name, pt.CreatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert participant %s", pt.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit participants")
}

func (p sqliteParticipants) Remove(ctx context.Context, id uuid.UUID) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM activity_records WHERE participant_id = ?`, id.String()); err != nil {
		return eris.Wrapf(err, "sqlite: delete records for %s", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE id = ?`, id.String()); err != nil {
		return eris.Wrapf(err, "sqlite: delete participant %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit remove")
}

type sqliteActivity struct{ db *sql.DB }

func (a sqliteActivity) LoadAll(ctx context.Context) ([]roster.ActivityRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, participant_id, is_active, hours, studies, comment, updated_at
		FROM activity_records ORDER BY updated_at, rowid`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query activity")
	}
	defer rows.Close()

	var out []roster.ActivityRecord
	for rows.Next() {
		var (
			r              roster.ActivityRecord
			id, pid        string
			active         sql.NullBool
			hours, studies sql.NullFloat64
			updated        time.Time
		)
		if err := rows.Scan(&id, &pid, &active, &hours, &studies, &r.Comment, &updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan activity")
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, eris.Wrapf(err, "sqlite: record id %q", id)
		}
		if r.ParticipantID, err = uuid.Parse(pid); err != nil {
			return nil, eris.Wrapf(err, "sqlite: participant id %q", pid)
		}
		if active.Valid {
			r.IsActive = &active.Bool
		}
		if hours.Valid {
			r.Hours = &hours.Float64
		}
		if studies.Valid {
			r.Studies = &studies.Float64
		}
		r.UpdatedAt = updated
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate activity")
}

func (a sqliteActivity) UpsertByParticipant(ctx context.Context, r roster.ActivityRecord) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO activity_records (id, participant_id, is_active, hours, studies, comment, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (participant_id) DO UPDATE SET
			is_active  = excluded.is_active,
			hours      = excluded.hours,
			studies    = excluded.studies,
			comment    = excluded.comment,
			updated_at = excluded.updated_at`,
		r.ID.String(), r.ParticipantID.String(), nullBool(r.IsActive), nullFloat(r.Hours), nullFloat(r.Studies), r.Comment, r.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert activity for %s", r.ParticipantID)
}

type sqliteSettings struct{ db *sql.DB }

func (s sqliteSettings) Load(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load setting %s", key)
	}
	return []byte(value), nil
}

func (s sqliteSettings) Save(ctx context.Context, key string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(blob),
	)
	return eris.Wrapf(err, "sqlite: save setting %s", key)
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

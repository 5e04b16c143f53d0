package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/MikeSquared-Agency/tally/internal/roster"
	"github.com/MikeSquared-Agency/tally/internal/settings"
)

// pool is the subset of *pgxpool.Pool the store uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

type Postgres struct {
	pool pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &Postgres{pool: p}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS participants (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS activity_records (
	id             UUID PRIMARY KEY,
	participant_id UUID NOT NULL UNIQUE REFERENCES participants(id) ON DELETE CASCADE,
	is_active      BOOLEAN,
	hours          DOUBLE PRECISION,
	studies        DOUBLE PRECISION,
	comment        TEXT NOT NULL DEFAULT '',
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) Participants() roster.Store { return pgParticipants{s.pool} }

func (s *Postgres) Activity() roster.ActivityStore { return pgActivity{s.pool} }

func (s *Postgres) Settings() settings.Store { return pgSettings{s.pool} }

type pgParticipants struct{ pool pool }

func (p pgParticipants) LoadAll(ctx context.Context) ([]roster.Participant, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, created_at FROM participants ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query participants")
	}
	defer rows.Close()

	var out []roster.Participant
	for rows.Next() {
		var pt roster.Participant
		if err := rows.Scan(&pt.ID, &pt.Name, &pt.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan participant")
		}
		out = append(out, pt)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate participants")
}

func (p pgParticipants) Upsert(ctx context.Context, participants []roster.Participant) error {
	if len(participants) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, pt := range participants {
		_, err := tx.Exec(ctx, `
			INSERT INTO participants (id, name, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
			pt.ID, pt.Name, pt.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert participant %s", pt.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit participants")
}

func (p pgParticipants) Remove(ctx context.Context, id uuid.UUID) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM activity_records WHERE participant_id = $1`, id); err != nil {
		return eris.Wrapf(err, "postgres: delete records for %s", id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM participants WHERE id = $1`, id); err != nil {
		return eris.Wrapf(err, "postgres: delete participant %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit remove")
}

type pgActivity struct{ pool pool }

func (a pgActivity) LoadAll(ctx context.Context) ([]roster.ActivityRecord, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, participant_id, is_active, hours, studies, comment, updated_at
		FROM activity_records ORDER BY updated_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query activity")
	}
	defer rows.Close()

	var out []roster.ActivityRecord
	for rows.Next() {
		var r roster.ActivityRecord
		if err := rows.Scan(&r.ID, &r.ParticipantID, &r.IsActive, &r.Hours, &r.Studies, &r.Comment, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan activity")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate activity")
}

// UpsertByParticipant replaces the participant's record, keeping the
// original row id.
func (a pgActivity) UpsertByParticipant(ctx context.Context, r roster.ActivityRecord) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO activity_records (id, participant_id, is_active, hours, studies, comment, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (participant_id) DO UPDATE SET
			is_active  = EXCLUDED.is_active,
			hours      = EXCLUDED.hours,
			studies    = EXCLUDED.studies,
			comment    = EXCLUDED.comment,
			updated_at = EXCLUDED.updated_at`,
		r.ID, r.ParticipantID, r.IsActive, r.Hours, r.Studies, r.Comment, r.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert activity for %s", r.ParticipantID)
}

type pgSettings struct{ pool pool }

func (s pgSettings) Load(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load setting %s", key)
	}
	return []byte(value), nil
}

func (s pgSettings) Save(ctx context.Context, key string, blob []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, string(blob),
	)
	return eris.Wrapf(err, "postgres: save setting %s", key)
}

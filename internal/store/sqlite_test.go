package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/tally/internal/provider"
	"github.com/MikeSquared-Agency/tally/internal/roster"
	"github.com/MikeSquared-Agency/tally/internal/settings"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }
func at(minute int) time.Time     { return time.Date(2026, 10, 1, 9, minute, 0, 0, time.UTC) }

func TestSQLite_Participants_UpsertAndLoad(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	kalle := roster.Participant{ID: uuid.New(), Name: "Kalle Johansson", CreatedAt: at(0)}
	anna := roster.Participant{ID: uuid.New(), Name: "Anna Dālberga", CreatedAt: at(1)}
	require.NoError(t, st.Participants().Upsert(ctx, []roster.Participant{kalle, anna}))

	got, err := st.Participants().LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, kalle.ID, got[0].ID)
	assert.Equal(t, "Anna Dālberga", got[1].Name)
	assert.True(t, got[0].CreatedAt.Equal(kalle.CreatedAt))

	kalle.Name = "Karl Johansson"
	require.NoError(t, st.Participants().Upsert(ctx, []roster.Participant{kalle}))
	got, err = st.Participants().LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Karl Johansson", got[0].Name)
}

func TestSQLite_Participants_EmptyUpsert(t *testing.T) {
	st := newTestSQLite(t)
	require.NoError(t, st.Participants().Upsert(context.Background(), nil))
}

func TestSQLite_Activity_UpsertByParticipant(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	p := roster.Participant{ID: uuid.New(), Name: "Kalle", CreatedAt: at(0)}
	require.NoError(t, st.Participants().Upsert(ctx, []roster.Participant{p}))

	first := roster.ActivityRecord{ID: uuid.New(), ParticipantID: p.ID, IsActive: boolPtr(true), Hours: floatPtr(10), Comment: "first", UpdatedAt: at(1)}
	require.NoError(t, st.Activity().UpsertByParticipant(ctx, first))

	second := roster.ActivityRecord{ID: uuid.New(), ParticipantID: p.ID, IsActive: boolPtr(false), Studies: floatPtr(2), Comment: "second", UpdatedAt: at(2)}
	require.NoError(t, st.Activity().UpsertByParticipant(ctx, second))

	recs, err := st.Activity().LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	assert.Equal(t, first.ID, r.ID, "row id survives the upsert")
	assert.Equal(t, p.ID, r.ParticipantID)
	require.NotNil(t, r.IsActive)
	assert.False(t, *r.IsActive)
	assert.Nil(t, r.Hours)
	require.NotNil(t, r.Studies)
	assert.Equal(t, 2.0, *r.Studies)
	assert.Equal(t, "second", r.Comment)
	assert.True(t, r.UpdatedAt.Equal(at(2)))
}

func TestSQLite_Remove(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	keep := roster.Participant{ID: uuid.New(), Name: "Keep", CreatedAt: at(0)}
	gone := roster.Participant{ID: uuid.New(), Name: "Gone", CreatedAt: at(1)}
	require.NoError(t, st.Participants().Upsert(ctx, []roster.Participant{keep, gone}))
	require.NoError(t, st.Activity().UpsertByParticipant(ctx, roster.ActivityRecord{ID: uuid.New(), ParticipantID: gone.ID, UpdatedAt: at(2)}))
	require.NoError(t, st.Activity().UpsertByParticipant(ctx, roster.ActivityRecord{ID: uuid.New(), ParticipantID: keep.ID, UpdatedAt: at(2)}))

	require.NoError(t, st.Participants().Remove(ctx, gone.ID))

	ps, err := st.Participants().LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, keep.ID, ps[0].ID)

	recs, err := st.Activity().LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, keep.ID, recs[0].ParticipantID)
}

func TestSQLite_Settings(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	blob, err := st.Settings().Load(ctx, settings.DefaultKey)
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, st.Settings().Save(ctx, settings.DefaultKey, []byte(`{"a":1}`)))
	require.NoError(t, st.Settings().Save(ctx, settings.DefaultKey, []byte(`{"a":2}`)))

	blob, err = st.Settings().Load(ctx, settings.DefaultKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(blob))
}

func TestSQLite_LegacySettingsMigrateOnce(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()
	reg := provider.NewRegistry()

	require.NoError(t, st.Settings().Save(ctx, settings.DefaultKey, []byte(`{"aiApiKey":"X","openaiEndpoint":"E"}`)))

	s, err := settings.Load(ctx, st.Settings(), settings.DefaultKey, reg)
	require.NoError(t, err)
	assert.Equal(t, "X", s.AIProvider.APIKey)

	blob, err := st.Settings().Load(ctx, settings.DefaultKey)
	require.NoError(t, err)
	_, migrated, err := settings.Migrate(blob, reg)
	require.NoError(t, err)
	assert.False(t, migrated)
}

func TestSQLite_PragmasOnEveryConnection(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)

	// Hold several connections at once so the pool has to open new ones.
	conns := make([]*sql.Conn, 3)
	for i := range conns {
		c, err := st.db.Conn(ctx)
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() }) //nolint:errcheck
		conns[i] = c
	}

	for i, c := range conns {
		var fk, timeout int
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		assert.Equal(t, 1, fk, "conn %d", i)
		assert.Equal(t, 5000, timeout, "conn %d", i)

		var mode string
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode, "conn %d", i)
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{
			name: "plain_path",
			dsn:  "tally.db",
			want: "tally.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		},
		{
			name: "caller_pragma_kept",
			dsn:  "tally.db?_pragma=busy_timeout(100)&_time_format=sqlite",
			want: "tally.db?_pragma=busy_timeout(100)&_time_format=sqlite&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sqliteDSN(tt.dsn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := sqliteDSN("tally.db?%zz")
	require.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	ps, err := st.Participants().LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps)

	_, err = Open(ctx, "oracle", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

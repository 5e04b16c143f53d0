package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/MikeSquared-Agency/tally/internal/roster"
	"github.com/MikeSquared-Agency/tally/internal/settings"
)

// Store bundles the roster, activity and settings collaborators behind one
// connection.
type Store interface {
	Participants() roster.Store
	Activity() roster.ActivityStore
	Settings() settings.Store

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the backend named by driver and migrates its schema.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch driver {
	case "postgres", "pgx":
		st, err = NewPostgres(ctx, dsn)
	case "sqlite", "sqlite3":
		st, err = NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

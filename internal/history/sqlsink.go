package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLSink appends events to the server_history table. The driver is
// registered by the caller (sqlite or postgres subpackage). The schema is
// created if missing.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
}

func OpenSQL(driver, dsn string, dialect Dialect) (*SQLSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty DSN for SQL history sink")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if dialect == DialectSQLite {
		// one connection keeps ":memory:" databases coherent and serializes writers
		db.SetMaxOpenConns(1)
	}
	s := &SQLSink{db: db, dialect: dialect}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	ts := "TIMESTAMP"
	if s.dialect == DialectPostgres {
		ts = "TIMESTAMPTZ"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS server_history(
			id TEXT PRIMARY KEY,
			occurred_at ` + ts + ` NOT NULL,
			event TEXT NOT NULL,
			server TEXT NOT NULL,
			pid INTEGER NOT NULL,
			player TEXT NOT NULL,
			identity TEXT NOT NULL,
			detail TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_server_history_event ON server_history(event);`,
		`CREATE INDEX IF NOT EXISTS idx_server_history_identity ON server_history(identity);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	q := `INSERT INTO server_history(id, occurred_at, event, server, pid, player, identity, detail)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`
	if s.dialect == DialectPostgres {
		q = `INSERT INTO server_history(id, occurred_at, event, server, pid, player, identity, detail)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8);`
	}
	_, err := s.db.ExecContext(ctx, q,
		e.ID, e.OccurredAt.UTC(), string(e.Type), e.Server, e.PID, e.Player, e.Identity, e.Detail)
	return err
}

// Count returns the number of stored events of type t, or of all types when
// t is empty.
func (s *SQLSink) Count(ctx context.Context, t EventType) (int, error) {
	var (
		n   int
		err error
	)
	switch {
	case t == "":
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM server_history`).Scan(&n)
	case s.dialect == DialectPostgres:
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM server_history WHERE event = $1`, string(t)).Scan(&n)
	default:
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM server_history WHERE event = ?`, string(t)).Scan(&n)
	}
	return n, err
}

func (s *SQLSink) Close() error { return s.db.Close() }

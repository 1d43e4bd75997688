// Package postgres stores records in PostgreSQL through a pgx pool,
// evaluating predicates in SQL
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/storage"
	"github.com/cyp0633/librecur/storage/sqlpred"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Migrate applies the embedded schema migrations
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	// goose works on *sql.DB
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Store implements storage.Store on a PostgreSQL table
type Store[D any] struct {
	pool   *pgxpool.Pool
	fields expr.Fields[D]
	logger *zap.Logger

	storage.Notifier
}

// New creates a store on pool, which must be migrated. A nil logger
// discards logs.
func New[D any](pool *pgxpool.Pool, fields expr.Fields[D], logger *zap.Logger) *Store[D] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store[D]{pool: pool, fields: fields, logger: logger.Named("postgres")}
}

func (s *Store[D]) Query(ctx context.Context, pred expr.Expr) ([]storage.Record[D], error) {
	where, args, err := sqlpred.Compile(pred, sqlpred.Postgres)
	if err != nil {
		return nil, storage.InvalidInput(err, "failed to compile predicate")
	}
	query := fmt.Sprintf("SELECT %s FROM %s %s WHERE %s ORDER BY %[3]s.type, %[3]s.effective_start, %[3]s.id",
		columns(sqlpred.Alias), sqlpred.Table, sqlpred.Alias, where)
	s.logger.Debug("query", zap.String("where", where), zap.Int("args", len(args)))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []storage.Record[D]
	for rows.Next() {
		var row sqlpred.Row
		if err := rows.Scan(row.Pointers()...); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := sqlpred.FromRow[D](row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return out, nil
}

func (s *Store[D]) Get(ctx context.Context, keys ...storage.RecordKey) ([]storage.Record[D], error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return s.Query(ctx, storage.PredicateForKeys(keys))
}

// Apply runs the changes in one transaction and notifies subscribers after
// it commits
func (s *Store[D]) Apply(ctx context.Context, changes []storage.Change[D]) error {
	if len(changes) == 0 {
		return nil
	}
	for _, c := range changes {
		if c.Op == storage.OpRemove {
			continue
		}
		if err := c.Record.Validate(); err != nil {
			return err
		}
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, c := range changes {
			if err := s.apply(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Notify(ctx)
	return nil
}

func (s *Store[D]) apply(ctx context.Context, tx pgx.Tx, c storage.Change[D]) error {
	key := c.Record.Key()
	switch c.Op {
	case storage.OpAdd:
		row, err := sqlpred.ToRow(c.Record, s.fields)
		if err != nil {
			return err
		}
		placeholders := make([]string, len(sqlpred.RowColumns))
		for i := range placeholders {
			placeholders[i] = sqlpred.Postgres.Placeholder(i + 1)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			sqlpred.Table, strings.Join(sqlpred.RowColumns, ", "), strings.Join(placeholders, ", "))
		if _, err := tx.Exec(ctx, query, row.Values()...); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return storage.AlreadyExists("record %s already exists", key)
			}
			return fmt.Errorf("insert %s: %w", key, err)
		}
		return nil

	case storage.OpUpdate:
		row, err := sqlpred.ToRow(c.Record, s.fields)
		if err != nil {
			return err
		}
		sets := make([]string, len(sqlpred.RowColumns))
		for i, col := range sqlpred.RowColumns {
			sets[i] = fmt.Sprintf("%s = %s", col, sqlpred.Postgres.Placeholder(i+1))
		}
		cond, condArgs := sqlpred.KeyCondition(key, sqlpred.Postgres, len(sets)+1)
		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", sqlpred.Table, strings.Join(sets, ", "), cond)
		tag, err := tx.Exec(ctx, query, append(row.Values(), condArgs...)...)
		if err != nil {
			return fmt.Errorf("update %s: %w", key, err)
		}
		if tag.RowsAffected() == 0 {
			return storage.NotFound("record %s not found", key)
		}
		return nil

	case storage.OpRemove:
		cond, args := sqlpred.KeyCondition(key, sqlpred.Postgres, 1)
		tag, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", sqlpred.Table, cond), args...)
		if err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		if tag.RowsAffected() == 0 {
			return storage.NotFound("record %s not found", key)
		}
		return nil
	}
	return storage.InvalidInput(nil, "unknown change op %d", int(c.Op))
}

func columns(alias string) string {
	qualified := make([]string, len(sqlpred.RowColumns))
	for i, col := range sqlpred.RowColumns {
		qualified[i] = alias + "." + col
	}
	return strings.Join(qualified, ", ")
}

var _ storage.Store[struct{}] = (*Store[struct{}])(nil)

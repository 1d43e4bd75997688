// Package sqlite stores records in a SQLite database through gorm,
// evaluating predicates in SQL
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/storage"
	"github.com/cyp0633/librecur/storage/sqlpred"
)

// Store implements storage.Store on a SQLite table
type Store[D any] struct {
	db     *gorm.DB
	fields expr.Fields[D]
	logger *zap.Logger

	storage.Notifier
}

// Open opens the database file at dsn, creating its directory, and migrates
// the record table. A nil logger discards logs.
func Open[D any](dsn string, fields expr.Fields[D], log *zap.Logger) (*Store[D], error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := ensureDir(dsn); err != nil {
		return nil, err
	}

	dbLogger := logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return New(db, fields, log)
}

// New creates a store on an open database and migrates the record table
func New[D any](db *gorm.DB, fields expr.Fields[D], log *zap.Logger) (*Store[D], error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := db.AutoMigrate(&sqlpred.Row{}); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return &Store[D]{db: db, fields: fields, logger: log.Named("sqlite")}, nil
}

// Close closes the underlying database
func (s *Store[D]) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store[D]) Query(ctx context.Context, pred expr.Expr) ([]storage.Record[D], error) {
	where, args, err := sqlpred.Compile(pred, sqlpred.SQLite)
	if err != nil {
		return nil, storage.InvalidInput(err, "failed to compile predicate")
	}
	s.logger.Debug("query", zap.String("where", where), zap.Int("args", len(args)))

	var rows []sqlpred.Row
	alias := sqlpred.Alias
	if err := s.db.WithContext(ctx).
		Table(sqlpred.Table+" "+alias).
		Select(alias+".*").
		Where(where, args...).
		Order(fmt.Sprintf("%[1]s.type, %[1]s.effective_start, %[1]s.id", alias)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	out := make([]storage.Record[D], 0, len(rows))
	for _, row := range rows {
		rec, err := sqlpred.FromRow[D](row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
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

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range changes {
			if err := s.apply(tx, c); err != nil {
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

func (s *Store[D]) apply(tx *gorm.DB, c storage.Change[D]) error {
	key := c.Record.Key()
	cond, args := sqlpred.KeyCondition(key, sqlpred.SQLite, 1)

	if c.Op == storage.OpRemove {
		res := tx.Where(cond, args...).Delete(&sqlpred.Row{})
		if res.Error != nil {
			return fmt.Errorf("delete %s: %w", key, res.Error)
		}
		if res.RowsAffected == 0 {
			return storage.NotFound("record %s not found", key)
		}
		return nil
	}

	row, err := sqlpred.ToRow(c.Record, s.fields)
	if err != nil {
		return err
	}
	var existing int64
	if err := tx.Model(&sqlpred.Row{}).Where(cond, args...).Count(&existing).Error; err != nil {
		return fmt.Errorf("look up %s: %w", key, err)
	}

	switch c.Op {
	case storage.OpAdd:
		if existing > 0 {
			return storage.AlreadyExists("record %s already exists", key)
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert %s: %w", key, err)
		}
	case storage.OpUpdate:
		if existing == 0 {
			return storage.NotFound("record %s not found", key)
		}
		if err := tx.Model(&sqlpred.Row{}).Where(cond, args...).Select("*").Updates(&row).Error; err != nil {
			return fmt.Errorf("update %s: %w", key, err)
		}
	default:
		return storage.InvalidInput(nil, "unknown change op %d", int(c.Op))
	}
	return nil
}

// ensureDir creates the parent directory of a database file
func ensureDir(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}

var _ storage.Store[struct{}] = (*Store[struct{}])(nil)

// Package sqlstore persists onboarding state in a SQL table through bun.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-onboarding/store"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// EntryModel is a single persisted key.
type EntryModel struct {
	bun.BaseModel `bun:"table:onboarding_entries,alias:oe"`

	Key       string    `bun:"entry_key,pk"`
	Value     string    `bun:"entry_value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// Store implements store.Store and store.Batcher on top of bun.
type Store struct {
	db  bun.IDB
	now func() time.Time
}

// New wraps an existing bun database (or transaction).
func New(db bun.IDB) *Store {
	return &Store{db: db, now: time.Now}
}

// OpenSQLite opens a SQLite database through sqliteshim and creates the
// entries table when missing.
func OpenSQLite(ctx context.Context, dsn string) (*Store, *bun.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, nil, store.Wrap("open", "", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, db, nil
}

// Migrate creates the entries table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*EntryModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return store.Wrap("migrate", "", err)
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	model := new(EntryModel)
	err := s.db.NewSelect().
		Model(model).
		Where("entry_key = ?", key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, store.Wrap("get", key, err)
	}
	return model.Value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return store.Wrap("set", key, s.upsert(ctx, s.db, key, value))
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return store.Wrap("remove", key, s.remove(ctx, s.db, key))
}

// Apply runs every op in a single transaction.
func (s *Store) Apply(ctx context.Context, ops ...store.Op) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, op := range ops {
			var err error
			if op.Delete {
				err = s.remove(ctx, tx, op.Key)
			} else {
				err = s.upsert(ctx, tx, op.Key, op.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return store.Wrap("apply", "", err)
}

func (s *Store) upsert(ctx context.Context, db bun.IDB, key, value string) error {
	model := &EntryModel{
		Key:       key,
		Value:     value,
		UpdatedAt: s.now(),
	}

	_, err := db.NewInsert().
		Model(model).
		On("CONFLICT (entry_key) DO UPDATE").
		Set("entry_value = EXCLUDED.entry_value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) remove(ctx context.Context, db bun.IDB, key string) error {
	_, err := db.NewDelete().
		Model((*EntryModel)(nil)).
		Where("entry_key = ?", key).
		Exec(ctx)
	return err
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Batcher = (*Store)(nil)
)

package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/store"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type Store struct {
	db        *sqlx.DB
	sales     *table[domain.Sale]
	inventory *table[domain.InventoryItem]
	shifts    *table[domain.Shift]
	movements *table[domain.CashMovement]
	activity  *table[domain.ActivityLog]
	users     *table[domain.UserAccount]
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:        db,
		sales:     &table[domain.Sale]{db: db, name: store.TableSales},
		inventory: &table[domain.InventoryItem]{db: db, name: store.TableInventory},
		shifts:    &table[domain.Shift]{db: db, name: store.TableShifts},
		movements: &table[domain.CashMovement]{db: db, name: store.TableCashMovements},
		activity:  &table[domain.ActivityLog]{db: db, name: store.TableActivity},
		users:     &table[domain.UserAccount]{db: db, name: store.TableUsers},
	}, nil
}

// Migrate applies the embedded schema migrations to databaseURL.
func Migrate(databaseURL string) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Sales() store.Table[domain.Sale]                 { return s.sales }
func (s *Store) Inventory() store.Table[domain.InventoryItem]    { return s.inventory }
func (s *Store) Shifts() store.Table[domain.Shift]               { return s.shifts }
func (s *Store) CashMovements() store.Table[domain.CashMovement] { return s.movements }
func (s *Store) Activity() store.Table[domain.ActivityLog]       { return s.activity }
func (s *Store) Users() store.Table[domain.UserAccount]          { return s.users }

// table keeps each record as one JSONB document keyed by its id. The
// name is always one of the store.Table* constants.
type table[T store.Record] struct {
	db   *sqlx.DB
	name string
}

type row struct {
	ID   string `db:"id"`
	Data []byte `db:"data"`
}

func (t *table[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	var r row
	err := t.db.GetContext(ctx, &r, `SELECT id, data FROM `+t.name+` WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return zero, err
	}
	return decode[T](r)
}

func (t *table[T]) GetAll(ctx context.Context) ([]T, error) {
	var rows []row
	if err := t.db.SelectContext(ctx, &rows, `SELECT id, data FROM `+t.name+` ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		record, err := decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

func (t *table[T]) Put(ctx context.Context, record T) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", t.name, record.RecordID(), err)
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO `+t.name+` (id, data, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, record.RecordID(), data)
	return err
}

func (t *table[T]) Add(ctx context.Context, record T) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", t.name, record.RecordID(), err)
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO `+t.name+` (id, data, created_at, updated_at)
		VALUES ($1, $2, now(), now())
	`, record.RecordID(), data)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrConflict, record.RecordID())
		}
		return err
	}
	return nil
}

func (t *table[T]) Delete(ctx context.Context, id string) error {
	res, err := t.db.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

func decode[T store.Record](r row) (T, error) {
	var record T
	if err := json.Unmarshal(r.Data, &record); err != nil {
		return record, fmt.Errorf("decode record %s: %w", r.ID, err)
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

package store

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

var (
	// ErrBusy is returned when a row lock cannot be granted immediately.
	// Callers treat it as "someone else is working on this resource" and retry later.
	ErrBusy = errors.New("resource is busy")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
)

const (
	pgLockNotAvailable   = "55P03"
	mysqlLockNowait      = 3572
	mysqlLockWaitTimeout = 1205
)

// IsBusy reports whether err means a lock could not be acquired.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// classify maps driver errors onto the store sentinel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && (mysqlErr.Number == mysqlLockNowait || mysqlErr.Number == mysqlLockWaitTimeout) {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}

	return err
}

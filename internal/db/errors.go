package db

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

var (
	// ErrDuplicate is a unique or primary-key constraint violation.
	ErrDuplicate = errors.New("db: duplicate key")
	// ErrForeignKey is a foreign-key constraint violation.
	ErrForeignKey = errors.New("db: foreign key violation")
	// ErrIntegrity is any other constraint violation.
	ErrIntegrity = errors.New("db: integrity violation")
)

// MySQL server error numbers.
const (
	mysqlDupEntry         = 1062
	mysqlNoReferencedRow  = 1216
	mysqlRowIsReferenced  = 1217
	mysqlNoReferencedRow2 = 1452
	mysqlRowIsReferenced2 = 1451
	mysqlBadNull          = 1048
	mysqlCheckViolated    = 3819
)

// Classify maps a storage error onto ErrDuplicate, ErrForeignKey or
// ErrIntegrity. Errors that are not constraint violations are returned as
// nil so callers can treat them as unexpected.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ErrForeignKey
	case errors.Is(err, gorm.ErrCheckConstraintViolated):
		return ErrIntegrity
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDupEntry:
			return ErrDuplicate
		case mysqlNoReferencedRow, mysqlNoReferencedRow2, mysqlRowIsReferenced, mysqlRowIsReferenced2:
			return ErrForeignKey
		case mysqlBadNull, mysqlCheckViolated:
			return ErrIntegrity
		}
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicate
		case "23503":
			return ErrForeignKey
		}
		// Remaining class 23 codes are integrity constraint violations.
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "23" {
			return ErrIntegrity
		}
		return nil
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code != sqlite3.ErrConstraint {
			return nil
		}
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrDuplicate
		case sqlite3.ErrConstraintForeignKey:
			return ErrForeignKey
		}
		return ErrIntegrity
	}

	return nil
}

// IsDuplicate reports whether err is a unique-constraint violation.
func IsDuplicate(err error) bool {
	return errors.Is(Classify(err), ErrDuplicate)
}

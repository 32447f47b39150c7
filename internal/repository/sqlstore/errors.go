package sqlstore

import (
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const pqUniqueViolation = "23505"

// errRoomGone is returned by lockRoom and mapped to domain errors by callers
var errRoomGone = errors.New("room row not found")

// IsUniqueViolation reports whether err is a unique constraint violation
// from either PostgreSQL or SQLite
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}

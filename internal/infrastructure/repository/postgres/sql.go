package postgres

import (
	"database/sql"
	"errors"
)

// isNotFound distinguishes an empty result from a real query failure;
// repositories translate it into a found=false return instead of an
// error.
func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

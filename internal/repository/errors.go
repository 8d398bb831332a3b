package repository

import (
	"errors"

	"github.com/lib/pq"
)

// ErrDuplicate は一意制約違反で行を作成できなかったことを表す。
var ErrDuplicate = errors.New("duplicate key")

// uniqueViolation はSQLSTATE 23505 (unique_violation)。
const uniqueViolation pq.ErrorCode = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

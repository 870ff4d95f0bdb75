package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"

	"content-batch-pipeline/internal/domain"
)

// mapPgError wraps constraint violations in the matching domain error and
// passes everything else through.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, pgErr.ConstraintName)
	case pgerrcode.ForeignKeyViolation, pgerrcode.NotNullViolation, pgerrcode.CheckViolation,
		pgerrcode.InvalidTextRepresentation:
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, pgErr.Message)
	}
	return err
}

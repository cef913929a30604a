package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for state store operations. Check with errors.Is.
var (
	// ErrJobNotFound indicates the requested job record does not exist
	// (possibly expired).
	ErrJobNotFound = errors.New("job not found")

	// ErrPhaseConflict indicates a compare-and-swap phase transition lost:
	// the record's current phase did not match the expected one. The caller
	// re-reads and decides; blindly retrying would break transition ordering.
	ErrPhaseConflict = errors.New("phase transition conflict")

	// ErrTransactionConflict indicates a SurrealDB transaction conflict from
	// concurrent writers touching the same record.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// wrapQueryError inspects a SurrealDB error and wraps it with the matching
// sentinel when it is a known query error type.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		if strings.Contains(queryErr.Message, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, queryErr.Message)
		}
	}

	return err
}

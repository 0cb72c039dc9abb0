package personperiod

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaMismatch is returned when the wide table lacks expected columns or
	// an occasion column is not numeric.
	ErrSchemaMismatch = errors.New("personperiod: schema mismatch")
	// ErrDuplicateSubject is returned when a subject id appears on more than one wide row.
	ErrDuplicateSubject = fmt.Errorf("%w: duplicate subject", ErrSchemaMismatch)
	// ErrUnmappedCategory is returned when an occasion label has no time index.
	ErrUnmappedCategory = errors.New("personperiod: unmapped occasion label")
	// ErrInvalidCoding is returned for an empty or non-bijective occasion list.
	ErrInvalidCoding = errors.New("personperiod: invalid time coding")
)

// UnmappedError names the first row whose occasion label could not be recoded.
type UnmappedError struct {
	Row   int
	Label string
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("personperiod: unmapped occasion label %q at row %d", e.Label, e.Row)
}

func (e *UnmappedError) Unwrap() error { return ErrUnmappedCategory }

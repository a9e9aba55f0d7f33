package publish

import (
	"errors"
	"fmt"
)

// ErrNotApproved is returned when publishing without an approved QA report.
var ErrNotApproved = errors.New("methodology not approved by QA")

// StoreError is a store failure that survived retries.
type StoreError struct {
	Collection string
	Op         string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("publish %s: %s: %v", e.Collection, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

package tracker

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when another process holds the lease for a region or
// for the rotation.
var ErrBusy = errors.New("lease held by another scrape")

// PersistError reports a failed store operation for one record.
type PersistError struct {
	ContractID string
	Op         string
	Err        error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ContractID, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

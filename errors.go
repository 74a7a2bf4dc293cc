package bloomgo

import (
	"errors"
	"fmt"
)

// ErrNotEmpty is returned by BulkAdd under the empty-bulk-add policy when
// the filter already holds members.
var ErrNotEmpty = errors.New("bloomgo: filter is not empty")

// ValidationError indicates invalid construction parameters. It is returned
// before any store access happens.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bloomgo: invalid %s: %s", e.Param, e.Reason)
}

// CapacityExceededError indicates an Add against a filter whose count has
// passed its capacity.
//
// The check runs before the key's novelty is known, so it fires even when
// the key is already a member and the call would not have changed anything.
type CapacityExceededError struct {
	Name     string
	Count    int64
	Capacity int64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("bloomgo: filter %q is at capacity (%d/%d)", e.Name, e.Count, e.Capacity)
}

// SizeOverflowError indicates a configuration whose bit array would exceed
// the addressable width of the store (2^32 bits).
type SizeOverflowError struct {
	Name    string
	NumBits uint64
}

func (e *SizeOverflowError) Error() string {
	return fmt.Sprintf("bloomgo: filter %q needs %d bits, exceeding the 2^32-bit store limit; lower the capacity or raise the error rate", e.Name, e.NumBits)
}

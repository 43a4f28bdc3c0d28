package source

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch is matched by errors.Is for every FetchError.
	ErrFetch = errors.New("source fetch failed")

	// ErrConnect is matched by errors.Is for every ConnectError.
	ErrConnect = errors.New("source connection failed")

	// ErrUnknownDriver indicates a driver name the source cannot open.
	ErrUnknownDriver = errors.New("unknown source driver")

	// ErrInvalidTable indicates a table name that is not a plain identifier.
	ErrInvalidTable = errors.New("invalid table name")
)

// FetchError wraps a query or scan failure with the page that was requested.
type FetchError struct {
	Offset int64
	Limit  int64
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch page at offset %d (limit %d): %v", e.Offset, e.Limit, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// ConnectError reports that the storage collaborator could not be reached at startup.
type ConnectError struct {
	Driver string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s source: %v", e.Driver, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool { return target == ErrConnect }

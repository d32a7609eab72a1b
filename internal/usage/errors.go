package usage

import (
	"errors"
	"fmt"
)

// ErrorKind classifies fetch failures for the presentation layer.
type ErrorKind string

const (
	KindTokenExpired ErrorKind = "token_expired"
	KindRateLimited  ErrorKind = "rate_limited"
	KindNetwork      ErrorKind = "network"
	KindOther        ErrorKind = "other"
)

// FetchError is returned by Client.Fetch for every failure.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int // zero when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("usage fetch failed (%s, HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("usage fetch failed (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a fetch error, or KindOther for anything else.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindOther
}
